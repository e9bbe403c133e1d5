package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/utils"
)

const (
	sidebarCacheKey = "blog:sidebar"
	sidebarCacheTTL = 2 * time.Hour
)

// ContentOptions carries the tunables of ContentService.
type ContentOptions struct {
	TopPosts int
	TopTags  int
}

// ContentService stores posts, tags and comments.
type ContentService struct {
	db    *gorm.DB
	cache *utils.Cache
	log   *zap.Logger
	opts  ContentOptions
	now   func() time.Time
}

func NewContentService(db *gorm.DB, cache *utils.Cache, log *zap.Logger, opts ContentOptions) *ContentService {
	if opts.TopPosts <= 0 {
		opts.TopPosts = 5
	}
	if opts.TopTags <= 0 {
		opts.TopTags = 5
	}
	return &ContentService{db: db, cache: cache, log: log, opts: opts, now: time.Now}
}

// WithClock replaces the clock used for default publish dates.
func (s *ContentService) WithClock(now func() time.Time) *ContentService {
	s.now = now
	return s
}

// PostInput is the data of a new post.
type PostInput struct {
	Title       string
	Text        string
	Tags        []string
	PublishDate time.Time
}

// PostPatch updates the non-nil fields of a post.
type PostPatch struct {
	Title *string
	Text  *string
	Tags  *[]string
}

// CreatePost stores a post owned by owner; PublishDate defaults to now.
func (s *ContentService) CreatePost(ctx context.Context, owner *models.User, in PostInput) (*models.Post, error) {
	if err := Authorize(owner, CanWrite(owner)); err != nil {
		return nil, err
	}
	title := utils.StripTags(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("%w: post does not have a body", ErrInvalidInput)
	}
	post := &models.Post{
		UserID:      owner.ID,
		Title:       title,
		Text:        in.Text,
		PublishDate: in.PublishDate,
	}
	if post.PublishDate.IsZero() {
		post.PublishDate = s.now()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tags, err := AttachTags(tx, in.Tags)
		if err != nil {
			return err
		}
		post.Tags = tags
		return tx.Create(post).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	post.User = *owner
	s.invalidate(ctx)
	return post, nil
}

// UpdatePost applies patch when actor owns the post or is an admin.
func (s *ContentService) UpdatePost(ctx context.Context, actor *models.User, id uint, patch PostPatch) (*models.Post, error) {
	post, err := s.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, OwnerOrAdmin(actor, post.UserID)); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if patch.Title != nil {
		title := utils.StripTags(*patch.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
		}
		updates["title"] = title
	}
	if patch.Text != nil {
		if strings.TrimSpace(*patch.Text) == "" {
			return nil, fmt.Errorf("%w: post does not have a body", ErrInvalidInput)
		}
		updates["text"] = *patch.Text
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(&models.Post{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return err
			}
		}
		if patch.Tags != nil {
			tags, err := AttachTags(tx, *patch.Tags)
			if err != nil {
				return err
			}
			if err := tx.Model(post).Association("Tags").Replace(tags); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update post %d: %w", id, err)
	}
	s.invalidate(ctx)
	return s.GetPost(ctx, id)
}

// DeletePost removes a post with its comments and tag links when actor owns it or is an admin.
func (s *ContentService) DeletePost(ctx context.Context, actor *models.User, id uint) error {
	post, err := s.GetPost(ctx, id)
	if err != nil {
		return err
	}
	if err := Authorize(actor, OwnerOrAdmin(actor, post.UserID)); err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM posts_tags WHERE post_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Post{}, id).Error
	})
	if err != nil {
		return fmt.Errorf("delete post %d: %w", id, err)
	}
	s.invalidate(ctx)
	return nil
}

// GetPost loads a post with author and tags.
func (s *ContentService) GetPost(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).Preload("User").Preload("Tags").First(&post, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &post, nil
}

func (s *ContentService) postQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Post{}).
		Preload("User").Preload("Tags").
		Order("posts.publish_date DESC, posts.id DESC")
}

// ListPosts pages through every post, newest first.
func (s *ContentService) ListPosts(ctx context.Context, page, perPage int) (Page[models.Post], error) {
	return paginate[models.Post](s.postQuery(ctx), page, perPage)
}

// ListUserPosts pages through the posts of one author.
func (s *ContentService) ListUserPosts(ctx context.Context, userID uint, page, perPage int) (Page[models.Post], error) {
	return paginate[models.Post](s.postQuery(ctx).Where("posts.user_id = ?", userID), page, perPage)
}

// ListTagPosts pages through posts carrying the tag whose title matches ignoring case.
func (s *ContentService) ListTagPosts(ctx context.Context, title string, page, perPage int) (*models.Tag, Page[models.Post], error) {
	tag, err := s.findTag(s.db.WithContext(ctx), title)
	if err != nil {
		return nil, Page[models.Post]{}, err
	}
	q := s.postQuery(ctx).
		Joins("JOIN posts_tags ON posts_tags.post_id = posts.id").
		Where("posts_tags.tag_id = ?", tag.ID)
	p, err := paginate[models.Post](q, page, perPage)
	return tag, p, err
}

// PostCount is the number of posts written by userID.
func (s *ContentService) PostCount(ctx context.Context, userID uint) int64 {
	var n int64
	s.db.WithContext(ctx).Model(&models.Post{}).Where("user_id = ?", userID).Count(&n)
	return n
}

// CommentCounts returns the number of comments of each listed post.
func (s *ContentService) CommentCounts(ctx context.Context, postIDs []uint) map[uint]int64 {
	counts := make(map[uint]int64, len(postIDs))
	if len(postIDs) == 0 {
		return counts
	}
	var rows []struct {
		PostID uint
		N      int64
	}
	s.db.WithContext(ctx).Model(&models.Comment{}).
		Select("post_id, COUNT(*) AS n").
		Where("post_id IN ?", postIDs).
		Group("post_id").
		Scan(&rows)
	for _, r := range rows {
		counts[r.PostID] = r.N
	}
	return counts
}

func normalizeTagTitles(names []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.Join(strings.Fields(utils.StripTags(name)), " ")
		key := models.TagKey(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}

func (s *ContentService) findTag(db *gorm.DB, title string) (*models.Tag, error) {
	var tag models.Tag
	err := db.Where("title_key = ?", models.TagKey(utils.StripTags(title))).First(&tag).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &tag, nil
}

// AttachTags resolves names to tags, reusing an existing tag whose title matches ignoring case
// and whitespace runs and creating the rest. The first spelling seen is kept.
func AttachTags(tx *gorm.DB, names []string) ([]models.Tag, error) {
	titles := normalizeTagTitles(names)
	tags := make([]models.Tag, 0, len(titles))
	for _, title := range titles {
		var tag models.Tag
		err := tx.Where(models.Tag{TitleKey: models.TagKey(title)}).
			Attrs(models.Tag{Title: title}).
			FirstOrCreate(&tag).Error
		if err != nil {
			return nil, fmt.Errorf("attach tag %q: %w", title, err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// CommentInput is the data of a new comment.
type CommentInput struct {
	Name string
	Text string
}

// AddComment attaches a comment by actor to a post.
func (s *ContentService) AddComment(ctx context.Context, actor *models.User, postID uint, in CommentInput) (*models.Comment, error) {
	if actor == nil {
		return nil, ErrUnauthorized
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: comment does not have a body", ErrInvalidInput)
	}
	name := utils.StripTags(in.Name)
	if name == "" {
		name = actor.Username
	}
	if _, err := s.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	comment := &models.Comment{
		PostID: postID,
		UserID: actor.ID,
		Name:   name,
		Text:   text,
		Date:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	comment.User = *actor
	return comment, nil
}

// DeleteComment removes a comment when actor wrote it or is an admin.
func (s *ContentService) DeleteComment(ctx context.Context, actor *models.User, id uint) error {
	comment, err := s.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if err := Authorize(actor, OwnerOrAdmin(actor, comment.UserID)); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&models.Comment{}, id).Error
}

// GetComment loads a comment with its author.
func (s *ContentService) GetComment(ctx context.Context, id uint) (*models.Comment, error) {
	var c models.Comment
	if err := s.db.WithContext(ctx).Preload("User").First(&c, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListComments pages through every comment, newest first.
func (s *ContentService) ListComments(ctx context.Context, page, perPage int) (Page[models.Comment], error) {
	q := s.db.WithContext(ctx).Model(&models.Comment{}).Preload("User").Order("date DESC, id DESC")
	return paginate[models.Comment](q, page, perPage)
}

// ListPostComments pages through the comments of a post, oldest first.
func (s *ContentService) ListPostComments(ctx context.Context, postID uint, page, perPage int) (Page[models.Comment], error) {
	if _, err := s.GetPost(ctx, postID); err != nil {
		return Page[models.Comment]{}, err
	}
	q := s.db.WithContext(ctx).Model(&models.Comment{}).Preload("User").
		Where("post_id = ?", postID).Order("date ASC, id ASC")
	return paginate[models.Comment](q, page, perPage)
}

// SidebarPost is a recent post as shown in the sidebar.
type SidebarPost struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	PublishDate time.Time `json:"publish_date"`
}

// TagUsage is a tag with the number of posts carrying it.
type TagUsage struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
	Posts int64  `json:"posts"`
}

// Sidebar is the recent posts and most used tags block.
type Sidebar struct {
	Recent []SidebarPost `json:"recent"`
	Tags   []TagUsage    `json:"tags"`
}

// Sidebar returns the cached sidebar, rebuilding it after post writes.
func (s *ContentService) Sidebar(ctx context.Context) (Sidebar, error) {
	var sb Sidebar
	if s.cache.GetJSON(ctx, sidebarCacheKey, &sb) {
		return sb, nil
	}
	db := s.db.WithContext(ctx)
	sb.Recent = []SidebarPost{}
	if err := db.Model(&models.Post{}).Select("id, title, publish_date").
		Order("publish_date DESC, id DESC").Limit(s.opts.TopPosts).Scan(&sb.Recent).Error; err != nil {
		return sb, err
	}
	sb.Tags = []TagUsage{}
	if err := db.Table("tags").
		Select("tags.id AS id, tags.title AS title, COUNT(posts_tags.post_id) AS posts").
		Joins("JOIN posts_tags ON posts_tags.tag_id = tags.id").
		Group("tags.id, tags.title").
		Order("posts DESC, tags.id ASC").
		Limit(s.opts.TopTags).
		Scan(&sb.Tags).Error; err != nil {
		return sb, err
	}
	s.cache.SetJSON(ctx, sidebarCacheKey, sb, sidebarCacheTTL)
	return sb, nil
}

// WeeklyPosts returns the posts published in the ISO week containing now, oldest first.
func (s *ContentService) WeeklyPosts(ctx context.Context, now time.Time) ([]models.Post, error) {
	start, end := utils.WeekBounds(now)
	var posts []models.Post
	err := s.db.WithContext(ctx).Preload("User").Preload("Tags").
		Where("publish_date >= ? AND publish_date < ?", start, end).
		Order("publish_date ASC, id ASC").
		Find(&posts).Error
	return posts, err
}

func (s *ContentService) invalidate(ctx context.Context) {
	s.cache.InvalidateByPrefix(ctx, sidebarCacheKey)
}
