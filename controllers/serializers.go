package controllers

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

const apiPrefix = "/api/v1.0"

// urlBuilder resolves REST resource links for one request.
type urlBuilder struct {
	ctx  *gin.Context
	base string
}

func (b urlBuilder) abs(path string) string { return siteURL(b.ctx, b.base, path) }

func (b urlBuilder) post(id uint) string    { return b.abs(fmt.Sprintf("%s/posts/%d", apiPrefix, id)) }
func (b urlBuilder) comment(id uint) string { return b.abs(fmt.Sprintf("%s/comments/%d", apiPrefix, id)) }
func (b urlBuilder) user(id uint) string    { return b.abs(fmt.Sprintf("%s/users/%d", apiPrefix, id)) }

// page returns the current request URL with page replaced, or nil when there is no such page.
func (b urlBuilder) page(ok bool, num int) *string {
	if !ok {
		return nil
	}
	q := url.Values{}
	for k, v := range b.ctx.Request.URL.Query() {
		q[k] = v
	}
	q.Set("page", strconv.Itoa(num))
	link := b.abs(b.ctx.Request.URL.Path + "?" + q.Encode())
	return &link
}

type postJSON struct {
	URL          string    `json:"url"`
	ID           uint      `json:"id"`
	Title        string    `json:"title"`
	Text         string    `json:"text"`
	BodyHTML     string    `json:"body_html"`
	PublishDate  time.Time `json:"publish_date"`
	Author       string    `json:"author"`
	AuthorURL    string    `json:"author_url"`
	Tags         []string  `json:"tags"`
	CommentsURL  string    `json:"comments_url"`
	CommentCount int64     `json:"comment_count"`
}

func (b urlBuilder) postJSON(p models.Post, comments int64) postJSON {
	tags := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		tags = append(tags, t.Title)
	}
	return postJSON{
		URL:          b.post(p.ID),
		ID:           p.ID,
		Title:        p.Title,
		Text:         p.Text,
		BodyHTML:     utils.RenderMarkdown(p.Text),
		PublishDate:  p.PublishDate,
		Author:       p.User.Username,
		AuthorURL:    b.user(p.UserID),
		Tags:         tags,
		CommentsURL:  b.post(p.ID) + "/comments",
		CommentCount: comments,
	}
}

func (b urlBuilder) postsJSON(posts []models.Post, counts map[uint]int64) []postJSON {
	out := make([]postJSON, 0, len(posts))
	for _, p := range posts {
		out = append(out, b.postJSON(p, counts[p.ID]))
	}
	return out
}

type commentJSON struct {
	URL       string    `json:"url"`
	ID        uint      `json:"id"`
	PostURL   string    `json:"post_url"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	BodyHTML  string    `json:"body_html"`
	Date      time.Time `json:"date"`
	AuthorURL string    `json:"author_url"`
}

func (b urlBuilder) commentJSON(c models.Comment) commentJSON {
	return commentJSON{
		URL:       b.comment(c.ID),
		ID:        c.ID,
		PostURL:   b.post(c.PostID),
		Name:      c.Name,
		Text:      c.Text,
		BodyHTML:  utils.RenderMarkdown(c.Text),
		Date:      c.Date,
		AuthorURL: b.user(c.UserID),
	}
}

func (b urlBuilder) commentsJSON(comments []models.Comment) []commentJSON {
	out := make([]commentJSON, 0, len(comments))
	for _, c := range comments {
		out = append(out, b.commentJSON(c))
	}
	return out
}

type userJSON struct {
	URL              string    `json:"url"`
	ID               uint      `json:"id"`
	Username         string    `json:"username"`
	MemberSince      time.Time `json:"member_since"`
	LastSeen         time.Time `json:"last_seen"`
	PostsURL         string    `json:"posts_url"`
	FollowedPostsURL string    `json:"followed_posts_url"`
	PostCount        int64     `json:"post_count"`
	AvatarURL        string    `json:"avatar_url"`
}

func (b urlBuilder) userJSON(u models.User, postCount int64) userJSON {
	return userJSON{
		URL:              b.user(u.ID),
		ID:               u.ID,
		Username:         u.Username,
		MemberSince:      u.MemberSince,
		LastSeen:         u.LastSeen,
		PostsURL:         b.user(u.ID) + "/posts",
		FollowedPostsURL: b.user(u.ID) + "/timeline",
		PostCount:        postCount,
		AvatarURL:        utils.GravatarURL(u.AvatarHash, 100),
	}
}

type followJSON struct {
	Username  string    `json:"username"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// paginated is the REST collection envelope: items under key plus prev/next links and the total.
func paginated[T any, J any](b urlBuilder, key string, page services.Page[T], items []J) gin.H {
	return gin.H{
		key:     items,
		"prev":  b.page(page.HasPrev(), page.PrevNum()),
		"next":  b.page(page.HasNext(), page.NextNum()),
		"count": page.Total,
	}
}

// profileJSON is the browser-facing public profile.
func profileJSON(u models.User) gin.H {
	return gin.H{
		"id":           u.ID,
		"username":     u.Username,
		"name":         u.Name,
		"location":     u.Location,
		"about_me":     u.AboutMe,
		"about_html":   utils.RenderMarkdown(u.AboutMe),
		"member_since": u.MemberSince,
		"last_seen":    u.LastSeen,
		"avatar_url":   utils.GravatarURL(u.AvatarHash, 256),
		"confirmed":    u.Confirmed,
	}
}

// sessionUserJSON adds private fields for the logged in owner.
func sessionUserJSON(u models.User) gin.H {
	h := profileJSON(u)
	h["email"] = u.Email
	roles := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, r.Name)
	}
	h["roles"] = roles
	h["is_admin"] = services.IsAdmin(&u)
	return h
}
