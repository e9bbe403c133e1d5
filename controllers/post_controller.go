package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/middleware"
	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/tasks"
	"github.com/cppla/aiblog/utils"
)

const showFollowedCookie = "show_followed"

// BlogDeps groups what BlogController needs.
type BlogDeps struct {
	Config   config.AppConfig
	Accounts *services.AccountService
	Content  *services.ContentService
	Follows  *services.FollowService
	Tasks    tasks.Enqueuer
	Log      *zap.Logger
	Now      func() time.Time
}

// BlogController serves the browser pages as JSON documents.
type BlogController struct {
	BlogDeps
}

func NewBlogController(deps BlogDeps) *BlogController {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &BlogController{BlogDeps: deps}
}

type postRequest struct {
	Title string   `json:"title" binding:"required,max=255"`
	Text  string   `json:"text" binding:"required"`
	Tags  []string `json:"tags" binding:"max=20,dive,max=64"`
}

type commentRequest struct {
	Name string `json:"name" binding:"max=64"`
	Text string `json:"text" binding:"required"`
}

func postSummary(p models.Post, comments int64) gin.H {
	tags := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		tags = append(tags, t.Title)
	}
	return gin.H{
		"id":            p.ID,
		"title":         p.Title,
		"body_html":     utils.RenderMarkdown(p.Text),
		"publish_date":  p.PublishDate,
		"author":        p.User.Username,
		"author_avatar": utils.GravatarURL(p.User.AvatarHash, 40),
		"tags":          tags,
		"comment_count": comments,
	}
}

func (b *BlogController) postList(ctx *gin.Context, res services.Page[models.Post]) gin.H {
	counts := b.Content.CommentCounts(ctx.Request.Context(), postIDs(res.Items))
	items := make([]gin.H, 0, len(res.Items))
	for _, p := range res.Items {
		items = append(items, postSummary(p, counts[p.ID]))
	}
	return gin.H{"items": items, "pagination": pagination(res)}
}

func pagination[T any](p services.Page[T]) gin.H {
	return gin.H{
		"page":     p.Page,
		"per_page": p.PerPage,
		"pages":    p.Pages(),
		"total":    p.Total,
		"prev_num": p.PrevNum(),
		"next_num": p.NextNum(),
	}
}

// Home lists every post, or only followed authors when the show_followed cookie is set.
func (b *BlogController) Home(ctx *gin.Context) {
	page, perPage := parsePagination(ctx, b.Config.PostsPerPage)
	user := middleware.CurrentUser(ctx)
	showFollowed := false
	if user != nil {
		if v, err := ctx.Cookie(showFollowedCookie); err == nil && v == "1" {
			showFollowed = true
		}
	}
	var (
		res services.Page[models.Post]
		err error
	)
	if showFollowed {
		res, err = b.Follows.FollowingPosts(ctx.Request.Context(), user.ID, page, perPage)
	} else {
		res, err = b.Content.ListPosts(ctx.Request.Context(), page, perPage)
	}
	if err != nil {
		webFail(ctx, err)
		return
	}
	sidebar, err := b.Content.Sidebar(ctx.Request.Context())
	if err != nil {
		b.Log.Warn("sidebar", zap.Error(err))
	}
	data := b.postList(ctx, res)
	data["show_followed"] = showFollowed
	data["sidebar"] = sidebar
	utils.Success(ctx, data)
}

// ShowAll switches the home page to every post.
func (b *BlogController) ShowAll(ctx *gin.Context) {
	ctx.SetCookie(showFollowedCookie, "", 30*24*3600, "/", "", false, true)
	utils.Success(ctx, gin.H{"show_followed": false})
}

// ShowFollowed switches the home page to followed authors.
func (b *BlogController) ShowFollowed(ctx *gin.Context) {
	ctx.SetCookie(showFollowedCookie, "1", 30*24*3600, "/", "", false, true)
	utils.Success(ctx, gin.H{"show_followed": true})
}

// Post shows one post with a page of its comments; page=-1 jumps to the last page.
func (b *BlogController) Post(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusNotFound, 40401, "not found")
		return
	}
	c := ctx.Request.Context()
	post, err := b.Content.GetPost(c, id)
	if err != nil {
		webFail(ctx, err)
		return
	}
	page, perPage := parsePagination(ctx, b.Config.CommentsPerPage)
	if ctx.Query("page") == "-1" {
		probe, err := b.Content.ListPostComments(c, id, 1, perPage)
		if err != nil {
			webFail(ctx, err)
			return
		}
		page = probe.Pages()
	}
	comments, err := b.Content.ListPostComments(c, id, page, perPage)
	if err != nil {
		webFail(ctx, err)
		return
	}
	items := make([]gin.H, 0, len(comments.Items))
	for _, cm := range comments.Items {
		items = append(items, gin.H{
			"id":        cm.ID,
			"name":      cm.Name,
			"body_html": utils.RenderMarkdown(cm.Text),
			"date":      cm.Date,
			"author":    cm.User.Username,
		})
	}
	data := postSummary(*post, comments.Total)
	data["text"] = post.Text
	data["can_edit"] = services.OwnerOrAdmin(middleware.CurrentUser(ctx), post.UserID)
	utils.Success(ctx, gin.H{
		"post":       data,
		"comments":   items,
		"pagination": pagination(comments),
	})
}

// Comment adds a comment by the logged in user.
func (b *BlogController) Comment(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusNotFound, 40401, "not found")
		return
	}
	var req commentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Respond(ctx, http.StatusBadRequest, 40021, "invalid request payload", fieldErrors(err))
		return
	}
	comment, err := b.Content.AddComment(ctx.Request.Context(), middleware.CurrentUser(ctx), id, services.CommentInput{
		Name: req.Name,
		Text: req.Text,
	})
	if err != nil {
		webFail(ctx, err)
		return
	}
	utils.Respond(ctx, http.StatusCreated, 0, "Your comment has been published.", gin.H{
		"id":        comment.ID,
		"name":      comment.Name,
		"body_html": utils.RenderMarkdown(comment.Text),
		"date":      comment.Date,
	})
}

// DeleteComment removes a comment written by the user, or any comment for admins.
func (b *BlogController) DeleteComment(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusNotFound, 40401, "not found")
		return
	}
	if err := b.Content.DeleteComment(ctx.Request.Context(), middleware.CurrentUser(ctx), id); err != nil {
		webFail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"message": "comment deleted"})
}

// Tag lists the posts carrying a tag.
func (b *BlogController) Tag(ctx *gin.Context) {
	page, perPage := parsePagination(ctx, b.Config.PostsPerPage)
	tag, res, err := b.Content.ListTagPosts(ctx.Request.Context(), ctx.Param("title"), page, perPage)
	if err != nil {
		webFail(ctx, err)
		return
	}
	data := b.postList(ctx, res)
	data["tag"] = tag
	utils.Success(ctx, data)
}

// NewPost publishes a post by the logged in user.
func (b *BlogController) NewPost(ctx *gin.Context) {
	var req postRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Respond(ctx, http.StatusBadRequest, 40020, "invalid request payload", fieldErrors(err))
		return
	}
	post, err := b.Content.CreatePost(ctx.Request.Context(), middleware.CurrentUser(ctx), services.PostInput{
		Title: req.Title,
		Text:  req.Text,
		Tags:  req.Tags,
	})
	if err != nil {
		webFail(ctx, err)
		return
	}
	ctx.Header("Location", "/post/"+strconv.FormatUint(uint64(post.ID), 10))
	utils.Respond(ctx, http.StatusCreated, 0, "Your post has been published.", postSummary(*post, 0))
}

// EditPost replaces title, text and tags of a post.
func (b *BlogController) EditPost(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusNotFound, 40401, "not found")
		return
	}
	var req postRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Respond(ctx, http.StatusBadRequest, 40020, "invalid request payload", fieldErrors(err))
		return
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	post, err := b.Content.UpdatePost(ctx.Request.Context(), middleware.CurrentUser(ctx), id, services.PostPatch{
		Title: &req.Title,
		Text:  &req.Text,
		Tags:  &tags,
	})
	if err != nil {
		webFail(ctx, err)
		return
	}
	utils.Respond(ctx, http.StatusOK, 0, "The post has been updated.", postSummary(*post, 0))
}

// DeletePost removes a post with its comments.
func (b *BlogController) DeletePost(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusNotFound, 40401, "not found")
		return
	}
	if err := b.Content.DeletePost(ctx.Request.Context(), middleware.CurrentUser(ctx), id); err != nil {
		webFail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"message": "The post has been deleted."})
}

// Digest previews this week's posts; admins may POST to mail the digest now.
func (b *BlogController) Digest(ctx *gin.Context) {
	now := b.Now()
	posts, err := b.Content.WeeklyPosts(ctx.Request.Context(), now)
	if err != nil {
		webFail(ctx, err)
		return
	}
	start, end := utils.WeekBounds(now)
	items := make([]gin.H, 0, len(posts))
	for _, p := range posts {
		items = append(items, postSummary(p, 0))
	}
	utils.Success(ctx, gin.H{"week_start": start, "week_end": end, "posts": items})
}

// SendDigest enqueues the weekly digest for the current week.
func (b *BlogController) SendDigest(ctx *gin.Context) {
	id, err := b.Tasks.Enqueue(ctx.Request.Context(), tasks.WeeklyDigest, tasks.DigestArgs{Week: b.Now()})
	if err != nil {
		b.Log.Error("enqueue digest", zap.Error(err))
		utils.Error(ctx, http.StatusServiceUnavailable, 50301, "task queue unavailable")
		return
	}
	utils.Respond(ctx, http.StatusAccepted, 0, "digest queued", gin.H{"task_id": id})
}
