package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/aiblog/middleware"
	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

// APIPostController serves /api/v1.0/posts.
type APIPostController struct {
	content *services.ContentService
	baseURL string
	perPage int
}

func NewAPIPostController(content *services.ContentService, baseURL string, perPage int) *APIPostController {
	return &APIPostController{content: content, baseURL: baseURL, perPage: perPage}
}

type apiPostRequest struct {
	Title string   `json:"title" binding:"max=255"`
	Text  string   `json:"text"`
	Tags  []string `json:"tags" binding:"max=20,dive,max=64"`
}

type apiPostPatch struct {
	Title *string   `json:"title" binding:"omitempty,max=255"`
	Text  *string   `json:"text"`
	Tags  *[]string `json:"tags" binding:"omitempty,max=20"`
}

func (p *APIPostController) urls(ctx *gin.Context) urlBuilder {
	return urlBuilder{ctx: ctx, base: p.baseURL}
}

// List returns one page of all posts.
func (p *APIPostController) List(ctx *gin.Context) {
	page, perPage := parsePagination(ctx, p.perPage)
	res, err := p.content.ListPosts(ctx.Request.Context(), page, perPage)
	if err != nil {
		apiFail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, p.page(ctx, res))
}

func (p *APIPostController) page(ctx *gin.Context, res services.Page[models.Post]) gin.H {
	b := p.urls(ctx)
	counts := p.content.CommentCounts(ctx.Request.Context(), postIDs(res.Items))
	return paginated(b, "posts", res, b.postsJSON(res.Items, counts))
}

// Get returns a single post.
func (p *APIPostController) Get(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.APIError(ctx, http.StatusNotFound, "resource not found")
		return
	}
	post, err := p.content.GetPost(ctx.Request.Context(), id)
	if err != nil {
		apiFail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, p.one(ctx, post))
}

func (p *APIPostController) one(ctx *gin.Context, post *models.Post) postJSON {
	counts := p.content.CommentCounts(ctx.Request.Context(), []uint{post.ID})
	return p.urls(ctx).postJSON(*post, counts[post.ID])
}

// Create stores a post written by the caller and points Location at it.
func (p *APIPostController) Create(ctx *gin.Context) {
	var req apiPostRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.APIError(ctx, http.StatusBadRequest, firstFieldError(err))
		return
	}
	post, err := p.content.CreatePost(ctx.Request.Context(), middleware.CurrentUser(ctx), services.PostInput{
		Title: req.Title,
		Text:  req.Text,
		Tags:  req.Tags,
	})
	if err != nil {
		apiFail(ctx, err)
		return
	}
	body := p.one(ctx, post)
	ctx.Header("Location", body.URL)
	ctx.JSON(http.StatusCreated, body)
}

// Update edits title, text or tags of a post owned by the caller, or any post for admins.
func (p *APIPostController) Update(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.APIError(ctx, http.StatusNotFound, "resource not found")
		return
	}
	var req apiPostPatch
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.APIError(ctx, http.StatusBadRequest, firstFieldError(err))
		return
	}
	post, err := p.content.UpdatePost(ctx.Request.Context(), middleware.CurrentUser(ctx), id, services.PostPatch{
		Title: req.Title,
		Text:  req.Text,
		Tags:  req.Tags,
	})
	if err != nil {
		apiFail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, p.one(ctx, post))
}

// Delete removes a post together with its comments.
func (p *APIPostController) Delete(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.APIError(ctx, http.StatusNotFound, "resource not found")
		return
	}
	if err := p.content.DeletePost(ctx.Request.Context(), middleware.CurrentUser(ctx), id); err != nil {
		apiFail(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func postIDs(posts []models.Post) []uint {
	ids := make([]uint, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}
