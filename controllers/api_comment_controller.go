package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/aiblog/middleware"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

// APICommentController serves /api/v1.0/comments and the comments of a post.
type APICommentController struct {
	content *services.ContentService
	baseURL string
	perPage int
}

func NewAPICommentController(content *services.ContentService, baseURL string, perPage int) *APICommentController {
	return &APICommentController{content: content, baseURL: baseURL, perPage: perPage}
}

type apiCommentRequest struct {
	Name string `json:"name" binding:"max=64"`
	Text string `json:"text"`
}

// List returns every comment, newest first.
func (c *APICommentController) List(ctx *gin.Context) {
	page, perPage := parsePagination(ctx, c.perPage)
	res, err := c.content.ListComments(ctx.Request.Context(), page, perPage)
	if err != nil {
		apiFail(ctx, err)
		return
	}
	b := urlBuilder{ctx: ctx, base: c.baseURL}
	ctx.JSON(http.StatusOK, paginated(b, "comments", res, b.commentsJSON(res.Items)))
}

// ListForPost returns the comments of one post, oldest first.
func (c *APICommentController) ListForPost(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.APIError(ctx, http.StatusNotFound, "resource not found")
		return
	}
	page, perPage := parsePagination(ctx, c.perPage)
	res, err := c.content.ListPostComments(ctx.Request.Context(), id, page, perPage)
	if err != nil {
		apiFail(ctx, err)
		return
	}
	b := urlBuilder{ctx: ctx, base: c.baseURL}
	ctx.JSON(http.StatusOK, paginated(b, "comments", res, b.commentsJSON(res.Items)))
}

// Get returns a single comment.
func (c *APICommentController) Get(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.APIError(ctx, http.StatusNotFound, "resource not found")
		return
	}
	comment, err := c.content.GetComment(ctx.Request.Context(), id)
	if err != nil {
		apiFail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, urlBuilder{ctx: ctx, base: c.baseURL}.commentJSON(*comment))
}

// Create adds a comment by the caller to the post in the path.
func (c *APICommentController) Create(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.APIError(ctx, http.StatusNotFound, "resource not found")
		return
	}
	var req apiCommentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.APIError(ctx, http.StatusBadRequest, firstFieldError(err))
		return
	}
	comment, err := c.content.AddComment(ctx.Request.Context(), middleware.CurrentUser(ctx), id, services.CommentInput{
		Name: req.Name,
		Text: req.Text,
	})
	if err != nil {
		apiFail(ctx, err)
		return
	}
	body := urlBuilder{ctx: ctx, base: c.baseURL}.commentJSON(*comment)
	ctx.Header("Location", body.URL)
	ctx.JSON(http.StatusCreated, body)
}

// Delete removes a comment written by the caller, or any comment for admins.
func (c *APICommentController) Delete(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.APIError(ctx, http.StatusNotFound, "resource not found")
		return
	}
	if err := c.content.DeleteComment(ctx.Request.Context(), middleware.CurrentUser(ctx), id); err != nil {
		apiFail(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
