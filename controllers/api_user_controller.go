package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

// APIUserController serves /api/v1.0/users.
type APIUserController struct {
	accounts *services.AccountService
	content  *services.ContentService
	follows  *services.FollowService
	baseURL  string
	perPage  int
}

func NewAPIUserController(accounts *services.AccountService, content *services.ContentService, follows *services.FollowService, baseURL string, perPage int) *APIUserController {
	return &APIUserController{accounts: accounts, content: content, follows: follows, baseURL: baseURL, perPage: perPage}
}

func (u *APIUserController) load(ctx *gin.Context) (*models.User, bool) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.APIError(ctx, http.StatusNotFound, "resource not found")
		return nil, false
	}
	user, err := u.accounts.GetByID(ctx.Request.Context(), id)
	if err != nil {
		apiFail(ctx, err)
		return nil, false
	}
	return user, true
}

// Get returns the public profile of a user.
func (u *APIUserController) Get(ctx *gin.Context) {
	user, ok := u.load(ctx)
	if !ok {
		return
	}
	b := urlBuilder{ctx: ctx, base: u.baseURL}
	ctx.JSON(http.StatusOK, b.userJSON(*user, u.content.PostCount(ctx.Request.Context(), user.ID)))
}

// Posts returns the posts written by a user.
func (u *APIUserController) Posts(ctx *gin.Context) {
	user, ok := u.load(ctx)
	if !ok {
		return
	}
	page, perPage := parsePagination(ctx, u.perPage)
	res, err := u.content.ListUserPosts(ctx.Request.Context(), user.ID, page, perPage)
	if err != nil {
		apiFail(ctx, err)
		return
	}
	u.writePosts(ctx, res)
}

// Timeline returns the posts of everyone the user follows.
func (u *APIUserController) Timeline(ctx *gin.Context) {
	user, ok := u.load(ctx)
	if !ok {
		return
	}
	page, perPage := parsePagination(ctx, u.perPage)
	res, err := u.follows.FollowingPosts(ctx.Request.Context(), user.ID, page, perPage)
	if err != nil {
		apiFail(ctx, err)
		return
	}
	u.writePosts(ctx, res)
}

func (u *APIUserController) writePosts(ctx *gin.Context, res services.Page[models.Post]) {
	b := urlBuilder{ctx: ctx, base: u.baseURL}
	counts := u.content.CommentCounts(ctx.Request.Context(), postIDs(res.Items))
	ctx.JSON(http.StatusOK, paginated(b, "posts", res, b.postsJSON(res.Items, counts)))
}

// Followers lists who follows the user.
func (u *APIUserController) Followers(ctx *gin.Context) {
	user, ok := u.load(ctx)
	if !ok {
		return
	}
	page, perPage := parsePagination(ctx, u.perPage)
	res, err := u.follows.Followers(ctx.Request.Context(), user.ID, page, perPage)
	if err != nil {
		apiFail(ctx, err)
		return
	}
	b := urlBuilder{ctx: ctx, base: u.baseURL}
	items := make([]followJSON, 0, len(res.Items))
	for _, f := range res.Items {
		items = append(items, followJSON{Username: f.Follower.Username, URL: b.user(f.FollowerID), Timestamp: f.CreatedAt})
	}
	ctx.JSON(http.StatusOK, paginated(b, "followers", res, items))
}

// Following lists whom the user follows.
func (u *APIUserController) Following(ctx *gin.Context) {
	user, ok := u.load(ctx)
	if !ok {
		return
	}
	page, perPage := parsePagination(ctx, u.perPage)
	res, err := u.follows.Followings(ctx.Request.Context(), user.ID, page, perPage)
	if err != nil {
		apiFail(ctx, err)
		return
	}
	b := urlBuilder{ctx: ctx, base: u.baseURL}
	items := make([]followJSON, 0, len(res.Items))
	for _, f := range res.Items {
		items = append(items, followJSON{Username: f.Followed.Username, URL: b.user(f.FollowedID), Timestamp: f.CreatedAt})
	}
	ctx.JSON(http.StatusOK, paginated(b, "following", res, items))
}
