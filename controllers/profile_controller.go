package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/aiblog/middleware"
	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

func (b *BlogController) loadUser(ctx *gin.Context) (*models.User, bool) {
	user, err := b.Accounts.GetByUsername(ctx.Request.Context(), ctx.Param("username"))
	if err != nil {
		webFail(ctx, err)
		return nil, false
	}
	return user, true
}

// User shows a profile with the user's posts and follow counters.
func (b *BlogController) User(ctx *gin.Context) {
	user, ok := b.loadUser(ctx)
	if !ok {
		return
	}
	c := ctx.Request.Context()
	page, perPage := parsePagination(ctx, b.Config.PostsPerPage)
	res, err := b.Content.ListUserPosts(c, user.ID, page, perPage)
	if err != nil {
		webFail(ctx, err)
		return
	}
	profile := profileJSON(*user)
	profile["followers"] = b.Follows.FollowerCount(c, user.ID)
	profile["following"] = b.Follows.FollowingCount(c, user.ID)
	if me := middleware.CurrentUser(ctx); me != nil && me.ID != user.ID {
		profile["is_following"] = b.Follows.IsFollowing(c, me.ID, user.ID)
		profile["follows_you"] = b.Follows.IsFollowedBy(c, me.ID, user.ID)
	}
	data := b.postList(ctx, res)
	data["user"] = profile
	utils.Success(ctx, data)
}

type profileRequest struct {
	Name     string `json:"name" binding:"max=64"`
	Location string `json:"location" binding:"max=64"`
	AboutMe  string `json:"about_me" binding:"max=4000"`
}

// EditProfile updates the logged in user's public profile.
func (b *BlogController) EditProfile(ctx *gin.Context) {
	var req profileRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Respond(ctx, http.StatusBadRequest, 40022, "invalid request payload", fieldErrors(err))
		return
	}
	user := middleware.CurrentUser(ctx)
	err := b.Accounts.UpdateProfile(ctx.Request.Context(), user, services.ProfileInput{
		Name:     req.Name,
		Location: req.Location,
		AboutMe:  req.AboutMe,
	})
	if err != nil {
		webFail(ctx, err)
		return
	}
	utils.Respond(ctx, http.StatusOK, 0, "Your profile has been updated.", profileJSON(*user))
}

// Follow makes the logged in user follow :username.
func (b *BlogController) Follow(ctx *gin.Context) {
	target, ok := b.loadUser(ctx)
	if !ok {
		return
	}
	me := middleware.CurrentUser(ctx)
	if b.Follows.IsFollowing(ctx.Request.Context(), me.ID, target.ID) {
		utils.Success(ctx, gin.H{"message": "You are already following this user.", "following": true})
		return
	}
	if err := b.Follows.Follow(ctx.Request.Context(), me.ID, target.ID); err != nil {
		webFail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"message": "You are now following " + target.Username + ".", "following": true})
}

// Unfollow removes the follow edge to :username.
func (b *BlogController) Unfollow(ctx *gin.Context) {
	target, ok := b.loadUser(ctx)
	if !ok {
		return
	}
	me := middleware.CurrentUser(ctx)
	if !b.Follows.IsFollowing(ctx.Request.Context(), me.ID, target.ID) {
		utils.Success(ctx, gin.H{"message": "You are not following this user.", "following": false})
		return
	}
	if err := b.Follows.Unfollow(ctx.Request.Context(), me.ID, target.ID); err != nil {
		webFail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"message": "You are not following " + target.Username + " anymore.", "following": false})
}

func followEntries(edges []models.Follow, pick func(models.Follow) models.User) []gin.H {
	out := make([]gin.H, 0, len(edges))
	for _, e := range edges {
		u := pick(e)
		out = append(out, gin.H{
			"username":   u.Username,
			"avatar_url": utils.GravatarURL(u.AvatarHash, 32),
			"timestamp":  e.CreatedAt,
		})
	}
	return out
}

// Followers lists who follows :username.
func (b *BlogController) Followers(ctx *gin.Context) {
	user, ok := b.loadUser(ctx)
	if !ok {
		return
	}
	page, perPage := parsePagination(ctx, b.Config.FollowersPerPage)
	res, err := b.Follows.Followers(ctx.Request.Context(), user.ID, page, perPage)
	if err != nil {
		webFail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"user":       user.Username,
		"title":      "Followers of",
		"follows":    followEntries(res.Items, func(f models.Follow) models.User { return f.Follower }),
		"pagination": pagination(res),
	})
}

// FollowedBy lists whom :username follows.
func (b *BlogController) FollowedBy(ctx *gin.Context) {
	user, ok := b.loadUser(ctx)
	if !ok {
		return
	}
	page, perPage := parsePagination(ctx, b.Config.FollowersPerPage)
	res, err := b.Follows.Followings(ctx.Request.Context(), user.ID, page, perPage)
	if err != nil {
		webFail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"user":       user.Username,
		"title":      "Followed by",
		"follows":    followEntries(res.Items, func(f models.Follow) models.User { return f.Followed }),
		"pagination": pagination(res),
	})
}

// Timeline lists posts by everyone the logged in user follows.
func (b *BlogController) Timeline(ctx *gin.Context) {
	page, perPage := parsePagination(ctx, b.Config.PostsPerPage)
	res, err := b.Follows.FollowingPosts(ctx.Request.Context(), middleware.CurrentUser(ctx).ID, page, perPage)
	if err != nil {
		webFail(ctx, err)
		return
	}
	utils.Success(ctx, b.postList(ctx, res))
}

type roleRequest struct {
	Role string `json:"role" binding:"required,oneof=admin poster default"`
}

// AssignRole grants a role to :username.
func (b *BlogController) AssignRole(ctx *gin.Context) {
	user, ok := b.loadUser(ctx)
	if !ok {
		return
	}
	var req roleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Respond(ctx, http.StatusBadRequest, 40023, "invalid request payload", fieldErrors(err))
		return
	}
	if err := b.Accounts.AssignRole(ctx.Request.Context(), user, req.Role); err != nil {
		webFail(ctx, err)
		return
	}
	utils.Success(ctx, sessionUserJSON(*user))
}

// DeleteUser removes :username with everything they own.
func (b *BlogController) DeleteUser(ctx *gin.Context) {
	user, ok := b.loadUser(ctx)
	if !ok {
		return
	}
	if err := b.Accounts.DeleteUser(ctx.Request.Context(), user.ID); err != nil {
		webFail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"message": "user deleted"})
}
