package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/aiblog/middleware"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

// APIAuthController issues bearer tokens to password-authenticated API callers.
type APIAuthController struct {
	accounts *services.AccountService
}

func NewAPIAuthController(accounts *services.AccountService) *APIAuthController {
	return &APIAuthController{accounts: accounts}
}

// Token exchanges Basic username/password credentials for a short lived bearer token.
// A token cannot be used to mint another one.
func (a *APIAuthController) Token(ctx *gin.Context) {
	user := middleware.CurrentUser(ctx)
	if user == nil || middleware.TokenUsed(ctx) {
		utils.APIError(ctx, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	token, err := a.accounts.GenerateAuthToken(user)
	if err != nil {
		apiFail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expiration": int(a.accounts.AuthTTL().Seconds()),
	})
}
