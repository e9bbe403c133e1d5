package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

const (
	// ContextUserKey stores the authenticated *models.User inside Gin context.
	ContextUserKey = "current_user"
	// ContextTokenUsedKey is true when the API caller authenticated with a bearer token.
	ContextTokenUsedKey = "token_used"
	// SessionUserIDKey stores the logged in user id in the browser session.
	SessionUserIDKey = "user_id"
)

// CurrentUser returns the authenticated user or nil for anonymous requests.
func CurrentUser(ctx *gin.Context) *models.User {
	if v, ok := ctx.Get(ContextUserKey); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}

// TokenUsed reports whether the request authenticated with a bearer token.
func TokenUsed(ctx *gin.Context) bool {
	return ctx.GetBool(ContextTokenUsedKey)
}

// APIAuth authenticates REST calls with HTTP Basic credentials or a bearer token.
// Basic with an empty username is anonymous; Basic with an empty password treats the
// username as a token. Authenticated but unconfirmed accounts are refused with 403.
func APIAuth(accounts *services.AccountService) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		var (
			user      *models.User
			tokenUsed bool
		)
		switch {
		case header == "":
		case strings.HasPrefix(strings.ToLower(header), "bearer "):
			tokenUsed = true
			user = accounts.VerifyAuthToken(ctx.Request.Context(), strings.TrimSpace(header[len("bearer "):]))
			if user == nil {
				utils.APIError(ctx, http.StatusUnauthorized, "Invalid credentials")
				return
			}
		default:
			login, password, ok := ctx.Request.BasicAuth()
			if !ok {
				utils.APIError(ctx, http.StatusUnauthorized, "Invalid credentials")
				return
			}
			if login == "" {
				break
			}
			if password == "" {
				tokenUsed = true
				user = accounts.VerifyAuthToken(ctx.Request.Context(), login)
			} else {
				u, err := accounts.Authenticate(ctx.Request.Context(), login, password)
				if err != nil && !errors.Is(err, services.ErrInvalidCredentials) {
					_ = ctx.Error(err)
				}
				user = u
			}
			if user == nil {
				utils.APIError(ctx, http.StatusUnauthorized, "Invalid credentials")
				return
			}
		}

		if user != nil && !user.Confirmed {
			utils.APIError(ctx, http.StatusForbidden, "Unconfirmed account")
			return
		}
		if user != nil {
			ctx.Set(ContextUserKey, user)
		}
		ctx.Set(ContextTokenUsedKey, tokenUsed)
		ctx.Next()
	}
}

// APIWriteRequired refuses anonymous callers on mutating REST endpoints.
func APIWriteRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if CurrentUser(ctx) == nil {
			utils.APIError(ctx, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		ctx.Next()
	}
}

// SessionUser loads the user referenced by the browser session, if any.
func SessionUser(accounts *services.AccountService) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		session := sessions.Default(ctx)
		if id, ok := session.Get(SessionUserIDKey).(uint); ok && id != 0 {
			if user, err := accounts.GetByID(ctx.Request.Context(), id); err == nil {
				ctx.Set(ContextUserKey, user)
			} else {
				session.Delete(SessionUserIDKey)
				_ = session.Save()
			}
		}
		ctx.Next()
	}
}

// LoginRequired rejects requests without a logged in user.
func LoginRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if CurrentUser(ctx) == nil {
			utils.Error(ctx, http.StatusUnauthorized, 40101, "login required")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// RequireRole allows users holding any of the roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	perms := make([]services.Permission, 0, len(roles))
	for _, r := range roles {
		perms = append(perms, services.RoleRequired(r))
	}
	allowed := services.Any(perms...)
	return func(ctx *gin.Context) {
		user := CurrentUser(ctx)
		if user == nil {
			utils.Error(ctx, http.StatusUnauthorized, 40101, "login required")
			ctx.Abort()
			return
		}
		if !allowed(user) {
			utils.Error(ctx, http.StatusForbidden, 40301, "insufficient permissions")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// ConfirmedRequired rejects logged in users that have not confirmed their account yet.
func ConfirmedRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user := CurrentUser(ctx)
		if user == nil {
			utils.Error(ctx, http.StatusUnauthorized, 40101, "login required")
			ctx.Abort()
			return
		}
		if !user.Confirmed {
			utils.Error(ctx, http.StatusForbidden, 40302, "account not confirmed")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}
