package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/aiblog/services"
)

// LastSeen refreshes the acting user's last-seen timestamp after the request,
// at most once per minute per user.
func LastSeen(accounts *services.AccountService, log *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()

		user := CurrentUser(ctx)
		if user == nil || time.Since(user.LastSeen) < time.Minute {
			return
		}
		if err := accounts.Ping(ctx.Request.Context(), user.ID); err != nil {
			log.Warn("last seen update failed", zap.Uint("user_id", user.ID), zap.Error(err))
		}
	}
}
