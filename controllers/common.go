package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

// parsePagination reads ?page and ?per_page, falling back to def per page.
func parsePagination(ctx *gin.Context, def int) (int, int) {
	page, _ := strconv.Atoi(ctx.Query("page"))
	perPage, _ := strconv.Atoi(ctx.Query("per_page"))
	return services.NormalizePage(page, perPage, def)
}

func parseID(ctx *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// siteURL builds an absolute link below base, or below the request host when base is empty.
func siteURL(ctx *gin.Context, base, path string) string {
	if base == "" {
		scheme := "http"
		if ctx.Request.TLS != nil || ctx.GetHeader("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + ctx.Request.Host
	}
	return strings.TrimRight(base, "/") + path
}

// fieldErrors turns binding failures into one message per request field.
func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["body"] = "malformed request body"
		return out
	}
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			out[field] = field + " is required"
		case "email":
			out[field] = "invalid email address"
		case "max":
			out[field] = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		case "min":
			out[field] = fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		case "eqfield":
			out[field] = field + " must match " + strings.ToLower(fe.Param())
		default:
			out[field] = field + " is invalid"
		}
	}
	return out
}

// firstFieldError flattens fieldErrors into a single sentence for the REST envelope.
func firstFieldError(err error) string {
	msgs := fieldErrors(err)
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m)
	}
	if len(parts) == 0 {
		return "invalid request payload"
	}
	// map order is random; keep responses stable
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// apiFail maps a service error to the REST error envelope.
func apiFail(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		utils.APIError(ctx, http.StatusNotFound, "resource not found")
	case errors.Is(err, services.ErrUnauthorized):
		utils.APIError(ctx, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, services.ErrForbidden):
		utils.APIError(ctx, http.StatusForbidden, "Insufficient permissions")
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrSelfFollow):
		utils.APIError(ctx, http.StatusBadRequest, cleanMessage(err))
	default:
		_ = ctx.Error(err)
		utils.APIError(ctx, http.StatusInternalServerError, "internal server error")
	}
}

// webFail maps a service error to the browser envelope with a numeric code.
func webFail(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		utils.Error(ctx, http.StatusNotFound, 40401, "not found")
	case errors.Is(err, services.ErrUnauthorized), errors.Is(err, services.ErrInvalidCredentials):
		utils.Error(ctx, http.StatusUnauthorized, 40101, "login required")
	case errors.Is(err, services.ErrForbidden):
		utils.Error(ctx, http.StatusForbidden, 40301, "insufficient permissions")
	case errors.Is(err, services.ErrUsernameTaken):
		utils.Error(ctx, http.StatusConflict, 40901, "username already in use")
	case errors.Is(err, services.ErrEmailTaken):
		utils.Error(ctx, http.StatusConflict, 40902, "email already registered")
	case errors.Is(err, services.ErrSelfFollow):
		utils.Error(ctx, http.StatusBadRequest, 40030, "you cannot follow yourself")
	case errors.Is(err, services.ErrInvalidInput):
		utils.Error(ctx, http.StatusBadRequest, 40020, cleanMessage(err))
	default:
		_ = ctx.Error(err)
		utils.Error(ctx, http.StatusInternalServerError, 50000, "internal server error")
	}
}

// cleanMessage drops the wrapped sentinel prefix, leaving the detail.
func cleanMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, services.ErrInvalidInput.Error()+": "); i >= 0 {
		return msg[i+len(services.ErrInvalidInput.Error())+2:]
	}
	return msg
}
