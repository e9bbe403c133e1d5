package utils

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// JSONResponse defines the uniform structure for browser-facing responses.
type JSONResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// APIErrorBody is the REST error envelope.
type APIErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code int, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, http.StatusOK, 0, "success", data)
}

// Error returns a standard error response.
func Error(ctx *gin.Context, status int, code int, message string) {
	Respond(ctx, status, code, message, nil)
}

// APIError writes {"error": "<status> - <description>", "message": message} and aborts the chain.
func APIError(ctx *gin.Context, status int, message string) {
	desc := strings.ToLower(http.StatusText(status))
	ctx.AbortWithStatusJSON(status, APIErrorBody{
		Error:   fmt.Sprintf("%d - %s", status, desc),
		Message: message,
	})
}
