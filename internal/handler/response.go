package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiResponse is the envelope every route answers with. Code is 0 on success
// and mirrors the HTTP status otherwise.
type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	respond(c, http.StatusOK, "ok", data, meta)
}

// Accepted answers a request whose work continues in the background.
func Accepted(c *gin.Context, data any) {
	respond(c, http.StatusAccepted, "accepted", data, nil)
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	if message == "" {
		message = http.StatusText(status)
	}
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

func respond(c *gin.Context, status int, message string, data any, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    0,
		Message: message,
		Data:    data,
		Meta:    meta,
	})
}
