package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// envelope is the body shape shared by every JSON endpoint. Code is zero on
// success and mirrors the HTTP status on failure.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Meta    gin.H  `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta gin.H) {
	c.JSON(http.StatusOK, envelope{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta gin.H) {
	c.JSON(status, envelope{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}
