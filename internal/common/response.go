package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/companion-chat/internal/apierr"
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"code":  code,
		"error": msg,
	})
}

// FailErr maps a classified error to its status and public message.
func FailErr(c *gin.Context, err error) {
	status := apierr.StatusOf(err)
	Fail(c, status, codeFor(status), apierr.Public(err))
}

func codeFor(status int) int {
	switch status {
	case http.StatusBadRequest:
		return 40001
	case http.StatusUnauthorized:
		return 40101
	case http.StatusForbidden:
		return 40301
	case http.StatusNotFound:
		return 40401
	default:
		return 50001
	}
}
