package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WriteObject 统一JSON响应
func WriteObject(c *gin.Context, obj interface{}, err error) {
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadRequest
	}
	c.JSON(status, obj)
}

// WriteError 统一错误响应
func WriteError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
	})
}
