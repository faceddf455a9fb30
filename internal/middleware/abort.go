package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/family-health/internal/apperr"
)

// abortWithError 中止请求并写出统一响应
func abortWithError(c *gin.Context, e *apperr.Error) {
	c.AbortWithStatusJSON(e.Status, gin.H{
		"code":     e.Code,
		"data":     nil,
		"message":  e.Message,
		"trace_id": GetTraceID(c),
	})
}
