package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
)

var errInternal = apperr.WithStatus(500, apperr.CodeInternal, "Internal server error")

// RecoveryMiddleware 恢复 panic 并返回 500
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic recovered",
					zap.Any("error", err),
					zap.String("trace_id", GetTraceID(c)),
					zap.ByteString("stack", debug.Stack()),
				)
				abortWithError(c, errInternal)
			}
		}()
		c.Next()
	}
}
