package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TraceHeader 追踪 ID 响应头
const TraceHeader = "X-Trace-Id"

const traceKey = "trace_id"

// TraceMiddleware 为每个请求生成追踪 ID，写入上下文与响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(traceKey, id)
		c.Header(TraceHeader, id)
		c.Next()
	}
}

// GetTraceID 从上下文获取追踪 ID
func GetTraceID(c *gin.Context) string {
	return c.GetString(traceKey)
}
