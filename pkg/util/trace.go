package util

import (
	"ChatCore/pkg/ctxmeta"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const HeaderXRequestID = "X-Request-ID"

// TraceLogger 追踪中间件，生成或获取 trace_id 并存入请求上下文
func TraceLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 尝试从请求头拿（可能是上游网关传过来的）
		traceId := c.GetHeader(HeaderXRequestID)

		// 2. 如果没有，自己生成一个
		if traceId == "" {
			traceId = uuid.New().String()
		}

		// 3. 放入 Gin 上下文，供后续 Handler 使用
		c.Set("trace_id", traceId)

		// 4. 同步写入 request ctx，保证脱离 gin 后日志仍能串联
		c.Request = c.Request.WithContext(
			ctxmeta.WithTraceID(c.Request.Context(), traceId),
		)

		// 5. 放入响应头，客户端拿着 ID 来排障
		c.Header(HeaderXRequestID, traceId)

		c.Next()
	}
}

// NewUUID 生成新的 UUID
func NewUUID() string {
	return uuid.New().String()
}
