package ctxmeta

import (
	"context"

	"github.com/gin-gonic/gin"
)

// ctxKey 私有类型，避免与其他包的 context key 冲突。
type ctxKey string

const (
	keyTraceID  ctxKey = "trace_id"
	keyUserUUID ctxKey = "user_uuid"
	keyDeviceID ctxKey = "device_id"
	keyClientIP ctxKey = "client_ip"
)

// WithTraceID 注入 trace_id。
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID 提取 trace_id，未设置时返回空串。
func TraceID(ctx context.Context) string {
	return stringValue(ctx, keyTraceID)
}

// WithUserUUID 注入当前连接归属的用户 uuid。
func WithUserUUID(ctx context.Context, userUUID string) context.Context {
	return context.WithValue(ctx, keyUserUUID, userUUID)
}

// UserUUID 提取用户 uuid。
func UserUUID(ctx context.Context) string {
	return stringValue(ctx, keyUserUUID)
}

// WithDeviceID 注入设备 id。
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, keyDeviceID, deviceID)
}

// DeviceID 提取设备 id。
func DeviceID(ctx context.Context) string {
	return stringValue(ctx, keyDeviceID)
}

// WithClientIP 注入客户端 IP。
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, keyClientIP, ip)
}

// ClientIP 提取客户端 IP。
func ClientIP(ctx context.Context) string {
	return stringValue(ctx, keyClientIP)
}

// TraceIDFromGin 从 Gin 上下文提取 trace_id（由 TraceLogger 中间件写入）。
func TraceIDFromGin(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(string(keyTraceID))
}

// Propagate 从父 ctx 拷贝需要跨协程透传的字段到新 ctx。
// 用于 async 池：任务不能复用请求级 ctx（会被取消），但要保留追踪信息。
func Propagate(parent context.Context) context.Context {
	ctx := context.Background()
	if v := TraceID(parent); v != "" {
		ctx = WithTraceID(ctx, v)
	}
	if v := UserUUID(parent); v != "" {
		ctx = WithUserUUID(ctx, v)
	}
	if v := DeviceID(parent); v != "" {
		ctx = WithDeviceID(ctx, v)
	}
	if v := ClientIP(parent); v != "" {
		ctx = WithClientIP(ctx, v)
	}
	return ctx
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
