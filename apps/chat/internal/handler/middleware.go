package handler

import (
	"context"
	"net/http"
	"strings"

	"ChatCore/apps/chat/internal/svc"
	"ChatCore/consts"
	"ChatCore/pkg/ctxmeta"
	"ChatCore/pkg/result"
	"ChatCore/pkg/util"

	"github.com/gin-gonic/gin"
)

// gin 上下文键。
const (
	ginKeyUserUUID = "user_uuid"
	ginKeyDeviceID = "device_id"
)

// AuthRequired 校验 Authorization: Bearer <token> 并注入用户身份。
// 仅做 JWT 校验，不查 Redis 登录态：HTTP 接口都是幂等的关系操作，
// 被踢设备的残留 token 最多在过期前多调一次查询类接口。
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" || token == authHeader {
			result.FailWithStatus(c, http.StatusUnauthorized, consts.CodeUnauthorized, consts.GetMessage(consts.CodeUnauthorized))
			c.Abort()
			return
		}

		claims, err := util.ParseToken(token)
		if err != nil || claims.UserUUID == "" {
			result.FailWithStatus(c, http.StatusUnauthorized, consts.CodeInvalidToken, consts.GetMessage(consts.CodeInvalidToken))
			c.Abort()
			return
		}

		c.Set(ginKeyUserUUID, claims.UserUUID)
		c.Set(ginKeyDeviceID, claims.DeviceID)
		c.Next()
	}
}

// NewContextWithGin 从 gin 上下文构建业务 context，透传链路与身份字段。
func NewContextWithGin(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if traceID := ctxmeta.TraceIDFromGin(c); traceID != "" {
		ctx = ctxmeta.WithTraceID(ctx, traceID)
	}
	if userUUID := c.GetString(ginKeyUserUUID); userUUID != "" {
		ctx = ctxmeta.WithUserUUID(ctx, userUUID)
	}
	if deviceID := c.GetString(ginKeyDeviceID); deviceID != "" {
		ctx = ctxmeta.WithDeviceID(ctx, deviceID)
	}
	return ctxmeta.WithClientIP(ctx, c.ClientIP())
}

// currentUser 返回鉴权中间件注入的用户 uuid。
func currentUser(c *gin.Context) string {
	return c.GetString(ginKeyUserUUID)
}

// failWithChatError 将类别化错误写成统一响应体。
func failWithChatError(c *gin.Context, chatErr *svc.ChatError) {
	result.Fail(c, gin.H{"errorKind": chatErr.Kind}, int32(chatErr.Code))
}
