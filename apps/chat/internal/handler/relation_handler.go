package handler

import (
	"context"

	"ChatCore/apps/chat/internal/svc"
	"ChatCore/consts"
	"ChatCore/pkg/result"

	"github.com/gin-gonic/gin"
)

// RelationHandler 好友关系处理器。
// 每个接口都是同一形状：绑定参数 → 调服务 → 统一响应体。
type RelationHandler struct {
	friendService svc.FriendService
}

// NewRelationHandler 创建好友关系处理器
func NewRelationHandler(friendService svc.FriendService) *RelationHandler {
	return &RelationHandler{friendService: friendService}
}

// peerRequest 以对方 uuid 为唯一参数的关系操作请求体。
type peerRequest struct {
	PeerUuid string `json:"peerUuid" binding:"required"`
}

// handle 统一的关系事件接口形状：绑定 peerUuid → 执行事件 → 统一响应。
func (h *RelationHandler) handle(c *gin.Context, action func(ctx context.Context, actorUUID, peerUUID string) *svc.ChatError) {
	ctx := NewContextWithGin(c)

	var req peerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		result.Fail(c, nil, consts.CodeParamError)
		return
	}

	if chatErr := action(ctx, currentUser(c), req.PeerUuid); chatErr != nil {
		failWithChatError(c, chatErr)
		return
	}
	result.Success(c, nil)
}

// SendRequest 发起好友申请
// @Router /api/v1/relation/request [post]
func (h *RelationHandler) SendRequest(c *gin.Context) {
	h.handle(c, h.friendService.SendRequest)
}

// Accept 接受好友申请
// @Router /api/v1/relation/accept [post]
func (h *RelationHandler) Accept(c *gin.Context) {
	h.handle(c, h.friendService.Accept)
}

// Reject 拒绝好友申请
// @Router /api/v1/relation/reject [post]
func (h *RelationHandler) Reject(c *gin.Context) {
	h.handle(c, h.friendService.Reject)
}

// Cancel 撤回好友申请
// @Router /api/v1/relation/cancel [post]
func (h *RelationHandler) Cancel(c *gin.Context) {
	h.handle(c, h.friendService.Cancel)
}

// Unfriend 删除好友
// @Router /api/v1/relation/unfriend [post]
func (h *RelationHandler) Unfriend(c *gin.Context) {
	h.handle(c, h.friendService.Unfriend)
}

// Block 拉黑用户
// @Router /api/v1/relation/block [post]
func (h *RelationHandler) Block(c *gin.Context) {
	h.handle(c, h.friendService.Block)
}

// Unblock 解除拉黑
// @Router /api/v1/relation/unblock [post]
func (h *RelationHandler) Unblock(c *gin.Context) {
	h.handle(c, h.friendService.Unblock)
}

// GetRelation 查询与某用户的关系
// @Router /api/v1/relation [get]
func (h *RelationHandler) GetRelation(c *gin.Context) {
	ctx := NewContextWithGin(c)

	peerUuid := c.Query("peerUuid")
	if peerUuid == "" {
		result.Fail(c, nil, consts.CodeParamError)
		return
	}

	state, chatErr := h.friendService.GetRelation(ctx, currentUser(c), peerUuid)
	if chatErr != nil {
		failWithChatError(c, chatErr)
		return
	}
	result.Success(c, gin.H{"relation": state.String()})
}
