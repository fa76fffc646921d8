package handler

import (
	"strconv"

	"ChatCore/apps/chat/internal/svc"
	"ChatCore/consts"
	"ChatCore/pkg/result"

	"github.com/gin-gonic/gin"
)

// MessageHandler 历史消息处理器。
// 翻页游标是消息 id：响应携带 nextCursor，客户端下一页回传 beforeId。
type MessageHandler struct {
	historyService svc.HistoryService
}

// NewMessageHandler 创建历史消息处理器
func NewMessageHandler(historyService svc.HistoryService) *MessageHandler {
	return &MessageHandler{historyService: historyService}
}

// DirectHistory 查询与某用户的单聊历史
// @Router /api/v1/message/direct [get]
func (h *MessageHandler) DirectHistory(c *gin.Context) {
	ctx := NewContextWithGin(c)

	peerUuid := c.Query("peerUuid")
	if peerUuid == "" {
		result.Fail(c, nil, consts.CodeParamError)
		return
	}
	beforeID, limit, ok := parseHistoryCursor(c)
	if !ok {
		return
	}

	messages, hasMore, chatErr := h.historyService.DirectHistory(ctx, currentUser(c), peerUuid, beforeID, limit)
	if chatErr != nil {
		failWithChatError(c, chatErr)
		return
	}
	writeHistoryPage(c, messages, hasMore)
}

// GroupHistory 查询群聊历史
// @Router /api/v1/message/group/:groupId [get]
func (h *MessageHandler) GroupHistory(c *gin.Context) {
	ctx := NewContextWithGin(c)

	groupID, ok := parseGroupID(c)
	if !ok {
		return
	}
	beforeID, limit, ok := parseHistoryCursor(c)
	if !ok {
		return
	}

	messages, hasMore, chatErr := h.historyService.GroupHistory(ctx, currentUser(c), groupID, beforeID, limit)
	if chatErr != nil {
		failWithChatError(c, chatErr)
		return
	}
	writeHistoryPage(c, messages, hasMore)
}

// parseHistoryCursor 解析翻页参数，两者都可缺省。
func parseHistoryCursor(c *gin.Context) (beforeID int64, limit int, ok bool) {
	if raw := c.Query("beforeId"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			result.Fail(c, nil, consts.CodeParamError)
			return 0, 0, false
		}
		beforeID = parsed
	}
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			result.Fail(c, nil, consts.CodeParamError)
			return 0, 0, false
		}
		limit = parsed
	}
	return beforeID, limit, true
}

// writeHistoryPage 统一的历史页响应：消息倒序 + 是否还有更早页 + 下一页游标。
func writeHistoryPage(c *gin.Context, messages []*svc.DeliverMessageData, hasMore bool) {
	resp := gin.H{
		"messages": messages,
		"hasMore":  hasMore,
	}
	if hasMore && len(messages) > 0 {
		resp["nextCursor"] = messages[len(messages)-1].MessageId
	}
	result.Success(c, resp)
}
