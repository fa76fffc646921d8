package handler

import (
	"strconv"

	"ChatCore/apps/chat/internal/subscriber"
	"ChatCore/apps/chat/internal/svc"
	"ChatCore/consts"
	"ChatCore/pkg/result"

	"github.com/gin-gonic/gin"
)

// GroupHandler 群组处理器。
// 进/退群成功后同步调整本进程的群 Topic 订阅，
// 其他进程经群 Topic 上的通知信封感知不到订阅变化，
// 它们的本地订阅在各自用户下次连接时重建。
type GroupHandler struct {
	groupService svc.GroupService
	topics       *subscriber.TopicManager
}

// NewGroupHandler 创建群组处理器
func NewGroupHandler(groupService svc.GroupService, topics *subscriber.TopicManager) *GroupHandler {
	return &GroupHandler{groupService: groupService, topics: topics}
}

// createGroupRequest 建群请求体。
type createGroupRequest struct {
	Name string `json:"name" binding:"required"`
}

// Create 创建群组
// @Router /api/v1/group [post]
func (h *GroupHandler) Create(c *gin.Context) {
	ctx := NewContextWithGin(c)

	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		result.Fail(c, nil, consts.CodeParamError)
		return
	}

	group, chatErr := h.groupService.Create(ctx, currentUser(c), req.Name)
	if chatErr != nil {
		failWithChatError(c, chatErr)
		return
	}

	h.topics.JoinGroup(ctx, currentUser(c), group.GroupId)
	result.Success(c, gin.H{
		"groupId": strconv.FormatInt(group.GroupId, 10),
		"name":    group.Name,
	})
}

// Join 加入群组
// @Router /api/v1/group/:groupId/join [post]
func (h *GroupHandler) Join(c *gin.Context) {
	ctx := NewContextWithGin(c)

	groupID, ok := parseGroupID(c)
	if !ok {
		return
	}

	if chatErr := h.groupService.Join(ctx, groupID, currentUser(c)); chatErr != nil {
		failWithChatError(c, chatErr)
		return
	}

	h.topics.JoinGroup(ctx, currentUser(c), groupID)
	result.Success(c, nil)
}

// Leave 退出群组
// @Router /api/v1/group/:groupId/leave [post]
func (h *GroupHandler) Leave(c *gin.Context) {
	ctx := NewContextWithGin(c)

	groupID, ok := parseGroupID(c)
	if !ok {
		return
	}

	if chatErr := h.groupService.Leave(ctx, groupID, currentUser(c)); chatErr != nil {
		failWithChatError(c, chatErr)
		return
	}

	h.topics.LeaveGroup(currentUser(c), groupID)
	result.Success(c, nil)
}

// Members 查询群成员
// @Router /api/v1/group/:groupId/members [get]
func (h *GroupHandler) Members(c *gin.Context) {
	ctx := NewContextWithGin(c)

	groupID, ok := parseGroupID(c)
	if !ok {
		return
	}

	members, chatErr := h.groupService.Members(ctx, groupID, currentUser(c))
	if chatErr != nil {
		failWithChatError(c, chatErr)
		return
	}
	result.Success(c, gin.H{"members": members})
}

// parseGroupID 解析路径里的群 id，非法时直接写响应。
func parseGroupID(c *gin.Context) (int64, bool) {
	groupID, err := strconv.ParseInt(c.Param("groupId"), 10, 64)
	if err != nil || groupID <= 0 {
		result.Fail(c, nil, consts.CodeParamError)
		return 0, false
	}
	return groupID, true
}
