package svc

import (
	"context"
	"encoding/json"
	"time"

	rediskey "ChatCore/consts/redisKey"

	"ChatCore/apps/chat/internal/manager"
	"ChatCore/pkg/broker"
	"ChatCore/pkg/logger"
)

// 通知事件。
const (
	NotifyFriendRequest = "friend_request"
	NotifyFriendAccept  = "friend_accept"
	NotifyFriendRemove  = "friend_remove"
	NotifyBlocked       = "blocked"
	NotifyUnblocked     = "unblocked"
	NotifyGroupCreate   = "group_create"
	NotifyGroupJoin     = "group_join"
	NotifyGroupLeave    = "group_leave"
)

// Notifier 向用户推送关系/群组变更通知。
// 通知是尽力而为的：本地会话同步投递，跨进程经投递通道，
// 发布失败只留日志，不进补发队列。
type Notifier struct {
	conns     *manager.ConnectionManager
	publisher broker.Broker
	origin    string
}

// NewNotifier 创建通知器实例。
func NewNotifier(conns *manager.ConnectionManager, publisher broker.Broker, origin string) *Notifier {
	return &Notifier{conns: conns, publisher: publisher, origin: origin}
}

// NotifyUser 向某用户的全部在线设备推送一条通知。
func (n *Notifier) NotifyUser(ctx context.Context, recipientUUID, event, actorUUID string, groupID int64) {
	data := &NotificationData{
		Event:     event,
		ActorUuid: actorUUID,
		GroupId:   groupID,
		At:        time.Now(),
	}
	frame, err := json.Marshal(Envelope{
		Type: FrameNotification,
		Data: mustMarshal(data),
	})
	if err != nil {
		return
	}

	if n.conns != nil {
		n.conns.SendToUser(recipientUUID, frame)
	}

	if n.publisher == nil {
		return
	}
	envelope, err := json.Marshal(BrokerEnvelope{
		Origin:        n.origin,
		RecipientUuid: recipientUUID,
		Frame:         frame,
	})
	if err != nil {
		return
	}
	if err := n.publisher.Publish(ctx, rediskey.UserTopic(recipientUUID), envelope); err != nil {
		logger.Warn(ctx, "通知发布失败",
			logger.String("event", event),
			logger.String("recipient_uuid", recipientUUID),
			logger.ErrorField("error", err),
		)
	}
}

// NotifyGroup 向群 Topic 广播一条通知。
// 不做本地直投，也不写 Origin：本进程同样订阅群 Topic，
// 经订阅回环恰好投递一次，各进程行为一致。
func (n *Notifier) NotifyGroup(ctx context.Context, groupID int64, event, actorUUID string) {
	if n.publisher == nil {
		return
	}

	data := &NotificationData{
		Event:     event,
		ActorUuid: actorUUID,
		GroupId:   groupID,
		At:        time.Now(),
	}
	frame, err := json.Marshal(Envelope{
		Type: FrameNotification,
		Data: mustMarshal(data),
	})
	if err != nil {
		return
	}
	envelope, err := json.Marshal(BrokerEnvelope{Frame: frame})
	if err != nil {
		return
	}
	if err := n.publisher.Publish(ctx, rediskey.GroupTopic(groupID), envelope); err != nil {
		logger.Warn(ctx, "群通知发布失败",
			logger.String("event", event),
			logger.Int64("group_id", groupID),
			logger.ErrorField("error", err),
		)
	}
}
