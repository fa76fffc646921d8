package svc

import (
	"encoding/json"
	"time"
)

// ==================== WebSocket 帧 ====================

// 帧类型约定。上下行共用 type 字段区分。
const (
	FrameHeartbeat    = "heartbeat"     // 上行心跳
	FrameHeartbeatAck = "heartbeat_ack" // 下行心跳应答
	FrameMessage      = "message"       // 上行发消息 / 下行收消息
	FrameAck          = "ack"           // 下行发送回执
	FrameError        = "error"         // 下行错误
	FrameNotification = "notification"  // 下行关系/群组变更通知
)

// Envelope 定义 WebSocket 通用消息包格式。
// 约定：
// - Type: 帧类型；
// - Data: 帧体（由上层按 Type 再解析）。
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AttachmentData 附件引用元数据。只传引用，不传文件字节。
type AttachmentData struct {
	Url  string `json:"url" validate:"required,max=255"`
	Size int64  `json:"size" validate:"required,gt=0"`
	Mime string `json:"mime" validate:"required,max=64"`
}

// SendMessageData 上行 type=message 的帧体。
// target_kind=user 时 target_uuid 必填，=group 时 group_id 必填。
type SendMessageData struct {
	ClientNonce string          `json:"client_nonce" validate:"required,max=64"`
	TargetKind  string          `json:"target_kind" validate:"required,oneof=user group"`
	TargetUuid  string          `json:"target_uuid" validate:"required_if=TargetKind user,omitempty,max=20"`
	GroupId     int64           `json:"group_id" validate:"required_if=TargetKind group"`
	Body        string          `json:"body"`
	Attachment  *AttachmentData `json:"attachment,omitempty"`
}

// DeliverMessageData 下行 type=message 的帧体。
type DeliverMessageData struct {
	MessageId  int64           `json:"message_id"`
	SenderUuid string          `json:"sender_uuid"`
	SenderName string          `json:"sender_name,omitempty"`
	TargetKind string          `json:"target_kind"`
	GroupId    int64           `json:"group_id,omitempty"`
	Body       string          `json:"body,omitempty"`
	Attachment *AttachmentData `json:"attachment,omitempty"`
	SentAt     time.Time       `json:"sent_at"`
}

// AckData 下行 type=ack 的帧体。
// 重放时 duplicate=true，message_id 为首次保存的 id。
type AckData struct {
	MessageId   int64  `json:"message_id"`
	ClientNonce string `json:"client_nonce"`
	Duplicate   bool   `json:"duplicate,omitempty"`
}

// ErrorData 下行 type=error 的帧体。
// error_kind 标识错误类别，client_nonce 帮助客户端关联到被拒绝的那次发送。
type ErrorData struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	ErrorKind   string `json:"error_kind,omitempty"`
	ClientNonce string `json:"client_nonce,omitempty"`
}

// NotificationData 下行 type=notification 的帧体。
// event 取值：friend_request / friend_accept / friend_remove /
// blocked / unblocked / group_join / group_leave / group_create。
type NotificationData struct {
	Event     string    `json:"event"`
	ActorUuid string    `json:"actor_uuid"`
	GroupId   int64     `json:"group_id,omitempty"`
	At        time.Time `json:"at"`
}

// ==================== 跨进程投递信封 ====================

// BrokerEnvelope 投递通道上的消息载体。
// Origin 为发布方进程 id：订阅循环据此丢弃本进程发布的信封，
// 本地收件人在发布前已同步投递，否则同进程会话会收到两次。
// Frame 为可直接下发的 WebSocket 帧字节。
type BrokerEnvelope struct {
	Origin        string          `json:"origin"`
	RecipientUuid string          `json:"recipient_uuid"`
	MessageId     int64           `json:"message_id,omitempty"`
	Frame         json.RawMessage `json:"frame"`
}
