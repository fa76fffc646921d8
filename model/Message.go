package model

import (
	"time"
)

// Message 消息表。
// 约束：
// - Id 为自增主键，同时充当全局严格递增序列，扇出前已分配，客户端按其排序；
// - 一条消息持久化后不可变，投递进度单独落 MessageDelivery，避免写放大；
// - uidx_sender_nonce 保证同 (sender, client_nonce) 只落一行，重放返回原 id。
type Message struct {
	Id          int64  `gorm:"column:id;primaryKey;autoIncrement;comment:消息id(全局递增)"`
	SenderUuid  string `gorm:"column:sender_uuid;type:char(20);not null;uniqueIndex:uidx_sender_nonce;index;comment:发送方uuid"`
	ClientNonce string `gorm:"column:client_nonce;type:varchar(64);not null;uniqueIndex:uidx_sender_nonce;comment:客户端幂等nonce"`

	// 目标：user 或 group 二选一
	TargetKind string `gorm:"column:target_kind;type:varchar(8);not null;comment:目标类型 user/group"`
	TargetUuid string `gorm:"column:target_uuid;type:char(20);index;comment:目标用户uuid(单聊)"`
	GroupId    int64  `gorm:"column:group_id;index;comment:目标群组id(群聊)"`

	Body string `gorm:"column:body;type:text;comment:消息正文"`

	// 附件引用：只存元数据，不存文件字节
	AttachmentUrl  string `gorm:"column:attachment_url;type:varchar(255);comment:附件引用URL"`
	AttachmentSize int64  `gorm:"column:attachment_size;comment:附件声明大小(字节)"`
	AttachmentMime string `gorm:"column:attachment_mime;type:varchar(64);comment:附件声明MIME"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

func (Message) TableName() string { return "message" }

const (
	// TargetKindUser 单聊目标
	TargetKindUser = "user"
	// TargetKindGroup 群聊目标
	TargetKindGroup = "group"
)

// MessageDelivery 每收件人投递进度表。
// 扇出前先写 pending，发布成功后置 published；
// 启动补发扫描会重放长时间停留在 pending 的行。
type MessageDelivery struct {
	Id            int64  `gorm:"column:id;primaryKey;autoIncrement;comment:自增id"`
	MessageId     int64  `gorm:"column:message_id;not null;uniqueIndex:uidx_message_recipient;index;comment:消息id"`
	RecipientUuid string `gorm:"column:recipient_uuid;type:char(20);not null;uniqueIndex:uidx_message_recipient;index;comment:收件人uuid"`

	// 0待发布 1已发布到投递通道
	Status int8 `gorm:"column:status;not null;default:0;index;comment:投递状态"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (MessageDelivery) TableName() string { return "message_delivery" }

const (
	// DeliveryStatusPending 已持久化待发布
	DeliveryStatusPending int8 = 0
	// DeliveryStatusPublished 已发布到投递通道
	DeliveryStatusPublished int8 = 1
)
