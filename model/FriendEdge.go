package model

import (
	"time"
)

// FriendEdge 好友关系边。
// 一对用户最多一条边（申请方向固定为 requester -> addressee），
// 查询时需要双向查找。状态只有 PENDING/ACCEPTED 两档，
// 拉黑单独落 UserBlock 表：block 语义覆盖边状态，且有明确的发起方。
type FriendEdge struct {
	Id            int64  `gorm:"column:id;primaryKey;autoIncrement;comment:自增id"`
	RequesterUuid string `gorm:"column:requester_uuid;type:char(20);not null;uniqueIndex:uidx_requester_addressee;index;comment:申请方uuid"`
	AddresseeUuid string `gorm:"column:addressee_uuid;type:char(20);not null;uniqueIndex:uidx_requester_addressee;index;comment:接收方uuid"`

	// 0待确认 1已接受
	Status int8 `gorm:"column:status;not null;default:0;comment:边状态"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (FriendEdge) TableName() string { return "friend_edge" }

const (
	// EdgeStatusPending 申请已发出，等待接收方处理
	EdgeStatusPending int8 = 0
	// EdgeStatusAccepted 双方已互为好友
	EdgeStatusAccepted int8 = 1
)

// UserBlock 拉黑记录（有向）。
// 任一方向存在记录即禁止双方消息互通；解除只能由 blocker 发起。
type UserBlock struct {
	Id          int64  `gorm:"column:id;primaryKey;autoIncrement;comment:自增id"`
	BlockerUuid string `gorm:"column:blocker_uuid;type:char(20);not null;uniqueIndex:uidx_blocker_blocked;index;comment:拉黑发起方uuid"`
	BlockedUuid string `gorm:"column:blocked_uuid;type:char(20);not null;uniqueIndex:uidx_blocker_blocked;index;comment:被拉黑方uuid"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (UserBlock) TableName() string { return "user_block" }
