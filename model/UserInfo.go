package model

import (
	"time"

	"gorm.io/gorm"
)

// UserInfo 用户基础信息表。
// 本服务视角下用户是引用实体：注册由外部 HTTP 服务完成，这里只读与软更新，
// 永不硬删除（消息与关系表均引用 uuid）。
type UserInfo struct {
	Id       int64  `gorm:"column:id;primaryKey;autoIncrement;comment:自增id"`
	Uuid     string `gorm:"column:uuid;type:char(20);not null;uniqueIndex;comment:用户uuid"`
	Username string `gorm:"column:username;type:varchar(32);not null;uniqueIndex;comment:用户名(唯一,不可变)"`
	Nickname string `gorm:"column:nickname;type:varchar(64);comment:昵称"`
	Avatar   string `gorm:"column:avatar;type:varchar(255);comment:头像URL"`

	// 0正常 1禁用
	Status int8 `gorm:"column:status;not null;default:0;comment:状态"`

	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (UserInfo) TableName() string { return "user_info" }

const (
	// UserStatusNormal 正常
	UserStatusNormal int8 = 0
	// UserStatusDisabled 禁用
	UserStatusDisabled int8 = 1
)
