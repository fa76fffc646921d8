package model

import (
	"time"

	"gorm.io/gorm"
)

// GroupInfo 群组信息表。
// GroupId 由雪花算法生成（可排序），与自增主键分离，便于对外暴露。
type GroupInfo struct {
	Id        int64  `gorm:"column:id;primaryKey;autoIncrement;comment:自增id"`
	GroupId   int64  `gorm:"column:group_id;not null;uniqueIndex;comment:群组id(雪花)"`
	OwnerUuid string `gorm:"column:owner_uuid;type:char(20);not null;index;comment:群主uuid"`
	Name      string `gorm:"column:name;type:varchar(64);not null;comment:群名称"`

	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (GroupInfo) TableName() string { return "group_info" }

// GroupMember 群成员表。
// 成员在群即参与该群消息扇出（发送方与拉黑对除外）。
type GroupMember struct {
	Id       int64  `gorm:"column:id;primaryKey;autoIncrement;comment:自增id"`
	GroupId  int64  `gorm:"column:group_id;not null;uniqueIndex:uidx_group_user;index;comment:群组id"`
	UserUuid string `gorm:"column:user_uuid;type:char(20);not null;uniqueIndex:uidx_group_user;index;comment:成员uuid"`

	// 0普通成员 1管理员 2群主
	Role int8 `gorm:"column:role;not null;default:0;comment:角色"`

	JoinedAt  time.Time      `gorm:"column:joined_at;autoCreateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (GroupMember) TableName() string { return "group_member" }

const (
	// GroupRoleMember 普通成员
	GroupRoleMember int8 = 0
	// GroupRoleAdmin 管理员
	GroupRoleAdmin int8 = 1
	// GroupRoleOwner 群主
	GroupRoleOwner int8 = 2
)
