package rediskey

import (
	"fmt"
	"strconv"
	"time"
)

// ==================== TTL 常量 ====================

const (
	// DeviceActiveTTL 设备活跃时间缓存 TTL
	DeviceActiveTTL = 45 * 24 * time.Hour

	// GroupMembersTTL 群成员集合缓存 TTL
	GroupMembersTTL = 24 * time.Hour
	// GroupMembersEmptyTTL 群成员空值缓存 TTL
	GroupMembersEmptyTTL = 5 * time.Minute

	// UserInfoTTL 用户信息缓存 TTL
	UserInfoTTL = 1 * time.Hour
	// UserInfoEmptyTTL 用户信息空值缓存 TTL
	UserInfoEmptyTTL = 5 * time.Minute

	// MessageNonceTTL 消息幂等 nonce 的去重窗口
	MessageNonceTTL = 10 * time.Minute
)

// ==================== Key 构造函数 ====================

// AccessTokenKey 生成 AccessToken Key: auth:at:{user_uuid}:{device_id}
// 由签发侧（HTTP 层）写入，本服务只读校验。
func AccessTokenKey(userUUID, deviceID string) string {
	return fmt.Sprintf("auth:at:%s:%s", userUUID, deviceID)
}

// DeviceActiveKey 生成设备活跃时间 Key: user:devices:active:{user_uuid}
func DeviceActiveKey(userUUID string) string {
	return fmt.Sprintf("user:devices:active:%s", userUUID)
}

// UserInfoKey 生成用户信息缓存 Key: user:info:{uuid}
func UserInfoKey(uuid string) string {
	return fmt.Sprintf("user:info:%s", uuid)
}

// GroupMembersKey 生成群成员集合缓存 Key: group:members:{group_id}
func GroupMembersKey(groupID int64) string {
	return fmt.Sprintf("group:members:%d", groupID)
}

// MessageNonceKey 生成消息幂等 Key: msg:nonce:{sender_uuid}:{client_nonce}
// value 为已持久化的 message_id，重放同 nonce 时直接返回原 id。
func MessageNonceKey(senderUUID, clientNonce string) string {
	return fmt.Sprintf("msg:nonce:%s:%s", senderUUID, clientNonce)
}

// ==================== 投递 Topic 构造函数 ====================

// UserTopic 生成用户投递 Topic: chat:topic:user:{user_uuid}
// 该 Topic 承载面向该用户所有设备的消息与通知 envelope。
func UserTopic(userUUID string) string {
	return "chat:topic:user:" + userUUID
}

// GroupTopic 生成群组 Topic: chat:topic:group:{group_id}
// 该 Topic 承载群成员变更通知，不承载消息正文（消息按成员展开到 UserTopic）。
func GroupTopic(groupID int64) string {
	return "chat:topic:group:" + strconv.FormatInt(groupID, 10)
}
