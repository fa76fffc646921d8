package repository

import (
	"context"
	"time"

	"ChatCore/apps/chat/internal/relation"
	"ChatCore/model"
)

// IRelationRepository 好友/拉黑关系读写契约。
// 读取一致性要求：IsBlocked 与 GetRelationship 直读数据库，
// 反映最近一次已提交写入——拉黑必须对下一条消息立即生效，禁止缓存。
type IRelationRepository interface {
	// GetRelationship 返回 actor 视角下与 peer 的完整关系快照
	GetRelationship(ctx context.Context, actorUUID, peerUUID string) (relation.Relationship, error)
	// IsBlocked 任一方向存在拉黑即为 true
	IsBlocked(ctx context.Context, a, b string) (bool, error)

	// CreatePending 创建 requester -> addressee 的待确认边
	CreatePending(ctx context.Context, requesterUUID, addresseeUUID string) error
	// AcceptEdge 将 requester -> addressee 的待确认边置为已接受
	AcceptEdge(ctx context.Context, requesterUUID, addresseeUUID string) error
	// DeleteEdge 删除两人之间的好友边（双向查找）
	DeleteEdge(ctx context.Context, a, b string) error
	// Block 写入拉黑记录并在同一事务内删除好友边
	Block(ctx context.Context, blockerUUID, blockedUUID string) error
	// Unblock 删除 blocker -> blocked 的拉黑记录
	Unblock(ctx context.Context, blockerUUID, blockedUUID string) error
}

// IGroupRepository 群组与成员读写契约。
type IGroupRepository interface {
	CreateGroup(ctx context.Context, ownerUUID, name string) (*model.GroupInfo, error)
	GetGroup(ctx context.Context, groupID int64) (*model.GroupInfo, error)
	AddMember(ctx context.Context, groupID int64, userUUID string, role int8) error
	RemoveMember(ctx context.Context, groupID int64, userUUID string) error
	IsMember(ctx context.Context, groupID int64, userUUID string) (bool, error)
	// GetGroupMembers 返回群内全部成员 uuid（含发送方），缓存允许，变更时失效
	GetGroupMembers(ctx context.Context, groupID int64) ([]string, error)
	// GetUserGroups 返回用户加入的全部群 id，用于连接建立时的 Topic 订阅
	GetUserGroups(ctx context.Context, userUUID string) ([]int64, error)
}

// IMessageRepository 消息与投递进度读写契约。
type IMessageRepository interface {
	// InsertMessage 持久化消息并为每个收件人写入 pending 投递行。
	// 同 (sender, client_nonce) 重放时返回已存在的消息，duplicated=true。
	// 消息 id 由存储层自增序列分配，返回时已填充。
	InsertMessage(ctx context.Context, msg *model.Message, recipients []string) (saved *model.Message, duplicated bool, err error)
	// GetMessage 按 id 读取消息
	GetMessage(ctx context.Context, messageID int64) (*model.Message, error)
	// MarkPublished 将某收件人的投递行置为已发布
	MarkPublished(ctx context.Context, messageID int64, recipientUUID string) error
	// ListStalePending 返回停留在 pending 超过 age 的投递行，启动补发用
	ListStalePending(ctx context.Context, age time.Duration, limit int) ([]*model.MessageDelivery, error)

	// ListDirectMessages 返回两人之间的单聊历史，按 id 倒序游标分页。
	// beforeID<=0 取最新一页；hasMore 表示游标之前还有更早的消息。
	ListDirectMessages(ctx context.Context, a, b string, beforeID int64, limit int) ([]*model.Message, bool, error)
	// ListGroupMessages 返回群聊历史，游标语义同 ListDirectMessages
	ListGroupMessages(ctx context.Context, groupID int64, beforeID int64, limit int) ([]*model.Message, bool, error)
}

// IUserRepository 用户信息只读契约。
// 仅用于下行帧补充发送方展示信息，允许缓存。
type IUserRepository interface {
	GetByUUID(ctx context.Context, uuid string) (*model.UserInfo, error)
}
