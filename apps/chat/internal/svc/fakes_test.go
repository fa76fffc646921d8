package svc

import (
	"context"
	"errors"
	"sync"
	"time"

	"ChatCore/apps/chat/internal/relation"
	"ChatCore/model"
	"ChatCore/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var svcTestLoggerOnce sync.Once

func initSvcTestLogger() {
	svcTestLoggerOnce.Do(func() {
		logger.ReplaceGlobal(zap.NewNop())
	})
}

// ==================== 仓储 fakes ====================

type fakeRelationRepository struct {
	getRelationshipFn func(ctx context.Context, actorUUID, peerUUID string) (relation.Relationship, error)
	isBlockedFn       func(ctx context.Context, a, b string) (bool, error)
	createPendingFn   func(ctx context.Context, requesterUUID, addresseeUUID string) error
	acceptEdgeFn      func(ctx context.Context, requesterUUID, addresseeUUID string) error
	deleteEdgeFn      func(ctx context.Context, a, b string) error
	blockFn           func(ctx context.Context, blockerUUID, blockedUUID string) error
	unblockFn         func(ctx context.Context, blockerUUID, blockedUUID string) error
}

func (f *fakeRelationRepository) GetRelationship(ctx context.Context, actorUUID, peerUUID string) (relation.Relationship, error) {
	if f.getRelationshipFn == nil {
		return relation.Relationship{}, nil
	}
	return f.getRelationshipFn(ctx, actorUUID, peerUUID)
}

func (f *fakeRelationRepository) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	if f.isBlockedFn == nil {
		return false, nil
	}
	return f.isBlockedFn(ctx, a, b)
}

func (f *fakeRelationRepository) CreatePending(ctx context.Context, requesterUUID, addresseeUUID string) error {
	if f.createPendingFn == nil {
		return nil
	}
	return f.createPendingFn(ctx, requesterUUID, addresseeUUID)
}

func (f *fakeRelationRepository) AcceptEdge(ctx context.Context, requesterUUID, addresseeUUID string) error {
	if f.acceptEdgeFn == nil {
		return nil
	}
	return f.acceptEdgeFn(ctx, requesterUUID, addresseeUUID)
}

func (f *fakeRelationRepository) DeleteEdge(ctx context.Context, a, b string) error {
	if f.deleteEdgeFn == nil {
		return nil
	}
	return f.deleteEdgeFn(ctx, a, b)
}

func (f *fakeRelationRepository) Block(ctx context.Context, blockerUUID, blockedUUID string) error {
	if f.blockFn == nil {
		return nil
	}
	return f.blockFn(ctx, blockerUUID, blockedUUID)
}

func (f *fakeRelationRepository) Unblock(ctx context.Context, blockerUUID, blockedUUID string) error {
	if f.unblockFn == nil {
		return nil
	}
	return f.unblockFn(ctx, blockerUUID, blockedUUID)
}

type fakeGroupRepository struct {
	createGroupFn     func(ctx context.Context, ownerUUID, name string) (*model.GroupInfo, error)
	getGroupFn        func(ctx context.Context, groupID int64) (*model.GroupInfo, error)
	addMemberFn       func(ctx context.Context, groupID int64, userUUID string, role int8) error
	removeMemberFn    func(ctx context.Context, groupID int64, userUUID string) error
	isMemberFn        func(ctx context.Context, groupID int64, userUUID string) (bool, error)
	getGroupMembersFn func(ctx context.Context, groupID int64) ([]string, error)
	getUserGroupsFn   func(ctx context.Context, userUUID string) ([]int64, error)
}

func (f *fakeGroupRepository) CreateGroup(ctx context.Context, ownerUUID, name string) (*model.GroupInfo, error) {
	if f.createGroupFn == nil {
		return &model.GroupInfo{GroupId: 1, OwnerUuid: ownerUUID, Name: name}, nil
	}
	return f.createGroupFn(ctx, ownerUUID, name)
}

func (f *fakeGroupRepository) GetGroup(ctx context.Context, groupID int64) (*model.GroupInfo, error) {
	if f.getGroupFn == nil {
		return &model.GroupInfo{GroupId: groupID}, nil
	}
	return f.getGroupFn(ctx, groupID)
}

func (f *fakeGroupRepository) AddMember(ctx context.Context, groupID int64, userUUID string, role int8) error {
	if f.addMemberFn == nil {
		return nil
	}
	return f.addMemberFn(ctx, groupID, userUUID, role)
}

func (f *fakeGroupRepository) RemoveMember(ctx context.Context, groupID int64, userUUID string) error {
	if f.removeMemberFn == nil {
		return nil
	}
	return f.removeMemberFn(ctx, groupID, userUUID)
}

func (f *fakeGroupRepository) IsMember(ctx context.Context, groupID int64, userUUID string) (bool, error) {
	if f.isMemberFn == nil {
		return false, nil
	}
	return f.isMemberFn(ctx, groupID, userUUID)
}

func (f *fakeGroupRepository) GetGroupMembers(ctx context.Context, groupID int64) ([]string, error) {
	if f.getGroupMembersFn == nil {
		return nil, nil
	}
	return f.getGroupMembersFn(ctx, groupID)
}

func (f *fakeGroupRepository) GetUserGroups(ctx context.Context, userUUID string) ([]int64, error) {
	if f.getUserGroupsFn == nil {
		return nil, nil
	}
	return f.getUserGroupsFn(ctx, userUUID)
}

// fakeMessageRepository 带内置行为的消息仓储：
// 自增 id 分配 + 按 (sender, nonce) 去重 + 记录投递回写，
// 覆盖路由测试需要的全部持久化语义。
type fakeMessageRepository struct {
	mu        sync.Mutex
	nextID    int64
	saved     []*model.Message
	byNonce   map[string]*model.Message
	published map[int64][]string
	insertErr error
	stale     []*model.MessageDelivery
}

func newFakeMessageRepository() *fakeMessageRepository {
	return &fakeMessageRepository{
		byNonce:   make(map[string]*model.Message),
		published: make(map[int64][]string),
	}
}

func (f *fakeMessageRepository) InsertMessage(_ context.Context, msg *model.Message, _ []string) (*model.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.insertErr != nil {
		return nil, false, f.insertErr
	}

	key := msg.SenderUuid + ":" + msg.ClientNonce
	if existing, ok := f.byNonce[key]; ok {
		return existing, true, nil
	}

	f.nextID++
	msg.Id = f.nextID
	msg.CreatedAt = time.Now()
	f.byNonce[key] = msg
	f.saved = append(f.saved, msg)
	return msg, false, nil
}

func (f *fakeMessageRepository) GetMessage(_ context.Context, messageID int64) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range f.saved {
		if msg.Id == messageID {
			return msg, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeMessageRepository) MarkPublished(_ context.Context, messageID int64, recipientUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[messageID] = append(f.published[messageID], recipientUUID)
	return nil
}

func (f *fakeMessageRepository) ListStalePending(_ context.Context, _ time.Duration, _ int) ([]*model.MessageDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stale, nil
}

func (f *fakeMessageRepository) ListDirectMessages(_ context.Context, a, b string, beforeID int64, limit int) ([]*model.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	match := func(msg *model.Message) bool {
		return msg.TargetKind == model.TargetKindUser &&
			((msg.SenderUuid == a && msg.TargetUuid == b) || (msg.SenderUuid == b && msg.TargetUuid == a))
	}
	return f.pageLocked(match, beforeID, limit)
}

func (f *fakeMessageRepository) ListGroupMessages(_ context.Context, groupID int64, beforeID int64, limit int) ([]*model.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	match := func(msg *model.Message) bool {
		return msg.TargetKind == model.TargetKindGroup && msg.GroupId == groupID
	}
	return f.pageLocked(match, beforeID, limit)
}

// pageLocked 复刻存储层的游标语义：id 倒序，多取一条判断还有没有更早页。
func (f *fakeMessageRepository) pageLocked(match func(*model.Message) bool, beforeID int64, limit int) ([]*model.Message, bool, error) {
	var rows []*model.Message
	for i := len(f.saved) - 1; i >= 0; i-- {
		msg := f.saved[i]
		if !match(msg) {
			continue
		}
		if beforeID > 0 && msg.Id >= beforeID {
			continue
		}
		rows = append(rows, msg)
		if len(rows) > limit {
			break
		}
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	return rows, hasMore, nil
}

func (f *fakeMessageRepository) publishedTo(messageID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published[messageID]...)
}

// ==================== 会话连接 fake ====================

// stubConn 满足会话连接契约：读阻塞到关闭，写入帧落到 written。
type stubConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  chan struct{}
	once    sync.Once
}

func newStubConn() *stubConn {
	return &stubConn{closed: make(chan struct{})}
}

func (c *stubConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errConnClosed
}

func (c *stubConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *stubConn) SetWriteDeadline(time.Time) error { return nil }

func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *stubConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

var errConnClosed = errors.New("connection closed")

type fakeUserRepository struct {
	getByUUIDFn func(ctx context.Context, uuid string) (*model.UserInfo, error)
}

func (f *fakeUserRepository) GetByUUID(ctx context.Context, uuid string) (*model.UserInfo, error) {
	if f.getByUUIDFn == nil {
		return &model.UserInfo{Uuid: uuid, Nickname: "nick-" + uuid}, nil
	}
	return f.getByUUIDFn(ctx, uuid)
}
