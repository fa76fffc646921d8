package subscriber

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	rediskey "ChatCore/consts/redisKey"

	"ChatCore/apps/chat/internal/manager"
	"ChatCore/model"
	"ChatCore/pkg/broker"
	"ChatCore/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var topicTestLoggerOnce sync.Once

func initTopicTestLogger() {
	topicTestLoggerOnce.Do(func() {
		logger.ReplaceGlobal(zap.NewNop())
	})
}

// recordingConn 满足会话连接契约：读阻塞到关闭，写入落到 written。
type recordingConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  chan struct{}
	once    sync.Once
}

func newRecordingConn() *recordingConn {
	return &recordingConn{closed: make(chan struct{})}
}

func (c *recordingConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, assert.AnError
}

func (c *recordingConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *recordingConn) SetWriteDeadline(time.Time) error { return nil }

func (c *recordingConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *recordingConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// fakeGroupRepo 仅群列表查询有实态，其余方法在本包测试中不会被调用。
type fakeGroupRepo struct {
	groups []int64
}

func groupRepoWithGroups(groups []int64) *fakeGroupRepo {
	return &fakeGroupRepo{groups: groups}
}

func (f *fakeGroupRepo) CreateGroup(_ context.Context, ownerUUID, name string) (*model.GroupInfo, error) {
	return &model.GroupInfo{OwnerUuid: ownerUUID, Name: name}, nil
}

func (f *fakeGroupRepo) GetGroup(_ context.Context, groupID int64) (*model.GroupInfo, error) {
	return &model.GroupInfo{GroupId: groupID}, nil
}

func (f *fakeGroupRepo) AddMember(context.Context, int64, string, int8) error { return nil }

func (f *fakeGroupRepo) RemoveMember(context.Context, int64, string) error { return nil }

func (f *fakeGroupRepo) IsMember(context.Context, int64, string) (bool, error) { return false, nil }

func (f *fakeGroupRepo) GetGroupMembers(context.Context, int64) ([]string, error) { return nil, nil }

func (f *fakeGroupRepo) GetUserGroups(_ context.Context, _ string) ([]int64, error) {
	return f.groups, nil
}

// topicTestEnv 一套在线用户环境：已注册会话 + 已订阅的 TopicManager。
type topicTestEnv struct {
	broker  *broker.MemoryBroker
	conns   *manager.ConnectionManager
	topics  *TopicManager
	conn    *recordingConn
	session *manager.Session
}

func newTopicTestEnv(t *testing.T, userUUID string, groups []int64) *topicTestEnv {
	t.Helper()
	initTopicTestLogger()

	mem := broker.NewMemoryBroker(16)
	conns := manager.NewConnectionManager()
	topics := NewTopicManager(mem, conns, groupRepoWithGroups(groups), "proc-local")

	conn := newRecordingConn()
	sess := manager.NewSession(conn, "s1", userUUID, "d1", manager.SessionOptions{})
	conns.Register(sess)
	go sess.Run(context.Background(), nil, nil)

	require.NoError(t, topics.AddUser(context.Background(), userUUID))

	t.Cleanup(func() {
		topics.Close()
		conns.Shutdown()
		mem.Close()
	})
	return &topicTestEnv{broker: mem, conns: conns, topics: topics, conn: conn, session: sess}
}

func publishEnvelope(t *testing.T, b *broker.MemoryBroker, topic string, env envelope) {
	t.Helper()
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), topic, payload))
}

func TestRemoteEnvelopeDeliveredToLocalSession(t *testing.T) {
	env := newTopicTestEnv(t, "u-alice", nil)

	publishEnvelope(t, env.broker, rediskey.UserTopic("u-alice"), envelope{
		Origin:        "proc-remote",
		RecipientUuid: "u-alice",
		MessageId:     1,
		Frame:         json.RawMessage(`{"type":"message"}`),
	})

	assert.Eventually(t, func() bool {
		return len(env.conn.frames()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"type":"message"}`, string(env.conn.frames()[0]))
}

func TestOwnOriginEnvelopeDropped(t *testing.T) {
	env := newTopicTestEnv(t, "u-alice", nil)

	// 本进程发布的信封已在发布前同步投递过本地会话，订阅侧必须丢弃
	publishEnvelope(t, env.broker, rediskey.UserTopic("u-alice"), envelope{
		Origin:        "proc-local",
		RecipientUuid: "u-alice",
		MessageId:     2,
		Frame:         json.RawMessage(`{"type":"message"}`),
	})

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, env.conn.frames())
}

func TestGroupBroadcastReachesInterestedUsers(t *testing.T) {
	env := newTopicTestEnv(t, "u-alice", []int64{42})

	// 群广播信封不带 recipient，按本进程关注集合投递
	publishEnvelope(t, env.broker, rediskey.GroupTopic(42), envelope{
		Frame: json.RawMessage(`{"type":"notification"}`),
	})

	assert.Eventually(t, func() bool {
		return len(env.conn.frames()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRemoveUserUnsubscribes(t *testing.T) {
	env := newTopicTestEnv(t, "u-alice", []int64{42})

	env.topics.RemoveUser("u-alice")

	publishEnvelope(t, env.broker, rediskey.UserTopic("u-alice"), envelope{
		Origin:        "proc-remote",
		RecipientUuid: "u-alice",
		Frame:         json.RawMessage(`{"type":"message"}`),
	})
	publishEnvelope(t, env.broker, rediskey.GroupTopic(42), envelope{
		Frame: json.RawMessage(`{"type":"notification"}`),
	})

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, env.conn.frames())
}

func TestJoinGroupSubscribesWhileOnline(t *testing.T) {
	env := newTopicTestEnv(t, "u-alice", nil)

	env.topics.JoinGroup(context.Background(), "u-alice", 99)

	publishEnvelope(t, env.broker, rediskey.GroupTopic(99), envelope{
		Frame: json.RawMessage(`{"type":"notification"}`),
	})

	assert.Eventually(t, func() bool {
		return len(env.conn.frames()) == 1
	}, time.Second, 10*time.Millisecond)

	// 退群后群广播不再可达
	env.topics.LeaveGroup("u-alice", 99)
	publishEnvelope(t, env.broker, rediskey.GroupTopic(99), envelope{
		Frame: json.RawMessage(`{"type":"notification"}`),
	})

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, env.conn.frames(), 1)
}

func TestSharedGroupTopicRefCounting(t *testing.T) {
	initTopicTestLogger()

	mem := broker.NewMemoryBroker(16)
	defer mem.Close()
	conns := manager.NewConnectionManager()
	defer conns.Shutdown()
	topics := NewTopicManager(mem, conns, groupRepoWithGroups([]int64{42}), "proc-local")
	defer topics.Close()

	sessions := make(map[string]*recordingConn)
	for _, user := range []string{"u-alice", "u-bob"} {
		conn := newRecordingConn()
		sess := manager.NewSession(conn, "s-"+user, user, "d1", manager.SessionOptions{})
		conns.Register(sess)
		go sess.Run(context.Background(), nil, nil)
		sessions[user] = conn
		require.NoError(t, topics.AddUser(context.Background(), user))
	}

	// 一人退出后，共享的群 Topic 对另一人仍然有效
	topics.RemoveUser("u-alice")

	publishEnvelope(t, mem, rediskey.GroupTopic(42), envelope{
		Frame: json.RawMessage(`{"type":"notification"}`),
	})

	assert.Eventually(t, func() bool {
		return len(sessions["u-bob"].frames()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, sessions["u-alice"].frames())
}
