package manager

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn 满足 wsConn，供不依赖网络的会话测试使用。
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	readCh  chan []byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{readCh: make(chan []byte, 16)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	raw, ok := <-f.readCh
	if !ok {
		return 0, nil, assert.AnError
	}
	return 1, raw, nil
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return assert.AnError
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.readCh)
	}
	return nil
}

func newTestSession(sessionID, userUUID, deviceID string) *Session {
	return NewSession(newFakeConn(), sessionID, userUUID, deviceID, SessionOptions{})
}

func TestRegisterAndSendToDevice(t *testing.T) {
	m := NewConnectionManager()
	sess := newTestSession("s1", "user-a", "phone")

	replaced, first := m.Register(sess)
	assert.Nil(t, replaced)
	assert.True(t, first)
	assert.Equal(t, 1, m.Count())

	ok := m.SendToDevice("user-a", "phone", []byte(`{"type":"message"}`))
	assert.True(t, ok)

	ok = m.SendToDevice("user-a", "tablet", []byte("x"))
	assert.False(t, ok, "未注册设备不应可达")
}

func TestRegisterReplacesSameDevice(t *testing.T) {
	m := NewConnectionManager()
	old := newTestSession("s1", "user-a", "phone")
	m.Register(old)

	fresh := newTestSession("s2", "user-a", "phone")
	replaced, first := m.Register(fresh)

	require.NotNil(t, replaced)
	assert.Equal(t, "s1", replaced.SessionID())
	assert.False(t, first, "同用户第二次注册不是首会话")
	assert.Equal(t, 1, m.Count(), "同设备替换后总数不变")
}

func TestSendToUserReachesEachSessionOnce(t *testing.T) {
	m := NewConnectionManager()
	phone := newTestSession("s1", "user-a", "phone")
	tablet := newTestSession("s2", "user-a", "tablet")
	other := newTestSession("s3", "user-b", "phone")
	m.Register(phone)
	m.Register(tablet)
	m.Register(other)

	payload, _ := json.Marshal(map[string]string{"type": "message", "body": "hi"})
	sent := m.SendToUser("user-a", payload)
	assert.Equal(t, 2, sent, "每个在线设备恰好入队一次")

	// 队列里各恰好一条
	assert.Len(t, drain(phone), 1)
	assert.Len(t, drain(tablet), 1)
	assert.Len(t, drain(other), 0, "其他用户不应收到")
}

func TestUnregisterOnlyRemovesCurrentSession(t *testing.T) {
	m := NewConnectionManager()
	old := newTestSession("s1", "user-a", "phone")
	m.Register(old)
	fresh := newTestSession("s2", "user-a", "phone")
	m.Register(fresh)

	// 旧会话晚退出，不应误删新会话
	last := m.Unregister(old)
	assert.False(t, last)
	assert.Equal(t, 1, m.Count())
	assert.True(t, m.IsOnline("user-a"))

	last = m.Unregister(fresh)
	assert.True(t, last, "用户最后一个会话注销")
	assert.False(t, m.IsOnline("user-a"))
	assert.Equal(t, 0, m.Count())
}

func TestLastOfUserAcrossDevices(t *testing.T) {
	m := NewConnectionManager()
	phone := newTestSession("s1", "user-a", "phone")
	tablet := newTestSession("s2", "user-a", "tablet")
	m.Register(phone)
	m.Register(tablet)

	assert.False(t, m.Unregister(phone), "还有其他设备在线")
	assert.True(t, m.Unregister(tablet))
}

func TestShutdownClosesAllAndBlocksRegister(t *testing.T) {
	m := NewConnectionManager()
	sess := newTestSession("s1", "user-a", "phone")
	m.Register(sess)

	m.Shutdown()
	assert.Equal(t, 0, m.Count())

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("shutdown 后会话应被关闭")
	}

	replaced, first := m.Register(newTestSession("s2", "user-b", "phone"))
	assert.Nil(t, replaced)
	assert.False(t, first)
	assert.Equal(t, 0, m.Count(), "shutdown 后拒绝新注册")
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	sess := newTestSession("s1", "user-a", "phone")
	assert.True(t, sess.Enqueue([]byte("x")))
	sess.Close()
	assert.False(t, sess.Enqueue([]byte("y")))
}

// drain 取出会话写队列中当前积压的全部帧。
func drain(s *Session) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-s.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}
