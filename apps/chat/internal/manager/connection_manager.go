package manager

import "sync"

// ConnectionManager 管理本进程全部在线会话。
// 维护两套索引：
// - byKey(user_uuid:device_id) 精确定位单设备会话；
// - byUser(user_uuid -> device_id -> session) 按用户广播。
// 同设备键约束：同一 (user, device) 最多一个活跃会话，新连接替换旧连接。
type ConnectionManager struct {
	mu       sync.RWMutex
	byKey    map[string]*Session
	byUser   map[string]map[string]*Session
	shutdown bool
}

// NewConnectionManager 创建连接管理器实例。
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byKey:  make(map[string]*Session),
		byUser: make(map[string]map[string]*Session),
	}
}

// Register 注册一个设备会话。
// 返回值：
// - replaced：被新会话替换掉的同设备旧会话（可能为 nil），调用方应主动关闭；
// - firstOfUser：该用户在本进程的首个会话，调用方据此订阅用户 Topic。
func (m *ConnectionManager) Register(sess *Session) (replaced *Session, firstOfUser bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, false
	}

	key := sess.Key()
	if old, ok := m.byKey[key]; ok && old != sess {
		replaced = old
	}

	m.byKey[key] = sess
	userConns, ok := m.byUser[sess.UserUUID()]
	if !ok {
		userConns = make(map[string]*Session)
		m.byUser[sess.UserUUID()] = userConns
		firstOfUser = true
	}
	userConns[sess.DeviceID()] = sess
	return replaced, firstOfUser
}

// Unregister 注销一个会话。
// 只有当索引中当前会话与入参完全一致时才删除，防止并发替换时误删新会话。
// 返回 lastOfUser：该用户在本进程已无会话，调用方据此退订用户 Topic。
func (m *ConnectionManager) Unregister(sess *Session) (lastOfUser bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sess.Key()
	current, ok := m.byKey[key]
	if !ok || current != sess {
		return false
	}

	delete(m.byKey, key)
	if userConns, ok := m.byUser[sess.UserUUID()]; ok {
		delete(userConns, sess.DeviceID())
		if len(userConns) == 0 {
			delete(m.byUser, sess.UserUUID())
			lastOfUser = true
		}
	}
	return lastOfUser
}

// SendToDevice 向指定用户的指定设备发送下行帧。
// 返回 false 表示目标会话不存在或写队列不可用。
func (m *ConnectionManager) SendToDevice(userUUID, deviceID string, msg []byte) bool {
	m.mu.RLock()
	sess := m.byKey[buildKey(userUUID, deviceID)]
	m.mu.RUnlock()
	if sess == nil {
		return false
	}
	return sess.Enqueue(msg)
}

// SendToUser 向用户的所有在线设备广播下行帧。
// 每个会话恰好入队一次，返回成功入队的会话数量。
func (m *ConnectionManager) SendToUser(userUUID string, msg []byte) int {
	m.mu.RLock()
	userConns, ok := m.byUser[userUUID]
	if !ok || len(userConns) == 0 {
		m.mu.RUnlock()
		return 0
	}
	sessions := make([]*Session, 0, len(userConns))
	for _, sess := range userConns {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	sent := 0
	for _, sess := range sessions {
		if sess.Enqueue(msg) {
			sent++
		}
	}
	return sent
}

// IsOnline 判断用户在本进程是否有活跃会话。
func (m *ConnectionManager) IsOnline(userUUID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userUUID]) > 0
}

// Count 返回当前在线会话数（按 user_uuid+device_id 去重后）。
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byKey)
}

// OnlineUsers 返回当前有活跃会话的用户列表。
func (m *ConnectionManager) OnlineUsers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]string, 0, len(m.byUser))
	for uuid := range m.byUser {
		users = append(users, uuid)
	}
	return users
}

// Shutdown 关闭全部会话并阻止后续注册。
// 进程优雅退出阶段调用。
func (m *ConnectionManager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true

	sessions := make([]*Session, 0, len(m.byKey))
	for _, sess := range m.byKey {
		sessions = append(sessions, sess)
	}
	m.byKey = make(map[string]*Session)
	m.byUser = make(map[string]map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

// buildKey 统一构造设备连接键。
func buildKey(userUUID, deviceID string) string {
	return userUUID + ":" + deviceID
}
