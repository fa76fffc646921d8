package subscriber

import (
	"context"
	"encoding/json"
	"sync"

	rediskey "ChatCore/consts/redisKey"

	"ChatCore/apps/chat/internal/manager"
	"ChatCore/apps/chat/internal/repository"
	"ChatCore/pkg/broker"
	"ChatCore/pkg/logger"
)

// envelope 与发布侧 svc.BrokerEnvelope 对应的接收结构。
type envelope struct {
	Origin        string          `json:"origin"`
	RecipientUuid string          `json:"recipient_uuid"`
	MessageId     int64           `json:"message_id,omitempty"`
	Frame         json.RawMessage `json:"frame"`
}

// topicSub 单个 Topic 的订阅状态。
// interested 记录本进程内关注该 Topic 的用户及引用数，
// 群 Topic 的广播信封按该集合投递。
type topicSub struct {
	cancel     func()
	interested map[string]int
}

// TopicManager 管理本进程的投递通道订阅，按用户引用计数：
// - 用户首个会话建立时订阅其用户 Topic 和所在群的群 Topic；
// - 最后一个会话断开时退订；
// - 多用户共享同一群 Topic 时只保留一份订阅。
// 用户 Topic 上带 origin 的信封若来自本进程则丢弃——
// 本地会话在发布前已同步投递，重复转发会导致同会话收到两次。
type TopicManager struct {
	broker    broker.Broker
	conns     *manager.ConnectionManager
	groupRepo repository.IGroupRepository
	origin    string

	mu     sync.Mutex
	subs   map[string]*topicSub
	byUser map[string]map[string]struct{} // user -> 其引用的 topic 集合
	closed bool
}

// NewTopicManager 创建订阅管理器实例。
func NewTopicManager(b broker.Broker, conns *manager.ConnectionManager, groupRepo repository.IGroupRepository, origin string) *TopicManager {
	return &TopicManager{
		broker:    b,
		conns:     conns,
		groupRepo: groupRepo,
		origin:    origin,
		subs:      make(map[string]*topicSub),
		byUser:    make(map[string]map[string]struct{}),
	}
}

// AddUser 在用户首个本地会话建立时调用。
// 订阅用户 Topic 与该用户全部群的群 Topic；群列表读取失败时
// 仍保证用户 Topic 可用，群 Topic 缺口只记日志。
func (m *TopicManager) AddUser(ctx context.Context, userUUID string) error {
	if err := m.retain(ctx, rediskey.UserTopic(userUUID), userUUID); err != nil {
		return err
	}

	groupIDs, err := m.groupRepo.GetUserGroups(ctx, userUUID)
	if err != nil {
		logger.Warn(ctx, "读取用户群列表失败，群通知订阅缺失",
			logger.String("user_uuid", userUUID),
			logger.ErrorField("error", err),
		)
		return nil
	}
	for _, groupID := range groupIDs {
		if err := m.retain(ctx, rediskey.GroupTopic(groupID), userUUID); err != nil {
			logger.Warn(ctx, "订阅群 Topic 失败",
				logger.Int64("group_id", groupID),
				logger.ErrorField("error", err),
			)
		}
	}
	return nil
}

// RemoveUser 在用户最后一个本地会话断开时调用，释放其全部订阅。
func (m *TopicManager) RemoveUser(userUUID string) {
	m.mu.Lock()
	topics := make([]string, 0, len(m.byUser[userUUID]))
	for topic := range m.byUser[userUUID] {
		topics = append(topics, topic)
	}
	m.mu.Unlock()

	for _, topic := range topics {
		m.release(topic, userUUID)
	}
}

// JoinGroup 用户在线期间进群后补订群 Topic。
func (m *TopicManager) JoinGroup(ctx context.Context, userUUID string, groupID int64) {
	if !m.conns.IsOnline(userUUID) {
		return
	}
	if err := m.retain(ctx, rediskey.GroupTopic(groupID), userUUID); err != nil {
		logger.Warn(ctx, "订阅群 Topic 失败",
			logger.Int64("group_id", groupID),
			logger.ErrorField("error", err),
		)
	}
}

// LeaveGroup 用户退群后释放群 Topic 引用。
func (m *TopicManager) LeaveGroup(userUUID string, groupID int64) {
	m.release(rediskey.GroupTopic(groupID), userUUID)
}

// Close 释放全部订阅，进程退出时调用。
func (m *TopicManager) Close() {
	m.mu.Lock()
	m.closed = true
	cancels := make([]func(), 0, len(m.subs))
	for _, sub := range m.subs {
		cancels = append(cancels, sub.cancel)
	}
	m.subs = make(map[string]*topicSub)
	m.byUser = make(map[string]map[string]struct{})
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// retain 为用户增加一个 Topic 引用，必要时建立真实订阅。
func (m *TopicManager) retain(ctx context.Context, topic, userUUID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}

	if sub, ok := m.subs[topic]; ok {
		sub.interested[userUUID]++
		m.userTopicsLocked(userUUID)[topic] = struct{}{}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	// 建订阅不持锁：broker 侧可能有网络往返
	ch, cancel, err := m.broker.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil
	}
	if sub, ok := m.subs[topic]; ok {
		// 并发 retain 竞争，保留先建立的订阅
		sub.interested[userUUID]++
		m.userTopicsLocked(userUUID)[topic] = struct{}{}
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.subs[topic] = &topicSub{
		cancel:     cancel,
		interested: map[string]int{userUUID: 1},
	}
	m.userTopicsLocked(userUUID)[topic] = struct{}{}
	m.mu.Unlock()

	go m.pump(topic, ch)
	return nil
}

// release 减少用户对 Topic 的引用，归零时退订。
func (m *TopicManager) release(topic, userUUID string) {
	m.mu.Lock()
	sub, ok := m.subs[topic]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, has := sub.interested[userUUID]; has {
		sub.interested[userUUID]--
		if sub.interested[userUUID] <= 0 {
			delete(sub.interested, userUUID)
		}
		if userTopics, ok := m.byUser[userUUID]; ok {
			delete(userTopics, topic)
			if len(userTopics) == 0 {
				delete(m.byUser, userUUID)
			}
		}
	}

	var cancel func()
	if len(sub.interested) == 0 {
		cancel = sub.cancel
		delete(m.subs, topic)
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// pump 消费单个 Topic 的订阅通道，通道关闭后退出。
func (m *TopicManager) pump(topic string, ch <-chan broker.Message) {
	for msg := range ch {
		m.dispatch(topic, msg.Payload)
	}
}

// dispatch 将一条信封投递到本地会话。
// 规则：
// - origin 等于本进程 id 的信封丢弃（本地已同步投递）；
// - 带 recipient 的信封定向投递；
// - 群 Topic 广播信封投递给本进程关注该 Topic 的全部用户。
func (m *TopicManager) dispatch(topic string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Warn(context.Background(), "解析投递信封失败",
			logger.String("topic", topic),
			logger.ErrorField("error", err),
		)
		return
	}

	if env.Origin != "" && env.Origin == m.origin {
		return
	}

	if env.RecipientUuid != "" {
		m.conns.SendToUser(env.RecipientUuid, env.Frame)
		return
	}

	m.mu.Lock()
	sub, ok := m.subs[topic]
	var users []string
	if ok {
		users = make([]string, 0, len(sub.interested))
		for user := range sub.interested {
			users = append(users, user)
		}
	}
	m.mu.Unlock()

	for _, user := range users {
		m.conns.SendToUser(user, env.Frame)
	}
}

// userTopicsLocked 返回用户的 topic 集合，不存在则创建。调用方需持锁。
func (m *TopicManager) userTopicsLocked(userUUID string) map[string]struct{} {
	userTopics, ok := m.byUser[userUUID]
	if !ok {
		userTopics = make(map[string]struct{})
		m.byUser[userUUID] = userTopics
	}
	return userTopics
}
