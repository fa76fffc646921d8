package broker

import (
	"context"
	"errors"
	"sync"
)

// ErrBrokerClosed 表示 Broker 已关闭。
var ErrBrokerClosed = errors.New("broker closed")

type memorySubscriber struct {
	ch chan Message
}

// MemoryBroker 进程内 Broker 实现。
// 用于单机部署与测试：单 Topic 内 FIFO，订阅者缓冲满时丢弃（非阻塞发布）。
type MemoryBroker struct {
	mu          sync.RWMutex
	subscribers map[string][]*memorySubscriber
	bufSize     int
	closed      bool
}

// NewMemoryBroker 创建进程内 Broker。
func NewMemoryBroker(bufSize int) *MemoryBroker {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemoryBroker{
		subscribers: make(map[string][]*memorySubscriber),
		bufSize:     bufSize,
	}
}

// Publish 投递到所有订阅者。
// 发送期间持有读锁：通道只会在写锁内关闭，
// 保证不会向已关闭的订阅通道发送。发送本身非阻塞，不会拖住锁。
func (b *MemoryBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}

	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	for _, s := range b.subscribers[topic] {
		select {
		case s.ch <- msg:
		default:
			// 缓冲满时丢弃，依赖持久化补发
		}
	}
	return nil
}

// Subscribe 订阅一组 Topic，cancel 幂等。
func (b *MemoryBroker) Subscribe(_ context.Context, topics ...string) (<-chan Message, func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, ErrBrokerClosed
	}

	ch := make(chan Message, b.bufSize)
	subs := make([]*memorySubscriber, len(topics))
	for i, topic := range topics {
		s := &memorySubscriber{ch: ch}
		b.subscribers[topic] = append(b.subscribers[topic], s)
		subs[i] = s
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if b.closed {
				// Close 已统一关闭全部通道
				b.mu.Unlock()
				return
			}
			for i, topic := range topics {
				list := b.subscribers[topic]
				for j, sub := range list {
					if sub == subs[i] {
						b.subscribers[topic] = append(list[:j], list[j+1:]...)
						break
					}
				}
				if len(b.subscribers[topic]) == 0 {
					delete(b.subscribers, topic)
				}
			}
			// 关闭必须在写锁内完成，与 Publish 的读锁互斥
			close(ch)
			b.mu.Unlock()
		})
	}

	return ch, cancel, nil
}

// Close 关闭 Broker，所有订阅通道随之关闭。
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	// 同一 chan 可能挂在多个 Topic 下（一次 Subscribe 多个 Topic），去重后关闭
	seen := make(map[chan Message]struct{})
	for _, list := range b.subscribers {
		for _, s := range list {
			if _, ok := seen[s.ch]; ok {
				continue
			}
			seen[s.ch] = struct{}{}
			close(s.ch)
		}
	}
	b.subscribers = make(map[string][]*memorySubscriber)
	return nil
}
