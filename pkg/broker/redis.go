package broker

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker 基于 Redis Pub/Sub 的 Broker 实现。
// go-redis 的 PubSub 自带断线重连与重订阅，Channel() 在重连后继续产出消息。
type RedisBroker struct {
	client *redis.Client

	mu     sync.Mutex
	closed bool
	subs   []*redis.PubSub
}

// NewRedisBroker 创建 Redis Broker。
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish 发布消息到指定 Topic。
func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

// Subscribe 订阅一组 Topic。
// 返回的 cancel 幂等，调用后输出通道关闭。
func (b *RedisBroker) Subscribe(ctx context.Context, topics ...string) (<-chan Message, func(), error) {
	pubsub := b.client.Subscribe(ctx, topics...)
	// 确认订阅建立，失败时及时暴露给调用方
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = pubsub.Close()
		return nil, nil, redis.ErrClosed
	}
	b.subs = append(b.subs, pubsub)
	b.mu.Unlock()

	out := make(chan Message, 256)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.dropSub(pubsub)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case <-ctx.Done():
				cancel()
				return
			case out <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
			}
		}
	}()

	return out, cancel, nil
}

// dropSub 将已取消的订阅从跟踪列表移除。
// 连接起伏频繁时不能只追加：列表只留存活订阅，Close 负责收尾。
func (b *RedisBroker) dropSub(pubsub *redis.PubSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == pubsub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Close 关闭全部订阅。
// 不关闭底层 redis client，其生命周期由进程统一管理。
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		_ = sub.Close()
	}
	b.subs = nil
	return nil
}
