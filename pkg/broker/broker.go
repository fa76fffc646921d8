package broker

import "context"

// Message 从订阅通道收到的一条消息。
type Message struct {
	Topic   string
	Payload []byte
}

// Broker 跨进程发布/订阅通道抽象。
// 语义约定：
// - Publish 对每个订阅进程 at-least-once；
// - 单 Topic 内按发布顺序 FIFO，跨 Topic、跨发布进程不保证顺序；
// - Subscribe 返回的通道在 cancel 调用后关闭；
// - 实现负责断线重连，重连期间的消息可能丢失，由持久化补发兜底。
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topics ...string) (<-chan Message, func(), error)
	Close() error
}
