package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/segmentio/kafka-go"
)

// Producer 封装 kafka-go Writer。
// 单 Topic、单实例，进程内复用。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建指定 Topic 的生产者。
// RequireOne 兼顾吞吐与可靠性：leader 落盘即认为发送成功。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Send 发送一条消息。
// key 用于分区路由：同 key 消息落在同一分区，保证 FIFO。
func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

// Close 关闭底层 Writer。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Handler 消息处理回调。
// 返回错误时不提交位点，消息会被重新投递（at-least-once）。
type Handler func(ctx context.Context, key, value []byte) error

// Consumer 封装 kafka-go Reader 的消费循环。
type Consumer struct {
	reader  *kafka.Reader
	handler Handler
}

// ConsumerOptions 消费端构造参数。
type ConsumerOptions struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int
	MaxBytes       int
	CommitInterval time.Duration
	Logger         kafka.Logger
	ErrorLogger    kafka.Logger
}

// NewConsumer 创建消费者。
func NewConsumer(opts ConsumerOptions, handler Handler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        opts.Brokers,
			Topic:          opts.Topic,
			GroupID:        opts.GroupID,
			MinBytes:       opts.MinBytes,
			MaxBytes:       opts.MaxBytes,
			CommitInterval: opts.CommitInterval,
			Logger:         opts.Logger,
			ErrorLogger:    opts.ErrorLogger,
		}),
		handler: handler,
	}
}

// Start 阻塞运行消费循环，直到 ctx 取消或 Reader 关闭。
// 处理失败只记录不提交，由下一轮重新拉取。
func (c *Consumer) Start(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

// Close 关闭底层 Reader。
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// zapLoggerAdapter 把 kafka-go 的日志接到 zap。
type zapLoggerAdapter struct {
	base  *zap.SugaredLogger
	error bool
}

// NewZapLoggerAdapter 创建 info 级别适配器。
func NewZapLoggerAdapter(l *zap.Logger) kafka.Logger {
	return &zapLoggerAdapter{base: l.Sugar()}
}

// NewZapErrorLoggerAdapter 创建 error 级别适配器。
func NewZapErrorLoggerAdapter(l *zap.Logger) kafka.Logger {
	return &zapLoggerAdapter{base: l.Sugar(), error: true}
}

func (a *zapLoggerAdapter) Printf(format string, args ...interface{}) {
	if a.error {
		a.base.Errorf(format, args...)
		return
	}
	a.base.Infof(format, args...)
}
