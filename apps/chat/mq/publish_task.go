package mq

import (
	"context"
	"encoding/json"
	"time"

	"ChatCore/pkg/ctxmeta"
	"ChatCore/pkg/kafka"
	"ChatCore/pkg/logger"
)

// ==================== 补发任务定义 ====================

// PublishTask 存放在 Kafka 里的消息体。
// 投递通道发布失败时落到重试队列，由消费者按原 Topic 重新发布。
type PublishTask struct {
	Topic    string          `json:"topic"`    // 目标 Topic（用户或群组）
	Envelope json.RawMessage `json:"envelope"` // 原始下行信封，原样重发

	// 元数据（用于追踪和重试控制）
	MessageID     int64     `json:"message_id,omitempty"`
	RecipientUUID string    `json:"recipient_uuid,omitempty"`
	TraceID       string    `json:"trace_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	RetryCount    int       `json:"retry_count"`  // 已重试次数
	MaxRetries    int       `json:"max_retries"`  // 最大重试次数
	OriginalErr   string    `json:"original_err"` // 原始错误信息
}

// BuildPublishTask 构造一条补发任务
func BuildPublishTask(topic string, envelope []byte) PublishTask {
	return PublishTask{
		Topic:      topic,
		Envelope:   envelope,
		Timestamp:  time.Now(),
		RetryCount: 0,
		MaxRetries: 3,
	}
}

// WithContext 为任务附加链路信息
func (t PublishTask) WithContext(ctx context.Context) PublishTask {
	t.TraceID = ctxmeta.TraceID(ctx)
	return t
}

// WithError 为任务附加原始错误
func (t PublishTask) WithError(err error) PublishTask {
	if err != nil {
		t.OriginalErr = err.Error()
	}
	return t
}

// WithDelivery 为任务附加投递行定位信息，补发成功后用于回写状态
func (t PublishTask) WithDelivery(messageID int64, recipientUUID string) PublishTask {
	t.MessageID = messageID
	t.RecipientUUID = recipientUUID
	return t
}

// ==================== 全局 Producer ====================

var globalProducer *kafka.Producer

// SetGlobalProducer 注入补发队列的 Kafka Producer（进程启动时调用一次）
func SetGlobalProducer(p *kafka.Producer) {
	globalProducer = p
}

// SendPublishTask 将补发任务投递到 Kafka。
// Producer 未初始化或投递失败只留日志：投递行仍是 pending，
// 启动补发扫描会兜底。
func SendPublishTask(ctx context.Context, task PublishTask) {
	if globalProducer == nil {
		logger.Warn(ctx, "补发队列 Producer 未初始化，任务被丢弃",
			logger.String("topic", task.Topic),
			logger.Int64("message_id", task.MessageID))
		return
	}

	payload, err := json.Marshal(task)
	if err != nil {
		logger.Error(ctx, "序列化补发任务失败", logger.ErrorField("error", err))
		return
	}

	// 以 Topic 作 key，同一收件人的补发保持分区内有序
	if err := globalProducer.Send(ctx, []byte(task.Topic), payload); err != nil {
		logger.Error(ctx, "补发任务投递 Kafka 失败",
			logger.ErrorField("error", err),
			logger.String("topic", task.Topic),
			logger.Int64("message_id", task.MessageID))
	}
}
