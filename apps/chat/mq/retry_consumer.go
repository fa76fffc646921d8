package mq

import (
	"context"
	"encoding/json"
	"time"

	"ChatCore/pkg/broker"
	"ChatCore/pkg/ctxmeta"
	"ChatCore/pkg/logger"
)

// MarkPublishedFunc 补发成功后回写投递行状态
type MarkPublishedFunc func(ctx context.Context, messageID int64, recipientUUID string) error

// RetryHandler 消费补发队列，把失败的下行信封重新发布到投递通道。
// 超过 MaxRetries 的任务只留日志后丢弃，投递行保持 pending，
// 由启动补发扫描兜底。
type RetryHandler struct {
	publisher     broker.Broker
	markPublished MarkPublishedFunc
}

// NewRetryHandler 创建补发处理器
func NewRetryHandler(publisher broker.Broker, markPublished MarkPublishedFunc) *RetryHandler {
	return &RetryHandler{publisher: publisher, markPublished: markPublished}
}

// Handle 处理一条补发任务。
// 返回非 nil 时 Kafka 不提交位点，消息随后重投。
func (h *RetryHandler) Handle(ctx context.Context, _ []byte, value []byte) error {
	var task PublishTask
	if err := json.Unmarshal(value, &task); err != nil {
		// 无法解析的任务重投也没用，记日志后提交跳过
		logger.Error(ctx, "解析补发任务失败，跳过", logger.ErrorField("error", err))
		return nil
	}

	if task.TraceID != "" {
		ctx = ctxmeta.WithTraceID(ctx, task.TraceID)
	}

	if task.RetryCount >= task.MaxRetries {
		logger.Warn(ctx, "补发任务超过最大重试次数，放弃",
			logger.String("topic", task.Topic),
			logger.Int64("message_id", task.MessageID),
			logger.Int("retry_count", task.RetryCount),
			logger.String("original_err", task.OriginalErr))
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.publisher.Publish(pubCtx, task.Topic, task.Envelope); err != nil {
		logger.Warn(ctx, "重新发布失败，任务重新入队",
			logger.ErrorField("error", err),
			logger.String("topic", task.Topic),
			logger.Int64("message_id", task.MessageID),
			logger.Int("retry_count", task.RetryCount))
		// 重投时递增计数
		task.RetryCount++
		SendPublishTask(ctx, task)
		return nil
	}

	if task.MessageID > 0 && task.RecipientUUID != "" && h.markPublished != nil {
		if err := h.markPublished(ctx, task.MessageID, task.RecipientUUID); err != nil {
			// 回写失败不重发消息：发布已成功，扫描任务重放时发布侧幂等
			logger.Warn(ctx, "回写投递状态失败",
				logger.ErrorField("error", err),
				logger.Int64("message_id", task.MessageID),
				logger.String("recipient_uuid", task.RecipientUUID))
		}
	}

	logger.Info(ctx, "补发任务执行成功",
		logger.String("topic", task.Topic),
		logger.Int64("message_id", task.MessageID))
	return nil
}
