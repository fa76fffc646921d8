package svc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"ChatCore/apps/chat/mq"
	"ChatCore/config"
	"ChatCore/consts"
	rediskey "ChatCore/consts/redisKey"
	"ChatCore/model"

	"ChatCore/apps/chat/internal/manager"
	"ChatCore/apps/chat/internal/repository"
	"ChatCore/pkg/broker"
	"ChatCore/pkg/logger"
	pkgminio "ChatCore/pkg/minio"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"
)

// ChatRouter 承载单条消息从接收到回执的完整路径：
// 校验 → 裁决 → 持久化 → 扇出 → 回执。
// 每一步失败都映射到一个错误类别，转成带原 client_nonce 的 error 帧。
// 持久化成功后的失败不再回滚：消息已占有递增 id，投递靠补发兜底。
type ChatRouter struct {
	gate        *AuthorizationGate
	messageRepo repository.IMessageRepository
	userRepo    repository.IUserRepository
	conns       *manager.ConnectionManager
	publisher   broker.Broker
	breaker     *gobreaker.CircuitBreaker
	validate    *validator.Validate
	cfg         config.ChatConfig
	media       config.MediaConfig

	// mediaStore 可选：非 nil 时对指向本站对象存储的附件做上传确认
	mediaStore *pkgminio.MediaStore

	// origin 为本进程 id，写入信封供订阅侧去重
	origin string

	// inflight 追踪在途消息，停机时先排空再断连
	inflight sync.WaitGroup
}

// NewChatRouter 创建消息路由实例。
func NewChatRouter(
	gate *AuthorizationGate,
	messageRepo repository.IMessageRepository,
	userRepo repository.IUserRepository,
	conns *manager.ConnectionManager,
	publisher broker.Broker,
	mediaStore *pkgminio.MediaStore,
	origin string,
	cfg config.ChatConfig,
	media config.MediaConfig,
) *ChatRouter {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "message-broker",
		MaxRequests: 3,                // 半开状态下最多允许 3 个请求尝试
		Interval:    15 * time.Second, // 清除计数的时间间隔
		Timeout:     30 * time.Second, // 熔断器开启后多久尝试进入半开状态
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// 失败率超过 50% 且样本足够时触发熔断
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info(context.Background(), "熔断器状态变化",
				logger.String("name", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})

	return &ChatRouter{
		gate:        gate,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		conns:       conns,
		publisher:   publisher,
		breaker:     breaker,
		validate:    validator.New(),
		cfg:         cfg,
		media:       media,
		mediaStore:  mediaStore,
		origin:      origin,
	}
}

// HandleSendMessage 处理一条上行消息，返回回执或类别化错误。
// 重放（同 sender + client_nonce）返回首次保存的消息 id，duplicate=true，
// 不重复扇出。
func (r *ChatRouter) HandleSendMessage(ctx context.Context, sender *Identity, data *SendMessageData) (*AckData, *ChatError) {
	r.inflight.Add(1)
	defer r.inflight.Done()

	// ==================== 1. 校验 ====================
	if chatErr := r.validateMessage(data); chatErr != nil {
		metricMessagesDenied.WithLabelValues(chatErr.Kind).Inc()
		return nil, chatErr
	}
	if chatErr := r.confirmAttachment(ctx, data.Attachment); chatErr != nil {
		metricMessagesDenied.WithLabelValues(chatErr.Kind).Inc()
		return nil, chatErr
	}

	msg := &model.Message{
		SenderUuid:  sender.UserUUID,
		ClientNonce: data.ClientNonce,
		TargetKind:  data.TargetKind,
		TargetUuid:  data.TargetUuid,
		GroupId:     data.GroupId,
		Body:        data.Body,
	}
	if data.Attachment != nil {
		msg.AttachmentUrl = data.Attachment.Url
		msg.AttachmentSize = data.Attachment.Size
		msg.AttachmentMime = data.Attachment.Mime
	}

	// ==================== 2. 裁决 ====================
	recipients, chatErr := r.gate.Authorize(ctx, sender.UserUUID, msg)
	if chatErr != nil {
		metricMessagesDenied.WithLabelValues(chatErr.Kind).Inc()
		return nil, chatErr
	}

	// ==================== 3. 持久化 ====================
	saved, duplicated, err := r.messageRepo.InsertMessage(ctx, msg, recipients)
	if err != nil {
		metricMessagesFailed.WithLabelValues(consts.ErrorKindStorageFailure).Inc()
		return nil, storageFailureError(err)
	}
	if duplicated {
		// 重放：首次发送已走完扇出，直接返回原 id
		metricMessagesDuplicated.Inc()
		return &AckData{
			MessageId:   saved.Id,
			ClientNonce: data.ClientNonce,
			Duplicate:   true,
		}, nil
	}

	// ==================== 4. 扇出 ====================
	frame, err := r.buildDeliverFrame(ctx, saved)
	if err != nil {
		metricMessagesFailed.WithLabelValues(consts.ErrorKindBrokerFailure).Inc()
		return nil, brokerFailureError(err)
	}

	publishFailed := 0
	for _, recipient := range recipients {
		// 本地会话同步投递；跨进程经投递通道，订阅侧按 origin 去重
		r.conns.SendToUser(recipient, frame)

		if err := r.publishToRecipient(ctx, recipient, saved.Id, frame); err != nil {
			publishFailed++
			continue
		}
		metricFanoutPublished.Inc()
		if err := r.messageRepo.MarkPublished(ctx, saved.Id, recipient); err != nil {
			logger.Warn(ctx, "回写投递状态失败",
				logger.Int64("message_id", saved.Id),
				logger.String("recipient_uuid", recipient),
				logger.ErrorField("error", err),
			)
		}
	}

	// 全部收件人发布失败才算投递失败；部分失败由补发队列兜底，照常回执
	if publishFailed > 0 && publishFailed == len(recipients) {
		metricMessagesFailed.WithLabelValues(consts.ErrorKindBrokerFailure).Inc()
		return nil, brokerFailureError(nil)
	}

	// ==================== 5. 回执 ====================
	metricMessagesAcked.Inc()
	return &AckData{
		MessageId:   saved.Id,
		ClientNonce: data.ClientNonce,
	}, nil
}

// validateMessage 校验上行帧体：结构校验 + 正文长度 + 附件元数据。
func (r *ChatRouter) validateMessage(data *SendMessageData) *ChatError {
	if data == nil {
		return validationError(consts.CodeBodyError)
	}
	if err := r.validate.Struct(data); err != nil {
		return validationError(consts.CodeParamError)
	}
	if data.Body == "" && data.Attachment == nil {
		return validationError(consts.CodeParamError)
	}
	if utf8.RuneCountInString(data.Body) > r.cfg.MaxBodyLen {
		return validationError(consts.CodeBodyTooLarge)
	}
	if att := data.Attachment; att != nil {
		if att.Size > r.media.MaxSizeBytes {
			return validationError(consts.CodeAttachmentTooLarge)
		}
		if !r.mimeAllowed(att.Mime) {
			return validationError(consts.CodeAttachmentBadType)
		}
	}
	return nil
}

// confirmAttachment 向对象存储确认附件已上传且元数据与声明一致。
// 仅覆盖指向本站对象存储（BaseURL 前缀）的附件；外链附件只做元数据校验。
// 存储端短暂不可用时放行：附件引用本身不构成投递风险，元数据已过校验。
func (r *ChatRouter) confirmAttachment(ctx context.Context, att *AttachmentData) *ChatError {
	if att == nil || r.mediaStore == nil {
		return nil
	}

	base := strings.TrimRight(r.media.BaseURL, "/") + "/" + r.media.BucketName + "/"
	if !strings.HasPrefix(att.Url, base) {
		return nil
	}
	objectKey := strings.TrimPrefix(att.Url, base)

	if err := r.mediaStore.ConfirmUpload(ctx, objectKey, att.Size, att.Mime); err != nil {
		if errors.Is(err, pkgminio.ErrObjectMismatch) {
			return newChatError(consts.ErrorKindValidation, consts.CodeParamError, err)
		}
		logger.Warn(ctx, "附件上传确认不可用，按声明元数据放行",
			logger.String("object_key", objectKey),
			logger.ErrorField("error", err),
		)
	}
	return nil
}

func (r *ChatRouter) mimeAllowed(mime string) bool {
	for _, allowed := range r.media.AllowedTypes {
		if mime == allowed {
			return true
		}
	}
	return false
}

// buildDeliverFrame 组装下行 message 帧，所有收件人共用同一份字节。
// 发送方展示信息查不到不阻断投递。
func (r *ChatRouter) buildDeliverFrame(ctx context.Context, msg *model.Message) ([]byte, error) {
	deliver := &DeliverMessageData{
		MessageId:  msg.Id,
		SenderUuid: msg.SenderUuid,
		TargetKind: msg.TargetKind,
		GroupId:    msg.GroupId,
		Body:       msg.Body,
		SentAt:     msg.CreatedAt,
	}
	if msg.AttachmentUrl != "" {
		deliver.Attachment = &AttachmentData{
			Url:  msg.AttachmentUrl,
			Size: msg.AttachmentSize,
			Mime: msg.AttachmentMime,
		}
	}

	if r.userRepo != nil {
		if sender, err := r.userRepo.GetByUUID(ctx, msg.SenderUuid); err == nil {
			deliver.SenderName = sender.Nickname
		}
	}

	return json.Marshal(Envelope{
		Type: FrameMessage,
		Data: mustMarshal(deliver),
	})
}

// publishToRecipient 将下行帧发布到收件人 Topic。
// 经熔断器保护；失败的收件人进补发队列，投递行保持 pending。
func (r *ChatRouter) publishToRecipient(ctx context.Context, recipient string, messageID int64, frame []byte) error {
	envelope, err := json.Marshal(BrokerEnvelope{
		Origin:        r.origin,
		RecipientUuid: recipient,
		MessageId:     messageID,
		Frame:         frame,
	})
	if err != nil {
		return err
	}

	topic := rediskey.UserTopic(recipient)
	_, err = r.breaker.Execute(func() (interface{}, error) {
		return nil, r.publisher.Publish(ctx, topic, envelope)
	})
	if err != nil {
		metricFanoutRetryQueued.Inc()
		logger.Warn(ctx, "发布到投递通道失败，进入补发队列",
			logger.Int64("message_id", messageID),
			logger.String("recipient_uuid", recipient),
			logger.ErrorField("error", err),
		)
		task := mq.BuildPublishTask(topic, envelope).
			WithContext(ctx).
			WithError(err).
			WithDelivery(messageID, recipient)
		mq.SendPublishTask(ctx, task)
		return err
	}
	return nil
}

// RecoverySweep 重发长时间停留在 pending 的投递记录。
// 进程启动时调用一次，覆盖上一次崩溃留下的半扇出消息。
func (r *ChatRouter) RecoverySweep(ctx context.Context) {
	if r.cfg.RecoverySweepAge <= 0 {
		return
	}

	rows, err := r.messageRepo.ListStalePending(ctx, r.cfg.RecoverySweepAge, r.cfg.RecoverySweepSize)
	if err != nil {
		logger.Error(ctx, "补发扫描读取失败", logger.ErrorField("error", err))
		return
	}
	if len(rows) == 0 {
		return
	}

	logger.Info(ctx, "启动补发扫描", logger.Int("pending", len(rows)))

	frames := make(map[int64][]byte, len(rows))
	recovered := 0
	for _, row := range rows {
		frame, ok := frames[row.MessageId]
		if !ok {
			msg, err := r.messageRepo.GetMessage(ctx, row.MessageId)
			if err != nil {
				logger.Warn(ctx, "补发读取消息失败",
					logger.Int64("message_id", row.MessageId),
					logger.ErrorField("error", err),
				)
				continue
			}
			frame, err = r.buildDeliverFrame(ctx, msg)
			if err != nil {
				continue
			}
			frames[row.MessageId] = frame
		}

		// 与扇出路径一致：本地会话同步投递。崩溃前可能已投递过一次，
		// 订阅侧的 origin 去重帮不上补发，按至少一次语义接受重复
		r.conns.SendToUser(row.RecipientUuid, frame)

		if err := r.publishToRecipient(ctx, row.RecipientUuid, row.MessageId, frame); err != nil {
			continue
		}
		if err := r.messageRepo.MarkPublished(ctx, row.MessageId, row.RecipientUuid); err != nil {
			logger.Warn(ctx, "补发回写投递状态失败",
				logger.Int64("message_id", row.MessageId),
				logger.ErrorField("error", err),
			)
		}
		recovered++
	}

	logger.Info(ctx, "补发扫描完成",
		logger.Int("recovered", recovered),
		logger.Int("total", len(rows)),
	)
}

// Drain 等待在途消息走完扇出，超时放弃。
// 停机顺序：先停读入，再 Drain，最后断连与退订。
func (r *ChatRouter) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// mustMarshal 序列化已知可编码的帧体。
func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}
