package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	rediskey "ChatCore/consts/redisKey"
	"ChatCore/model"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// messageRepositoryImpl 消息持久化层实现。
// 幂等去重两层：Redis SET NX 做快速路径（重启/过期后失效），
// (sender_uuid, client_nonce) 唯一索引做最终裁决。
// 消息 id 用表自增序列，入库即分配，保证全局严格递增且先于扇出可见。
type messageRepositoryImpl struct {
	db          *gorm.DB
	redisClient *redis.Client
	nonceTTL    time.Duration
}

// NewMessageRepository 创建消息仓储实例。
// nonceTTL 为 Redis 快速去重窗口，<=0 时回落到默认值。
func NewMessageRepository(db *gorm.DB, redisClient *redis.Client, nonceTTL time.Duration) IMessageRepository {
	if nonceTTL <= 0 {
		nonceTTL = rediskey.MessageNonceTTL
	}
	return &messageRepositoryImpl{db: db, redisClient: redisClient, nonceTTL: nonceTTL}
}

// InsertMessage 持久化消息并为每个收件人生成 pending 投递行，单事务完成。
// 重放（同 sender + nonce）返回已保存的那条消息，duplicated=true，不产生新投递行。
func (r *messageRepositoryImpl) InsertMessage(ctx context.Context, msg *model.Message, recipients []string) (*model.Message, bool, error) {
	// ==================== 1. Redis 快速去重 ====================
	nonceKey := rediskey.MessageNonceKey(msg.SenderUuid, msg.ClientNonce)
	if r.redisClient != nil {
		ok, err := r.redisClient.SetNX(ctx, nonceKey, "1", r.nonceTTL).Result()
		if err != nil {
			// Redis 异常不阻断发送，唯一索引兜底
			LogRedisError(ctx, err)
		} else if !ok {
			existing, err := r.getByNonce(ctx, msg.SenderUuid, msg.ClientNonce)
			if err == nil {
				return existing, true, nil
			}
			if !errors.Is(err, ErrRecordNotFound) {
				return nil, false, err
			}
			// nonce 占位存在但 DB 没有记录：上一次写库失败，放行重试
		}
	}

	// ==================== 2. 事务写入消息 + 投递行 ====================
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if len(recipients) == 0 {
			return nil
		}
		deliveries := make([]model.MessageDelivery, 0, len(recipients))
		for _, uuid := range recipients {
			deliveries = append(deliveries, model.MessageDelivery{
				MessageId:     msg.Id,
				RecipientUuid: uuid,
				Status:        model.DeliveryStatusPending,
			})
		}
		return tx.CreateInBatches(deliveries, 100).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发重放撞上唯一索引，读回已保存的消息
			existing, getErr := r.getByNonce(ctx, msg.SenderUuid, msg.ClientNonce)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, true, nil
		}
		// 写库失败时清掉 nonce 占位，避免重试被快速路径拦下
		if r.redisClient != nil {
			if delErr := r.redisClient.Del(ctx, nonceKey).Err(); delErr != nil {
				LogRedisError(ctx, delErr)
			}
		}
		return nil, false, WrapDBError(err)
	}

	// nonce 占位改存消息 id，便于排查
	if r.redisClient != nil {
		if err := r.redisClient.Set(ctx, nonceKey, strconv.FormatInt(msg.Id, 10), r.nonceTTL).Err(); err != nil {
			LogRedisError(ctx, err)
		}
	}

	return msg, false, nil
}

// GetMessage 按 id 读取消息。
func (r *messageRepositoryImpl) GetMessage(ctx context.Context, messageID int64) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).
		Where("id = ?", messageID).
		First(&msg).Error
	if err != nil {
		return nil, WrapDBError(err)
	}
	return &msg, nil
}

// MarkPublished 将某收件人的投递行置为已发布。
// 幂等：已是 published 时 RowsAffected=0，不视为错误。
func (r *messageRepositoryImpl) MarkPublished(ctx context.Context, messageID int64, recipientUUID string) error {
	err := r.db.WithContext(ctx).
		Model(&model.MessageDelivery{}).
		Where("message_id = ? AND recipient_uuid = ? AND status = ?",
			messageID, recipientUUID, model.DeliveryStatusPending).
		Update("status", model.DeliveryStatusPublished).Error
	if err != nil {
		return WrapDBError(err)
	}
	return nil
}

// ListStalePending 返回停留在 pending 超过 age 的投递行，按消息 id 升序。
// 启动补发扫描用，limit 限制单次扫描量。
func (r *messageRepositoryImpl) ListStalePending(ctx context.Context, age time.Duration, limit int) ([]*model.MessageDelivery, error) {
	var rows []*model.MessageDelivery
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.DeliveryStatusPending, time.Now().Add(-age)).
		Order("message_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, WrapDBError(err)
	}
	return rows, nil
}

// ListDirectMessages 返回两人之间的单聊历史，按 id 倒序。
// 多查一条判断是否还有更早的页，真实结果裁掉多出的那条。
func (r *messageRepositoryImpl) ListDirectMessages(ctx context.Context, a, b string, beforeID int64, limit int) ([]*model.Message, bool, error) {
	query := r.db.WithContext(ctx).
		Where("target_kind = ?", model.TargetKindUser).
		Where("(sender_uuid = ? AND target_uuid = ?) OR (sender_uuid = ? AND target_uuid = ?)", a, b, b, a)
	return r.listPage(query, beforeID, limit)
}

// ListGroupMessages 返回群聊历史，游标语义同 ListDirectMessages。
func (r *messageRepositoryImpl) ListGroupMessages(ctx context.Context, groupID int64, beforeID int64, limit int) ([]*model.Message, bool, error) {
	query := r.db.WithContext(ctx).
		Where("target_kind = ? AND group_id = ?", model.TargetKindGroup, groupID)
	return r.listPage(query, beforeID, limit)
}

// listPage 在已加目标条件的查询上执行游标分页。
func (r *messageRepositoryImpl) listPage(query *gorm.DB, beforeID int64, limit int) ([]*model.Message, bool, error) {
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}

	var rows []*model.Message
	err := query.
		Order("id DESC").
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, false, WrapDBError(err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	return rows, hasMore, nil
}

// getByNonce 按 (sender, nonce) 读取已保存的消息。
func (r *messageRepositoryImpl) getByNonce(ctx context.Context, senderUUID, clientNonce string) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).
		Where("sender_uuid = ? AND client_nonce = ?", senderUUID, clientNonce).
		First(&msg).Error
	if err != nil {
		return nil, WrapDBError(err)
	}
	return &msg, nil
}
