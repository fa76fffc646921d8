package repository

import (
	"context"
	"errors"

	"ChatCore/apps/chat/internal/relation"
	"ChatCore/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// relationRepositoryImpl 好友/拉黑关系数据访问层实现。
// 注意：该仓储的读路径故意不接缓存。拉黑判定要求读到最近一次已提交写入，
// 任何 TTL 级别的陈旧都可能让被拉黑方多收一条消息。
type relationRepositoryImpl struct {
	db *gorm.DB
}

// NewRelationRepository 创建关系仓储实例
func NewRelationRepository(db *gorm.DB) IRelationRepository {
	return &relationRepositoryImpl{db: db}
}

// GetRelationship 返回 actor 视角下与 peer 的完整关系快照。
// 单事务内完成三次点查（边 + 双向拉黑），保证快照一致。
func (r *relationRepositoryImpl) GetRelationship(ctx context.Context, actorUUID, peerUUID string) (relation.Relationship, error) {
	var rel relation.Relationship

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var edge model.FriendEdge
		err := tx.
			Where("(requester_uuid = ? AND addressee_uuid = ?) OR (requester_uuid = ? AND addressee_uuid = ?)",
				actorUUID, peerUUID, peerUUID, actorUUID).
			First(&edge).Error
		switch {
		case err == nil:
			rel.Edge = edgeStateFor(&edge, actorUUID)
		case errors.Is(err, gorm.ErrRecordNotFound):
			rel.Edge = relation.EdgeNone
		default:
			return err
		}

		var blockCount int64
		if err := tx.Model(&model.UserBlock{}).
			Where("blocker_uuid = ? AND blocked_uuid = ?", actorUUID, peerUUID).
			Count(&blockCount).Error; err != nil {
			return err
		}
		rel.BlockedByActor = blockCount > 0

		if err := tx.Model(&model.UserBlock{}).
			Where("blocker_uuid = ? AND blocked_uuid = ?", peerUUID, actorUUID).
			Count(&blockCount).Error; err != nil {
			return err
		}
		rel.BlockedByPeer = blockCount > 0
		return nil
	})
	if err != nil {
		return relation.Relationship{}, WrapDBError(err)
	}
	return rel, nil
}

// IsBlocked 任一方向存在拉黑即为 true。直读数据库，不走缓存。
func (r *relationRepositoryImpl) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.UserBlock{}).
		Where("(blocker_uuid = ? AND blocked_uuid = ?) OR (blocker_uuid = ? AND blocked_uuid = ?)",
			a, b, b, a).
		Count(&count).Error
	if err != nil {
		return false, WrapDBError(err)
	}
	return count > 0, nil
}

// CreatePending 创建待确认边。
// Upsert 处理并发重复申请：冲突时仅刷新 updated_at，不改变已有状态
// （状态机层已保证只有 NONE/PENDING 自身方向会走到这里）。
func (r *relationRepositoryImpl) CreatePending(ctx context.Context, requesterUUID, addresseeUUID string) error {
	edge := &model.FriendEdge{
		RequesterUuid: requesterUUID,
		AddresseeUuid: addresseeUUID,
		Status:        model.EdgeStatusPending,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "requester_uuid"}, {Name: "addressee_uuid"}},
		DoNothing: true,
	}).Create(edge).Error
	if err != nil {
		return WrapDBError(err)
	}
	return nil
}

// AcceptEdge 将 requester -> addressee 的待确认边置为已接受。
// 条件带 status 过滤，并发下的重复 accept 返回 ErrRecordNotFound。
func (r *relationRepositoryImpl) AcceptEdge(ctx context.Context, requesterUUID, addresseeUUID string) error {
	result := r.db.WithContext(ctx).
		Model(&model.FriendEdge{}).
		Where("requester_uuid = ? AND addressee_uuid = ? AND status = ?",
			requesterUUID, addresseeUUID, model.EdgeStatusPending).
		Update("status", model.EdgeStatusAccepted)
	if result.Error != nil {
		return WrapDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteEdge 删除两人之间的好友边（方向不限）。
func (r *relationRepositoryImpl) DeleteEdge(ctx context.Context, a, b string) error {
	result := r.db.WithContext(ctx).
		Where("(requester_uuid = ? AND addressee_uuid = ?) OR (requester_uuid = ? AND addressee_uuid = ?)",
			a, b, b, a).
		Delete(&model.FriendEdge{})
	if result.Error != nil {
		return WrapDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Block 写入拉黑记录并删除好友边，同一事务保证原子性。
// 删除边允许无行可删（拉黑陌生人同样合法）。
func (r *relationRepositoryImpl) Block(ctx context.Context, blockerUUID, blockedUUID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		block := &model.UserBlock{
			BlockerUuid: blockerUUID,
			BlockedUuid: blockedUUID,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "blocker_uuid"}, {Name: "blocked_uuid"}},
			DoNothing: true,
		}).Create(block).Error; err != nil {
			return err
		}

		return tx.
			Where("(requester_uuid = ? AND addressee_uuid = ?) OR (requester_uuid = ? AND addressee_uuid = ?)",
				blockerUUID, blockedUUID, blockedUUID, blockerUUID).
			Delete(&model.FriendEdge{}).Error
	})
	if err != nil {
		return WrapDBError(err)
	}
	return nil
}

// Unblock 删除 blocker -> blocked 的拉黑记录。
// 只删自己方向的记录，对方的拉黑不受影响。
func (r *relationRepositoryImpl) Unblock(ctx context.Context, blockerUUID, blockedUUID string) error {
	result := r.db.WithContext(ctx).
		Where("blocker_uuid = ? AND blocked_uuid = ?", blockerUUID, blockedUUID).
		Delete(&model.UserBlock{})
	if result.Error != nil {
		return WrapDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// edgeStateFor 把边记录折算为 actor 视角的边状态。
func edgeStateFor(edge *model.FriendEdge, actorUUID string) relation.EdgeState {
	if edge.Status == model.EdgeStatusAccepted {
		return relation.EdgeAccepted
	}
	if edge.RequesterUuid == actorUUID {
		return relation.EdgePendingOut
	}
	return relation.EdgePendingIn
}
