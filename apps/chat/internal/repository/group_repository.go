package repository

import (
	"context"
	"errors"
	"time"

	rediskey "ChatCore/consts/redisKey"
	"ChatCore/model"
	"ChatCore/pkg/async"
	"ChatCore/pkg/idgen"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// groupRepositoryImpl 群组数据访问层实现。
// 成员集合读多写少，采用 Cache-Aside：优先查 Redis Set，未命中回源 MySQL 并重建；
// 成员变更时同步删除缓存。与拉黑判定不同，成员集合允许 TTL 级缓存，
// 因为群消息扇出仍会对每个成员做直读的拉黑过滤。
type groupRepositoryImpl struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewGroupRepository 创建群组仓储实例
func NewGroupRepository(db *gorm.DB, redisClient *redis.Client) IGroupRepository {
	return &groupRepositoryImpl{db: db, redisClient: redisClient}
}

// CreateGroup 创建群组并让群主入群，同一事务完成。
func (r *groupRepositoryImpl) CreateGroup(ctx context.Context, ownerUUID, name string) (*model.GroupInfo, error) {
	group := &model.GroupInfo{
		GroupId:   idgen.NextID(),
		OwnerUuid: ownerUUID,
		Name:      name,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		return tx.Create(&model.GroupMember{
			GroupId:  group.GroupId,
			UserUuid: ownerUUID,
			Role:     model.GroupRoleOwner,
		}).Error
	})
	if err != nil {
		return nil, WrapDBError(err)
	}
	return group, nil
}

// GetGroup 按 group_id 读取群信息。
func (r *groupRepositoryImpl) GetGroup(ctx context.Context, groupID int64) (*model.GroupInfo, error) {
	var group model.GroupInfo
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		First(&group).Error
	if err != nil {
		return nil, WrapDBError(err)
	}
	return &group, nil
}

// AddMember 添加群成员。
// Upsert 处理重复加群（恢复软删除的退群记录）。
func (r *groupRepositoryImpl) AddMember(ctx context.Context, groupID int64, userUUID string, role int8) error {
	now := time.Now()
	member := &model.GroupMember{
		GroupId:  groupID,
		UserUuid: userUUID,
		Role:     role,
		JoinedAt: now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "group_id"}, {Name: "user_uuid"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"role":       role,
			"joined_at":  now,
			"deleted_at": nil, // 恢复软删除
		}),
	}).Create(member).Error
	if err != nil {
		return WrapDBError(err)
	}

	r.invalidateMembersCacheAsync(ctx, groupID)
	return nil
}

// RemoveMember 移除群成员（软删除）。
func (r *groupRepositoryImpl) RemoveMember(ctx context.Context, groupID int64, userUUID string) error {
	result := r.db.WithContext(ctx).
		Where("group_id = ? AND user_uuid = ?", groupID, userUUID).
		Delete(&model.GroupMember{})
	if result.Error != nil {
		return WrapDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}

	r.invalidateMembersCacheAsync(ctx, groupID)
	return nil
}

// IsMember 判断用户是否群成员。
// 基于 GetGroupMembers 的缓存结果，成员变更后缓存已同步失效。
func (r *groupRepositoryImpl) IsMember(ctx context.Context, groupID int64, userUUID string) (bool, error) {
	members, err := r.GetGroupMembers(ctx, groupID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m == userUUID {
			return true, nil
		}
	}
	return false, nil
}

// GetGroupMembers 获取群成员集合。
// Cache-Aside：优先查 Redis Set，未命中回源 MySQL 并重建缓存（含空值缓存）。
func (r *groupRepositoryImpl) GetGroupMembers(ctx context.Context, groupID int64) ([]string, error) {
	cacheKey := rediskey.GroupMembersKey(groupID)

	// ==================== 1. 查询 Redis ====================
	if r.redisClient != nil {
		members, err := r.redisClient.SMembers(ctx, cacheKey).Result()
		if err != nil && err != redis.Nil {
			// Redis 挂了，记录日志，降级去查 DB
			LogRedisError(ctx, err)
		} else if len(members) > 0 {
			// 概率续期：1% 的概率在读取时顺便续期
			if getRandomBool(0.01) {
				r.redisClient.Expire(ctx, cacheKey, getRandomExpireTime(rediskey.GroupMembersTTL))
			}
			return stripEmptyMarker(members), nil
		}
	}

	// ==================== 2. 缓存未命中，回源查询 MySQL ====================
	var rows []model.GroupMember
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Find(&rows).Error
	if err != nil {
		return nil, WrapDBError(err)
	}

	members := make([]string, 0, len(rows))
	for _, row := range rows {
		members = append(members, row.UserUuid)
	}

	// ==================== 3. 重建缓存 ====================
	if r.redisClient != nil {
		pipe := r.redisClient.Pipeline()
		pipe.Del(ctx, cacheKey)
		if len(members) == 0 {
			// 空集合写入标记，并用较短 TTL
			pipe.SAdd(ctx, cacheKey, emptySetMarker)
			pipe.Expire(ctx, cacheKey, rediskey.GroupMembersEmptyTTL)
		} else {
			values := make([]interface{}, 0, len(members))
			for _, m := range members {
				values = append(values, m)
			}
			pipe.SAdd(ctx, cacheKey, values...)
			pipe.Expire(ctx, cacheKey, getRandomExpireTime(rediskey.GroupMembersTTL))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			LogRedisError(ctx, err)
		}
	}

	return members, nil
}

// GetUserGroups 返回用户加入的全部群 id。
// 连接建立时调用一次，用于订阅群 Topic，不做缓存。
func (r *groupRepositoryImpl) GetUserGroups(ctx context.Context, userUUID string) ([]int64, error) {
	var rows []model.GroupMember
	err := r.db.WithContext(ctx).
		Where("user_uuid = ?", userUUID).
		Find(&rows).Error
	if err != nil {
		return nil, WrapDBError(err)
	}

	groupIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		groupIDs = append(groupIDs, row.GroupId)
	}
	return groupIDs, nil
}

// invalidateMembersCacheAsync 异步删除群成员缓存。
// 删缓存失败只留日志：TTL 会兜底过期，下一次变更也会再次尝试。
func (r *groupRepositoryImpl) invalidateMembersCacheAsync(ctx context.Context, groupID int64) {
	if r.redisClient == nil {
		return
	}
	async.RunSafe(ctx, func(taskCtx context.Context) {
		if err := r.redisClient.Del(taskCtx, rediskey.GroupMembersKey(groupID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			LogRedisError(taskCtx, err)
		}
	}, 3*time.Second)
}

// stripEmptyMarker 过滤空集合占位标记。
func stripEmptyMarker(members []string) []string {
	out := members[:0]
	for _, m := range members {
		if m != emptySetMarker {
			out = append(out, m)
		}
	}
	return out
}
