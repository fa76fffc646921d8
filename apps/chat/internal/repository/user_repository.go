package repository

import (
	"context"
	"encoding/json"
	"errors"

	rediskey "ChatCore/consts/redisKey"
	"ChatCore/model"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// 进程内缓存容量。展示信息体积小，1w 条足够覆盖活跃连接的发送方集合。
const userCacheSize = 10000

// userRepositoryImpl 用户信息只读仓储。
// 两级缓存：进程内 LRU（带 TTL）挡住同进程热点，Redis 挡住跨进程回源。
// 只缓存展示字段，拉黑/好友判定不走这里。
type userRepositoryImpl struct {
	db          *gorm.DB
	redisClient *redis.Client
	local       *expirable.LRU[string, *model.UserInfo]
}

// NewUserRepository 创建用户仓储实例
func NewUserRepository(db *gorm.DB, redisClient *redis.Client) IUserRepository {
	return &userRepositoryImpl{
		db:          db,
		redisClient: redisClient,
		local:       expirable.NewLRU[string, *model.UserInfo](userCacheSize, nil, rediskey.UserInfoTTL),
	}
}

// GetByUUID 按 uuid 读取用户展示信息。
func (r *userRepositoryImpl) GetByUUID(ctx context.Context, uuid string) (*model.UserInfo, error) {
	// ==================== 1. 进程内 LRU ====================
	if user, ok := r.local.Get(uuid); ok {
		return user, nil
	}

	// ==================== 2. Redis ====================
	cacheKey := rediskey.UserInfoKey(uuid)
	if r.redisClient != nil {
		raw, err := r.redisClient.Get(ctx, cacheKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			LogRedisError(ctx, err)
		} else if err == nil {
			var user model.UserInfo
			if unmarshalErr := json.Unmarshal([]byte(raw), &user); unmarshalErr == nil {
				r.local.Add(uuid, &user)
				return &user, nil
			}
			// 脏数据，当作未命中回源重建
		}
	}

	// ==================== 3. 回源 MySQL ====================
	var user model.UserInfo
	err := r.db.WithContext(ctx).
		Where("uuid = ?", uuid).
		First(&user).Error
	if err != nil {
		return nil, WrapDBError(err)
	}

	// ==================== 4. 重建缓存 ====================
	r.local.Add(uuid, &user)
	if r.redisClient != nil {
		if raw, marshalErr := json.Marshal(&user); marshalErr == nil {
			if setErr := r.redisClient.Set(ctx, cacheKey, raw, getRandomExpireTime(rediskey.UserInfoTTL)).Err(); setErr != nil {
				LogRedisError(ctx, setErr)
			}
		}
	}

	return &user, nil
}
