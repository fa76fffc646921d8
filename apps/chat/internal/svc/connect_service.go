package svc

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	rediskey "ChatCore/consts/redisKey"
	"ChatCore/pkg/logger"
	"ChatCore/pkg/util"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTokenRequired 表示握手参数中缺少 token。
	ErrTokenRequired = errors.New("token is required")
	// ErrDeviceIDRequired 表示握手参数中缺少 device_id。
	ErrDeviceIDRequired = errors.New("device_id is required")
	// ErrTokenInvalid 表示 token 非法、已过期，或与设备不匹配。
	ErrTokenInvalid = errors.New("token is invalid")
)

// Identity 保存连接鉴权后的身份信息。
// 在整个会话生命周期中复用，避免重复解析 token。
type Identity struct {
	UserUUID string
	DeviceID string
	ClientIP string
}

// ConnectService 承载连接层业务逻辑：握手鉴权、心跳、帧编解码。
type ConnectService struct {
	redisClient *redis.Client
}

// NewConnectService 创建业务服务实例。
func NewConnectService(redisClient *redis.Client) *ConnectService {
	return &ConnectService{redisClient: redisClient}
}

// Authenticate 校验 WebSocket 握手参数与登录态。
// 校验流程：
// 1. 校验 token/device_id 是否为空；
// 2. 解析 JWT，校验 claims 基本字段；
// 3. 强校验 claims.DeviceID 与 query.device_id 一致；
// 4. 若 Redis 可用，校验 auth:at:{user_uuid}:{device_id} 中存储的 token md5。
//
// 降级策略（Fail-Open）：
// - Redis 异常不可用时不直接拒绝连接，退化为仅 JWT 校验；
// - 提升可用性，代价是“被踢立即失效”的严格性下降。
func (s *ConnectService) Authenticate(ctx context.Context, token, deviceID, clientIP string) (*Identity, error) {
	token = strings.TrimSpace(token)
	deviceID = strings.TrimSpace(deviceID)
	clientIP = strings.TrimSpace(clientIP)

	if token == "" {
		return nil, ErrTokenRequired
	}
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}

	claims, err := util.ParseToken(token)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if claims.UserUUID == "" || claims.DeviceID == "" || claims.DeviceID != deviceID {
		return nil, ErrTokenInvalid
	}

	// 与外部 auth 服务存储规则保持一致：
	// auth:at:{user_uuid}:{device_id} = md5(access_token)
	if s.redisClient != nil {
		key := rediskey.AccessTokenKey(claims.UserUUID, claims.DeviceID)
		storedHash, getErr := s.redisClient.Get(ctx, key).Result()
		switch {
		case errors.Is(getErr, redis.Nil):
			return nil, ErrTokenInvalid
		case getErr != nil:
			logger.Warn(ctx, "连接鉴权读取 Redis 失败，降级为仅 JWT 校验",
				logger.String("user_uuid", claims.UserUUID),
				logger.String("device_id", claims.DeviceID),
				logger.ErrorField("error", getErr),
			)
		default:
			if storedHash != md5Hex(token) {
				return nil, ErrTokenInvalid
			}
		}
	}

	return &Identity{
		UserUUID: claims.UserUUID,
		DeviceID: claims.DeviceID,
		ClientIP: clientIP,
	}, nil
}

// OnConnect 在会话建立后触发：写入设备活跃时间，用于在线状态判定。
func (s *ConnectService) OnConnect(ctx context.Context, id *Identity) {
	s.touchActive(ctx, id.UserUUID, id.DeviceID)
}

// OnHeartbeat 在收到客户端心跳后触发，仅更新活跃时间。
func (s *ConnectService) OnHeartbeat(ctx context.Context, id *Identity) {
	s.touchActive(ctx, id.UserUUID, id.DeviceID)
}

// OnDisconnect 在会话断开后触发：删掉该设备的活跃记录。
func (s *ConnectService) OnDisconnect(ctx context.Context, id *Identity) {
	if s.redisClient == nil {
		return
	}
	key := rediskey.DeviceActiveKey(id.UserUUID)
	if err := s.redisClient.HDel(ctx, key, id.DeviceID).Err(); err != nil {
		logger.Warn(ctx, "清理设备活跃记录失败",
			logger.String("user_uuid", id.UserUUID),
			logger.String("device_id", id.DeviceID),
			logger.ErrorField("error", err),
		)
	}
}

// ParseEnvelope 解析客户端上行帧。
// type 缺失或 JSON 不合法时返回错误，交由 handler 回 error 帧。
func (s *ConnectService) ParseEnvelope(raw []byte) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	envelope.Type = strings.TrimSpace(envelope.Type)
	if envelope.Type == "" {
		return nil, errors.New("type is required")
	}
	return &envelope, nil
}

// MarshalEnvelope 组装并序列化下行帧。
// data=nil 时省略 data 字段，避免无意义空对象。
func (s *ConnectService) MarshalEnvelope(msgType string, data any) ([]byte, error) {
	envelope := map[string]any{
		"type": msgType,
	}
	if data != nil {
		envelope["data"] = data
	}
	return json.Marshal(envelope)
}

// touchActive 更新设备活跃时间到 Redis。
// Key 规则：
// - key:   user:devices:active:{user_uuid}
// - field: device_id
// - value: unix 秒
// 每次写入都会续期 key 的 TTL，确保活跃设备不被过早淘汰。
func (s *ConnectService) touchActive(ctx context.Context, userUUID, deviceID string) {
	if s.redisClient == nil || userUUID == "" || deviceID == "" {
		return
	}

	key := rediskey.DeviceActiveKey(userUUID)
	ts := time.Now().Unix()
	pipe := s.redisClient.Pipeline()
	pipe.HSet(ctx, key, deviceID, ts)
	pipe.Expire(ctx, key, rediskey.DeviceActiveTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn(ctx, "更新设备活跃时间失败",
			logger.String("user_uuid", userUUID),
			logger.String("device_id", deviceID),
			logger.ErrorField("error", err),
		)
	}
}

// md5Hex 返回字符串的 MD5 十六进制摘要。
func md5Hex(value string) string {
	sum := md5.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}
