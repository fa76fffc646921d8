package util

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims 接入层信任的身份声明。
// token 由 HTTP 登录服务签发，本服务只做解析与校验，不负责签发流程。
type Claims struct {
	UserUUID string `json:"user_uuid"`
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// ErrTokenMalformed token 非法或签名不匹配。
var ErrTokenMalformed = errors.New("token malformed")

// jwtSecret 返回签名密钥。
// 与签发侧共享 AUTH_JWT_SECRET，本地开发有固定默认值。
func jwtSecret() []byte {
	if s := os.Getenv("AUTH_JWT_SECRET"); s != "" {
		return []byte(s)
	}
	return []byte("chatcore-dev-secret")
}

// ParseToken 解析并校验 access token。
// 过期、签名错误、算法不匹配都返回错误。
func ParseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenMalformed
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// GenerateToken 签发一个 access token。
// 仅用于本地联调与测试，线上签发由登录服务负责。
func GenerateToken(userUUID, deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserUUID: userUUID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret())
}
