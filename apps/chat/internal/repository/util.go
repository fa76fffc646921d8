package repository

import (
	"math/rand"
	"time"
)

// emptySetMarker 空集合缓存占位成员。
// Redis Set 不能为空，用特殊标记区分“缓存了空结果”与“缓存未命中”。
const emptySetMarker = "__EMPTY__"

// getRandomExpireTime 生成带随机抖动的过期时间
// baseExpire: 基础过期时间
// 返回: 基础过期时间 ± 10% 的随机时间
func getRandomExpireTime(baseExpire time.Duration) time.Duration {
	jitterRange := float64(baseExpire) * 0.1
	jitter := time.Duration(rand.Float64()*float64(jitterRange)*2 - float64(jitterRange))

	return baseExpire + jitter
}

// getRandomBool 生成随机布尔值
// probability: 概率
func getRandomBool(probability float64) bool {
	return rand.Float64() < probability
}
