package config

import "time"

// ChatConfig 消息路由与会话层配置。
type ChatConfig struct {
	MaxBodyLen        int           `json:"maxBodyLen" yaml:"maxBodyLen"`               // 消息正文最大长度（rune 数）
	NonceTTL          time.Duration `json:"nonceTTL" yaml:"nonceTTL"`                   // 幂等 nonce 去重窗口
	SendQueueSize     int           `json:"sendQueueSize" yaml:"sendQueueSize"`         // 单连接下行写队列长度
	FrameRate         float64       `json:"frameRate" yaml:"frameRate"`                 // 单连接上行帧速率（帧/秒）
	FrameBurst        int           `json:"frameBurst" yaml:"frameBurst"`               // 上行帧突发容量
	DrainTimeout      time.Duration `json:"drainTimeout" yaml:"drainTimeout"`           // 停机时等待在途消息扇出的时间
	RecoverySweepAge  time.Duration `json:"recoverySweepAge" yaml:"recoverySweepAge"`   // 启动补发扫描：pending 超过该时长的投递记录重新发布
	RecoverySweepSize int           `json:"recoverySweepSize" yaml:"recoverySweepSize"` // 启动补发扫描：单次处理上限
}

// DefaultChatConfig 返回本地开发的默认配置。
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		MaxBodyLen:        4000,
		NonceTTL:          10 * time.Minute,
		SendQueueSize:     64,
		FrameRate:         20,
		FrameBurst:        40,
		DrainTimeout:      10 * time.Second,
		RecoverySweepAge:  30 * time.Second,
		RecoverySweepSize: 500,
	}
}
