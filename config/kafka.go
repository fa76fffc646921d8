package config

import (
	"os"
	"strings"
	"time"
)

// KafkaConsumerConfig 消费端参数。
type KafkaConsumerConfig struct {
	GroupID        string        `json:"groupId" yaml:"groupId"`               // 消费组
	MinBytes       int           `json:"minBytes" yaml:"minBytes"`             // 单次拉取最小字节数
	MaxBytes       int           `json:"maxBytes" yaml:"maxBytes"`             // 单次拉取最大字节数
	CommitInterval time.Duration `json:"commitInterval" yaml:"commitInterval"` // 位点提交间隔
}

// KafkaConfig Kafka 配置。
// 当前仅用于投递补发队列：broker publish 失败的 envelope 进入该 Topic，
// 由消费者按序重放到 Pub/Sub 通道。
type KafkaConfig struct {
	Brokers           []string            `json:"brokers" yaml:"brokers"`                     // broker 地址列表
	PublishRetryTopic string              `json:"publishRetryTopic" yaml:"publishRetryTopic"` // 补发队列 Topic
	ConsumerConfig    KafkaConsumerConfig `json:"consumerConfig" yaml:"consumerConfig"`       // 消费端参数
}

// DefaultKafkaConfig 返回本地开发的默认配置。
// 地址优先读取 KAFKA_BROKERS（逗号分隔）。
func DefaultKafkaConfig() KafkaConfig {
	brokers := []string{"127.0.0.1:9092"}
	if env := os.Getenv("KAFKA_BROKERS"); env != "" {
		brokers = strings.Split(env, ",")
	}
	return KafkaConfig{
		Brokers:           brokers,
		PublishRetryTopic: "chat-publish-retry",
		ConsumerConfig: KafkaConsumerConfig{
			GroupID:        "chat-publish-retry-consumer",
			MinBytes:       1,
			MaxBytes:       10 * 1024 * 1024,
			CommitInterval: time.Second,
		},
	}
}
