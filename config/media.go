package config

import "time"

// MediaConfig 媒体附件校验与对象存储配置。
// 核心只校验声明的元数据（大小/类型）并在上传完成后向存储端确认，
// 不读取文件字节。
type MediaConfig struct {
	// 连接配置
	Endpoint        string `json:"endpoint" yaml:"endpoint"`               // MinIO 服务地址，如: localhost:9000
	AccessKeyID     string `json:"accessKeyId" yaml:"accessKeyId"`         // Access Key
	SecretAccessKey string `json:"secretAccessKey" yaml:"secretAccessKey"` // Secret Key
	UseSSL          bool   `json:"useSSL" yaml:"useSSL"`                   // 是否使用 HTTPS

	// Bucket 配置
	BucketName string `json:"bucketName" yaml:"bucketName"` // 存储桶名称

	// 校验配置
	MaxSizeBytes int64    `json:"maxSizeBytes" yaml:"maxSizeBytes"` // 附件大小硬上限（字节）
	AllowedTypes []string `json:"allowedTypes" yaml:"allowedTypes"` // 允许的 MIME 类型

	// 访问配置
	BaseURL     string        `json:"baseUrl" yaml:"baseUrl"`         // 返回给客户端的访问基础 URL
	StatTimeout time.Duration `json:"statTimeout" yaml:"statTimeout"` // 上传确认（Stat）超时
}

// DefaultMediaConfig 返回本地开发的默认配置（与 docker-compose 对齐）。
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		Endpoint:        "minio:9000",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		UseSSL:          false,

		BucketName: "chatcore",

		MaxSizeBytes: 10 * 1024 * 1024, // 10MB
		AllowedTypes: []string{
			"image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp",
			"video/mp4", "audio/mpeg", "application/pdf",
		},

		BaseURL:     "http://localhost:9000",
		StatTimeout: 5 * time.Second,
	}
}
