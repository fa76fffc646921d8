package minio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ChatCore/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var global *MediaStore

// ErrObjectMismatch 表示对象存在但与声明的元数据不一致。
var ErrObjectMismatch = errors.New("media object metadata mismatch")

// MediaStore 媒体存储协作方的只读封装。
// 上传走独立通道（HTTP 直传/预签名 URL），核心只持引用并做元数据确认。
type MediaStore struct {
	client *minio.Client
	config config.MediaConfig
}

// Store 返回全局媒体存储实例（未初始化时为 nil）。
func Store() *MediaStore {
	return global
}

// ReplaceGlobal 设置全局媒体存储实例。
func ReplaceGlobal(s *MediaStore) {
	global = s
}

// Build 基于配置创建媒体存储客户端。
func Build(cfg config.MediaConfig) (*MediaStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("media endpoint is empty")
	}
	if strings.TrimSpace(cfg.BucketName) == "" {
		return nil, errors.New("media bucketName is empty")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MediaStore{client: client, config: cfg}, nil
}

// ConfirmUpload 确认对象已上传且与声明的元数据一致。
// objectKey 是附件引用中去掉 BaseURL 的对象路径。
// 校验内容：对象存在、实际大小与声明一致、ContentType 与声明一致。
func (s *MediaStore) ConfirmUpload(ctx context.Context, objectKey string, declaredSize int64, declaredMIME string) error {
	if s == nil {
		return errors.New("media store not initialized")
	}

	statCtx := ctx
	if s.config.StatTimeout > 0 {
		var cancel context.CancelFunc
		statCtx, cancel = context.WithTimeout(ctx, s.config.StatTimeout)
		defer cancel()
	}

	info, err := s.client.StatObject(statCtx, s.config.BucketName, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return err
	}
	if info.Size != declaredSize {
		return fmt.Errorf("%w: size declared=%d actual=%d", ErrObjectMismatch, declaredSize, info.Size)
	}
	if info.ContentType != "" && !strings.EqualFold(info.ContentType, declaredMIME) {
		return fmt.Errorf("%w: mime declared=%s actual=%s", ErrObjectMismatch, declaredMIME, info.ContentType)
	}
	return nil
}

// ObjectURL 拼出附件的外部访问 URL。
func (s *MediaStore) ObjectURL(objectKey string) string {
	base := strings.TrimRight(s.config.BaseURL, "/")
	return base + "/" + s.config.BucketName + "/" + strings.TrimLeft(objectKey, "/")
}
