// Package file 提供原始文件区与脱敏工作区的对象存储
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ashwinyue/family-health/internal/config"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// Storage 文件存储接口
// key 为正斜杠分隔的相对路径，如 raw_vault/<user>/<id>/a.pdf
type Storage interface {
	// Put 写入对象，size 未知时传 -1
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get 读取对象，不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除对象，不存在时不报错
	Delete(ctx context.Context, key string) error
	// Exists 对象是否存在
	Exists(ctx context.Context, key string) (bool, error)
}

// StorageType 存储类型
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeMinIO StorageType = "minio"
)

// New 根据配置创建存储
func New(ctx context.Context, cfg *config.StorageConfig) (Storage, error) {
	switch StorageType(cfg.Type) {
	case StorageTypeLocal, "":
		return NewLocalStorage(cfg.DataRoot)
	case StorageTypeMinIO:
		m := cfg.MinIO
		if m.Endpoint == "" || m.AccessKey == "" || m.SecretKey == "" || m.Bucket == "" {
			return nil, fmt.Errorf("missing required MinIO config")
		}
		return NewMinIOStorage(ctx, &MinIOConfig{
			Endpoint:   m.Endpoint,
			AccessKey:  m.AccessKey,
			SecretKey:  m.SecretKey,
			BucketName: m.Bucket,
			UseSSL:     m.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// PutBytes 写入字节内容
func PutBytes(ctx context.Context, s Storage, key string, data []byte, contentType string) error {
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// ReadAll 读取整个对象
func ReadAll(ctx context.Context, s Storage, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
