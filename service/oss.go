package service

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ObjectStore persists generated media and returns a URL clients can fetch.
type ObjectStore interface {
	Upload(ctx context.Context, r io.Reader, objectName string, size int64) (string, error)
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Domain, when set, replaces presigned URLs with a public base URL.
	Domain string
}

// MinIOStore uploads media to a MinIO bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	domain string
	expiry time.Duration
	logger *zap.Logger
}

// NewMinIOStore 初始化 MinIO 连接
func NewMinIOStore(cfg MinIOConfig, logger *zap.Logger) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("MinIO 初始化失败: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
		domain: strings.TrimRight(cfg.Domain, "/"),
		expiry: 72 * time.Hour,
		logger: logger,
	}, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("检查 Bucket 失败: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("创建 Bucket 失败: %w", err)
	}
	s.logger.Info("bucket created", zap.String("bucket", s.bucket))
	return nil
}

// Upload 从 io.Reader 上传到 MinIO，size 为 -1 表示未知大小
func (s *MinIOStore) Upload(ctx context.Context, r io.Reader, objectName string, size int64) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentTypeFor(objectName),
	})
	if err != nil {
		return "", fmt.Errorf("上传到 MinIO 失败: %w", err)
	}
	s.logger.Info("object uploaded", zap.String("object", objectName))

	if s.domain != "" {
		return s.domain + "/" + s.bucket + "/" + objectName, nil
	}
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, s.expiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("生成签名 URL 失败: %w", err)
	}
	return presigned.String(), nil
}

// 根据文件扩展名确定 ContentType
func contentTypeFor(objectName string) string {
	switch strings.ToLower(filepath.Ext(objectName)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	}
	return "application/octet-stream"
}

// objectNameFor picks the storage path of a generated resource, keeping the source extension.
func objectNameFor(kind string, entityID int64, slot, sourceURL string) string {
	ext := ""
	if u, err := url.Parse(sourceURL); err == nil {
		ext = strings.ToLower(filepath.Ext(u.Path))
	}
	if ext == "" {
		ext = ".png"
		if slot == "video" || slot == "highRes" {
			ext = ".mp4"
		}
	}
	return fmt.Sprintf("%ss/%d/%s-%d%s", kind, entityID, slot, time.Now().UnixMilli(), ext)
}
