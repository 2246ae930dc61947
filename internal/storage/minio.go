// Package storage holds the object-storage adapters used to deliver generated
// files and the publisher that binds them to the render pipeline.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"time"

	"docchat/internal/domain"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOConfig struct {
	Endpoint  string // host:port, no scheme
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Logger    *slog.Logger
}

// MinIO stores objects in any S3-compatible service.
type MinIO struct {
	client *minio.Client
	region string
	logger *slog.Logger
}

var _ domain.ObjectStorage = (*MinIO)(nil)

func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client %s: %w", cfg.Endpoint, err)
	}
	return &MinIO{client: client, region: cfg.Region, logger: cfg.Logger}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *MinIO) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	m.logger.Info("bucket created", "bucket", bucket)
	return nil
}

func (m *MinIO) Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) (string, error) {
	info, err := m.client.PutObject(ctx, bucket, objectPath, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, objectPath, err)
	}
	m.logger.Debug("object uploaded", "bucket", bucket, "path", objectPath, "etag", info.ETag)
	return objectPath, nil
}

// Presign returns a GET URL that downloads the object under its base name.
func (m *MinIO) Presign(ctx context.Context, bucket, objectPath string, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(objectPath)))
	u, err := m.client.PresignedGetObject(ctx, bucket, objectPath, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, objectPath, err)
	}
	return u.String(), nil
}
