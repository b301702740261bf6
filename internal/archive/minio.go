package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIO is an ObjectStore on any S3-compatible endpoint.
type MinIO struct {
	mc     *minio.Client
	bucket string
}

// Compile-time interface check.
var _ ObjectStore = (*MinIO)(nil)

// NewMinIO creates a client for cfg.Endpoint. It does not contact the
// server; call EnsureBucket for that.
func NewMinIO(cfg Config) (*MinIO, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: minio client: %w", err)
	}
	return &MinIO{mc: mc, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.mc.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("archive: check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.mc.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("archive: create bucket %s: %w", m.bucket, err)
	}
	return nil
}

// Put uploads data under key.
func (m *MinIO) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := m.mc.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("archive: upload %s/%s: %w", m.bucket, key, err)
	}
	return nil
}
