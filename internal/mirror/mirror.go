// internal/mirror/mirror.go
// Optional copy of the images directory in an S3-compatible bucket
package mirror

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"reddit-image-download/internal/config"
)

// Mirror uploads rendered images and removes deleted ones. A Mirror built
// from a config without an endpoint does nothing.
type Mirror struct {
	client *minio.Client
	bucket string
	prefix string
	logger *zap.Logger
}

func New(cfg config.Mirror, logger *zap.Logger) (*Mirror, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mirror{bucket: cfg.Bucket, prefix: cfg.Prefix, logger: logger}
	if cfg.Endpoint == "" {
		return m, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating mirror client: %w", err)
	}
	m.client = client
	return m, nil
}

func (m *Mirror) Enabled() bool {
	return m != nil && m.client != nil
}

func (m *Mirror) key(name string) string {
	return path.Join(m.prefix, name)
}

// Put uploads dir/name.
func (m *Mirror) Put(ctx context.Context, dir, name string) error {
	if !m.Enabled() {
		return nil
	}
	info, err := m.client.FPutObject(ctx, m.bucket, m.key(name), filepath.Join(dir, name),
		minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return fmt.Errorf("error mirroring %s: %w", name, err)
	}
	m.logger.Debug("mirrored image", zap.String("key", info.Key), zap.Int64("bytes", info.Size))
	return nil
}

// Remove deletes name from the bucket. Missing objects are not an error.
func (m *Mirror) Remove(ctx context.Context, name string) error {
	if !m.Enabled() {
		return nil
	}
	if err := m.client.RemoveObject(ctx, m.bucket, m.key(name), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("error removing mirrored %s: %w", name, err)
	}
	return nil
}
