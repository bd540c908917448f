package ship

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinioStore keeps blobs in a MinIO or other S3 compatible bucket
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
	logger *zap.Logger
}

func NewMinioStore(cfg config.ShipConfig, logger *zap.Logger) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.InvalidArgument("minio backend needs ship.endpoint and ship.bucket", nil)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.BackendFailure("failed to create minio client", err)
	}
	return NewMinioStoreWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func NewMinioStoreWithClient(client *minio.Client, bucket, prefix string, logger *zap.Logger) *MinioStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinioStore{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

func (s *MinioStore) key(name string) string {
	return path.Join(s.prefix, name)
}

func isMinioNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinioStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	info, err := s.client.PutObject(ctx, s.bucket, s.key(name), r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return errors.BackendFailure("failed to upload blob "+name, err)
	}
	s.logger.Debug("Uploaded blob",
		zap.String("bucket", s.bucket),
		zap.String("key", info.Key),
		zap.Int64("bytes", info.Size))
	return nil
}

func (s *MinioStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	key := s.key(name)
	// GetObject is lazy, so existence is checked up front
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isMinioNotFound(err) {
			return nil, blobNotFound(name, err)
		}
		return nil, errors.BackendFailure("failed to stat blob "+name, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.BackendFailure("failed to download blob "+name, err)
	}
	return obj, nil
}

func (s *MinioStore) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isMinioNotFound(err) {
		return errors.BackendFailure("failed to delete blob "+name, err)
	}
	return nil
}

func (s *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, errors.BackendFailure("failed to list blobs", obj.Err)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, s.prefix), "/")
		if name != "" && strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
