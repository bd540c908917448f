package ship

import (
	"context"
	stderrors "errors"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/errors"
	"go.uber.org/zap"
)

const uploadPartSize = 8 << 20

// S3Store keeps blobs in an S3 bucket. Uploads go through the multipart
// manager so streams of unknown length are accepted.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	logger   *zap.Logger
}

// NewS3Store loads the default AWS configuration. Static keys and a custom
// endpoint from cfg take precedence when set.
func NewS3Store(ctx context.Context, cfg config.ShipConfig, logger *zap.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.InvalidArgument("s3 backend needs ship.bucket", nil)
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.BackendFailure("failed to load aws configuration", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func NewS3StoreWithClient(client *s3.Client, bucket, prefix string, logger *zap.Logger) *S3Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Store{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = uploadPartSize
		}),
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

func (s *S3Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func isS3NotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return stderrors.As(err, &nf) || stderrors.As(err, &nsk)
}

func (s *S3Store) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   r,
	})
	if err != nil {
		return errors.BackendFailure("failed to upload blob "+name, err)
	}
	s.logger.Debug("Uploaded blob",
		zap.String("bucket", s.bucket),
		zap.String("location", out.Location),
		zap.Int64("bytes", size))
	return nil
}

func (s *S3Store) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, blobNotFound(name, err)
		}
		return nil, errors.BackendFailure("failed to download blob "+name, err)
	}
	return out.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil && !isS3NotFound(err) {
		return errors.BackendFailure("failed to delete blob "+name, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	})
	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.BackendFailure("failed to list blobs", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(strings.TrimPrefix(aws.ToString(obj.Key), s.prefix), "/")
			if name != "" && strings.HasPrefix(name, prefix) {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}
