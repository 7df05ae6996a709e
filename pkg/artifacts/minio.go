package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/retry"
)

// MinIOStore keeps artifacts in an S3-compatible bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	retry  *retry.Config
	logger *zap.Logger
}

// NewMinIOStore connects to the endpoint and makes sure the bucket exists.
func NewMinIOStore(ctx context.Context, cfg config.MinIOConfig, logger *zap.Logger) (*MinIOStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("Created artifact bucket", zap.String("bucket", cfg.Bucket))
	}

	return &MinIOStore{
		client: cli,
		bucket: cfg.Bucket,
		retry:  retry.DefaultConfig(),
		logger: logger.Named("minio"),
	}, nil
}

func (s *MinIOStore) onRetry(op, key string) retry.OnRetry {
	return func(attempt int, delay time.Duration, err error) {
		s.logger.Warn("Retrying artifact operation",
			zap.String("op", op),
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
}

func (s *MinIOStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	key, err := ValidateKey(key)
	if err != nil {
		return err
	}
	_, err = retry.DoWithResult(ctx, s.retry, func(ctx context.Context) (minio.UploadInfo, error) {
		return s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: contentType})
	}, s.onRetry("put", key))
	if err != nil {
		return apperrors.TransientIO(err, "put artifact %s", key)
	}
	return nil
}

func (s *MinIOStore) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := ValidateKey(key)
	if err != nil {
		return nil, err
	}
	data, err := retry.DoWithResult(ctx, s.retry, func(ctx context.Context) ([]byte, error) {
		obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, err
		}
		defer obj.Close()
		return io.ReadAll(obj)
	}, s.onRetry("get", key))
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("artifact %s: %w", key, apperrors.ErrNotFound)
		}
		return nil, apperrors.TransientIO(err, "get artifact %s", key)
	}
	return data, nil
}

func (s *MinIOStore) DeletePrefix(ctx context.Context, prefix string) error {
	prefix, err := ValidateKey(prefix)
	if err != nil {
		return err
	}
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix + "/", Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			return apperrors.TransientIO(obj.Err, "list artifacts %s", prefix)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return apperrors.TransientIO(err, "remove artifact %s", obj.Key)
		}
	}
	return nil
}
