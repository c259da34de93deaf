package tiles

import (
	"context"
	"fmt"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fieldwork/fieldsync/internal/config"
)

// s3Client is the subset of minio.Client used by S3Source.
type s3Client interface {
	FGetObject(ctx context.Context, bucket, objectName, filePath string) error
}

// minioClientWrapper adapts *minio.Client to s3Client.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FGetObject(ctx context.Context, bucket, objectName, filePath string) error {
	return w.client.FGetObject(ctx, bucket, objectName, filePath, minio.GetObjectOptions{})
}

// S3Source reads pre-rendered tiles from an S3-compatible bucket laid out
// as {prefix}{z}/{x}/{y}.png.
type S3Source struct {
	client s3Client
	bucket string
	prefix string
}

// NewS3Source connects to the configured bucket. UseSSL defaults to true.
func NewS3Source(cfg config.TileS3Config) (*S3Source, error) {
	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Source{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Fetch downloads the object for t into dst.
func (s *S3Source) Fetch(ctx context.Context, t Tile, dst string) error {
	key := objectKey(s.prefix, t)
	err := s.client.FGetObject(ctx, s.bucket, key, dst)
	if err == nil {
		return nil
	}

	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return fmt.Errorf("%w: %s", ErrTileNotFound, key)
	case "NoSuchBucket", "AccessDenied":
		return fmt.Errorf("%w: %s: %v", ErrTileRejected, key, err)
	}
	return fmt.Errorf("fetch %s from S3: %w", key, classify(err))
}

func objectKey(prefix string, t Tile) string {
	return prefix + strconv.Itoa(t.Z) + "/" + strconv.Itoa(t.X) + "/" + strconv.Itoa(t.Y) + ".png"
}
