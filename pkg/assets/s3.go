package assets

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// S3Store keeps blobs in a bucket under <prefix>/<shard>/<hash>.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Store(cfg S3Config, bucket, prefix string) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf(
			"s3 access key and secret key are required",
		)
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *S3Store) String() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

func (s *S3Store) Key(hash string) string {
	if s.prefix == "" {
		return BlobKey(hash)
	}
	return s.prefix + "/" + BlobKey(hash)
}

func (s *S3Store) Has(ctx context.Context, hash string) (bool, error) {
	_, err := s.client.StatObject(
		ctx, s.bucket, s.Key(hash), minio.StatObjectOptions{},
	)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", s.Key(hash), err)
}

func (s *S3Store) Open(
	ctx context.Context, hash string,
) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(
		ctx, s.bucket, s.Key(hash), minio.GetObjectOptions{},
	)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.Key(hash), err)
	}
	// GetObject is lazy; Stat surfaces a missing key before any read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf(
				"%w: %s in %s", ErrMissingAsset, hash, s,
			)
		}
		return nil, fmt.Errorf("get %s: %w", s.Key(hash), err)
	}
	return obj, nil
}

func (s *S3Store) Put(
	ctx context.Context, hash string, r io.Reader, size int64,
) error {
	_, err := s.client.PutObject(
		ctx, s.bucket, s.Key(hash), r, size,
		minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		},
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", s.Key(hash), err)
	}
	return nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket" ||
		code == "NotFound"
}
