package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BlobStore stores artifacts and hands out time-limited links to them.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// S3Client is the minimal interface for the S3 client required by S3Store. These functions
// are already implemented by the AWS SDK, but we define our own type to allow us to mock the client in tests.
type S3Client interface {
	// https://pkg.go.dev/github.com/aws/aws-sdk-go-v2/service/s3#Client.PutObject
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Presigner is the minimal interface for the S3 presign client required by S3Store.
type S3Presigner interface {
	// https://pkg.go.dev/github.com/aws/aws-sdk-go-v2/service/s3#PresignClient.PresignGetObject
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config selects the bucket artifacts are uploaded to.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
}

// S3Store is a BlobStore backed by an S3 bucket.
type S3Store struct {
	bucket    string
	prefix    string
	client    S3Client
	presigner S3Presigner
}

var _ BlobStore = (*S3Store)(nil)

// NewS3Store creates an S3Store using the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("artifact bucket is required")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return NewS3StoreWithClient(cfg, client, s3.NewPresignClient(client)), nil
}

func NewS3StoreWithClient(cfg S3Config, client S3Client, presigner S3Presigner) *S3Store {
	return &S3Store{bucket: cfg.Bucket, prefix: cfg.Prefix, client: client, presigner: presigner}
}

func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Put uploads body under key.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s failed: %w", key, err)
	}
	return nil
}

// SignedURL presigns a GET of key valid for ttl.
func (s *S3Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign %s failed: %w", key, err)
	}
	return req.URL, nil
}
