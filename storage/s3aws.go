// Package storage provides the object storage backend used by skusync.
//
// S3Store talks to AWS S3 or any S3-compatible server (MinIO, Hetzner Object
// Storage, LakeFS) through aws-sdk-go-v2. Credentials always come from the
// AWS default credential chain unless static keys are passed explicitly, and
// are never logged.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	// DefaultRegion is used when neither options nor the AWS shared config
	// name a region; S3-compatible servers generally accept it.
	DefaultRegion = "us-east-1"

	// DefaultPartSize keeps typical SKU artifacts to a single GET.
	DefaultPartSize int64 = 64 * 1024 * 1024
)

// Options configures NewS3Store.
type Options struct {
	Region       string
	Endpoint     string // custom S3-compatible endpoint, e.g. http://localhost:9000
	UsePathStyle bool   // required for MinIO

	// AccessKeyID and SecretAccessKey bypass the default credential chain.
	// Intended for tests against local S3-compatible servers.
	AccessKeyID     string
	SecretAccessKey string

	PartSize int64
}

// S3Store implements ObjectStore on top of an S3Client.
type S3Store struct {
	client      S3Client
	downloader  *manager.Downloader
	credentials aws.CredentialsProvider
}

// Option customises an S3Store built with NewS3StoreWithClient.
type Option func(*S3Store)

// WithCredentials makes HeadBucket resolve credentials from provider before
// calling S3, so a missing credential chain is reported as ErrNoCredentials.
func WithCredentials(provider aws.CredentialsProvider) Option {
	return func(s *S3Store) {
		s.credentials = provider
	}
}

// WithPartSize sets the ranged GET size used by the download manager.
func WithPartSize(size int64) Option {
	return func(s *S3Store) {
		if size > 0 {
			s.downloader.PartSize = size
		}
	}
}

// NewS3Store loads the AWS configuration and builds an S3-backed store.
func NewS3Store(ctx context.Context, opts Options) (*S3Store, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return NewS3StoreWithClient(client, WithCredentials(cfg.Credentials), WithPartSize(opts.PartSize)), nil
}

// NewS3StoreWithClient wraps an existing client, typically a MockS3Client in tests.
func NewS3StoreWithClient(client S3Client, opts ...Option) *S3Store {
	s := &S3Store{
		client: client,
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			// one object per worker; parallelism comes from the worker pool
			d.Concurrency = 1
			d.PartSize = DefaultPartSize
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HeadBucket checks if a bucket exists and is accessible.
func (s *S3Store) HeadBucket(ctx context.Context, bucket string) error {
	if s.credentials != nil {
		if _, err := s.credentials.Retrieve(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrNoCredentials, err)
		}
	}

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", bucket, Classify(err))
	}
	return nil
}

// Download fetches bucket/key into destPath. The body is streamed into a
// temporary file next to destPath and renamed into place once complete, so
// an interrupted transfer never leaves a partial file under the final name.
func (s *S3Store) Download(ctx context.Context, bucket, key, destPath string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), filepath.Base(destPath)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file for %s: %w", destPath, err)
	}
	tmpName := tmp.Name()

	n, err := s.downloader.Download(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("get object %s/%s: %w", bucket, key, Classify(err))
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to write %s: %w", tmpName, closeErr)
	}

	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to set permissions on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to move download into %s: %w", destPath, err)
	}
	return n, nil
}
