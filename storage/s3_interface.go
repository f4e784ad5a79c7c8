package storage

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client defines the interface for S3 operations.
// This interface abstracts the AWS S3 SDK client to enable dependency injection
// and testing with mock implementations.
type S3Client interface {
	// HeadBucket checks if a bucket exists and is accessible
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)

	// GetObject retrieves an object from S3; it also satisfies manager.DownloadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ObjectStore is the capability surface the sync engine needs from an object
// storage backend. Implementations must be safe for concurrent use.
//
// Errors are classified: ErrNotFound, ErrAccessDenied and ErrNoCredentials
// are matched with errors.Is; anything else is treated as transient.
type ObjectStore interface {
	// HeadBucket confirms that bucket exists and is reachable with the
	// ambient credentials.
	HeadBucket(ctx context.Context, bucket string) error

	// Download writes the object at key into destPath and returns the
	// number of bytes written. destPath is only created on success.
	Download(ctx context.Context, bucket, key, destPath string) (int64, error)
}
