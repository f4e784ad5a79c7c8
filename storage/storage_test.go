package storage

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseError(status int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      errors.New("http error"),
		},
	}
}

// TestClassify tests mapping of SDK errors to storage sentinels
func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "NoSuchKey", err: &types.NoSuchKey{}, expected: ErrNotFound},
		{name: "NoSuchBucket", err: &types.NoSuchBucket{}, expected: ErrNotFound},
		{name: "HeadNotFound", err: &types.NotFound{}, expected: ErrNotFound},
		{name: "APINotFoundCode", err: &smithy.GenericAPIError{Code: "NotFound"}, expected: ErrNotFound},
		{name: "AccessDenied", err: &smithy.GenericAPIError{Code: "AccessDenied"}, expected: ErrAccessDenied},
		{name: "Forbidden", err: &smithy.GenericAPIError{Code: "Forbidden"}, expected: ErrAccessDenied},
		{name: "HTTP404", err: responseError(http.StatusNotFound), expected: ErrNotFound},
		{name: "HTTP403", err: responseError(http.StatusForbidden), expected: ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify(tt.err)
			assert.ErrorIs(t, classified, tt.expected)
			assert.ErrorIs(t, classified, tt.err)
		})
	}
}

// TestClassify_Transient tests that unknown errors pass through unchanged
func TestClassify_Transient(t *testing.T) {
	assert.NoError(t, Classify(nil))

	for _, err := range []error{
		errors.New("connection reset by peer"),
		&smithy.GenericAPIError{Code: "SlowDown"},
		responseError(http.StatusServiceUnavailable),
		context.DeadlineExceeded,
	} {
		classified := Classify(err)
		assert.Equal(t, err, classified)
		assert.NotErrorIs(t, classified, ErrNotFound)
		assert.NotErrorIs(t, classified, ErrAccessDenied)
	}
}

// TestHeadBucket tests bucket pre-flight outcomes
func TestHeadBucket(t *testing.T) {
	ctx := context.Background()
	client := NewMockS3Client()
	client.Buckets["skus"] = true
	store := NewS3StoreWithClient(client)

	require.NoError(t, store.HeadBucket(ctx, "skus"))
	assert.Equal(t, "skus", client.LastBucket)

	assert.ErrorIs(t, store.HeadBucket(ctx, "missing"), ErrNotFound)

	client.Err = &smithy.GenericAPIError{Code: "Forbidden"}
	assert.ErrorIs(t, store.HeadBucket(ctx, "skus"), ErrAccessDenied)
}

// TestHeadBucket_NoCredentials tests that a failing credential chain short-circuits
func TestHeadBucket_NoCredentials(t *testing.T) {
	client := NewMockS3Client()
	client.Buckets["skus"] = true
	provider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{}, errors.New("no EC2 IMDS role found")
	})
	store := NewS3StoreWithClient(client, WithCredentials(provider))

	err := store.HeadBucket(context.Background(), "skus")
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Zero(t, client.HeadBucketCalls)
}

// TestDownload tests a successful download lands under the final name only
func TestDownload(t *testing.T) {
	client := NewMockS3Client()
	client.PutObject("skus/SKU001.pdf", "%PDF-1.7 sample")
	store := NewS3StoreWithClient(client)

	dir := t.TempDir()
	dest := filepath.Join(dir, "SKU001.pdf")

	n, err := store.Download(context.Background(), "bucket", "skus/SKU001.pdf", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("%PDF-1.7 sample")), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 sample", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary part file must be renamed away")
	assert.Equal(t, "bucket", client.LastBucket)
}

// TestDownload_RangedParts tests multi-part assembly through the download manager
func TestDownload_RangedParts(t *testing.T) {
	client := NewMockS3Client()
	client.PutObject("big.bin", "0123456789")
	store := NewS3StoreWithClient(client, WithPartSize(4))

	dest := filepath.Join(t.TempDir(), "big.bin")
	n, err := store.Download(context.Background(), "bucket", "big.bin", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.Equal(t, 3, client.Calls("big.bin"))
}

// TestDownload_NotFound tests that a missing key leaves nothing behind
func TestDownload_NotFound(t *testing.T) {
	client := NewMockS3Client()
	store := NewS3StoreWithClient(client)

	dir := t.TempDir()
	_, err := store.Download(context.Background(), "bucket", "absent.pdf", filepath.Join(dir, "absent.pdf"))
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestDownload_TransientThenSuccess tests queued per-key errors in the mock
func TestDownload_TransientThenSuccess(t *testing.T) {
	client := NewMockS3Client()
	client.PutObject("k.txt", "body")
	client.KeyErrors["k.txt"] = []error{errors.New("connection reset")}
	store := NewS3StoreWithClient(client)

	dest := filepath.Join(t.TempDir(), "k.txt")
	_, err := store.Download(context.Background(), "bucket", "k.txt", dest)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NoFileExists(t, dest)

	_, err = store.Download(context.Background(), "bucket", "k.txt", dest)
	require.NoError(t, err)
	assert.FileExists(t, dest)
}

// TestDownload_MissingDirectory tests failure when the destination dir is absent
func TestDownload_MissingDirectory(t *testing.T) {
	client := NewMockS3Client()
	client.PutObject("k.txt", "body")
	store := NewS3StoreWithClient(client)

	_, err := store.Download(context.Background(), "bucket", "k.txt", filepath.Join(t.TempDir(), "nope", "k.txt"))
	assert.Error(t, err)
	assert.Zero(t, client.Calls("k.txt"))
}
