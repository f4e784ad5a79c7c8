package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MockS3Client is a mock implementation of S3Client for testing.
// It is safe for concurrent use.
type MockS3Client struct {
	mu sync.Mutex

	// Objects stores mock S3 objects keyed by object key
	Objects map[string]*MockS3Object
	// Buckets stores the list of buckets
	Buckets map[string]bool
	// Err is returned from every operation when set
	Err error
	// KeyErrors queues errors returned by successive GetObject calls for a
	// key before it is served normally
	KeyErrors map[string][]error

	// Track function calls
	HeadBucketCalls int
	GetObjectCalls  map[string]int
	LastBucket      string
	LastObjectKey   string
	LastRange       string
}

// MockS3Object represents a mock S3 object with content and metadata
type MockS3Object struct {
	Key      string
	Content  string
	Metadata map[string]string
}

// NewMockS3Client creates a new mock S3 client
func NewMockS3Client() *MockS3Client {
	return &MockS3Client{
		Objects:        make(map[string]*MockS3Object),
		Buckets:        make(map[string]bool),
		KeyErrors:      make(map[string][]error),
		GetObjectCalls: make(map[string]int),
	}
}

// PutObject stores content under key.
func (m *MockS3Client) PutObject(key, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[key] = &MockS3Object{Key: key, Content: content}
}

// Calls returns how many GetObject requests were made for key.
func (m *MockS3Client) Calls(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GetObjectCalls[key]
}

// HeadBucket mocks checking bucket existence
func (m *MockS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.HeadBucketCalls++
	if params.Bucket != nil {
		m.LastBucket = *params.Bucket
	}

	if m.Err != nil {
		return nil, m.Err
	}

	if params.Bucket != nil && m.Buckets[*params.Bucket] {
		return &s3.HeadBucketOutput{}, nil
	}

	return nil, &types.NotFound{}
}

// GetObject mocks retrieving an object, honouring "bytes=a-b" ranges the way
// the download manager issues them.
func (m *MockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := aws.ToString(params.Key)
	m.GetObjectCalls[key]++
	m.LastBucket = aws.ToString(params.Bucket)
	m.LastObjectKey = key
	m.LastRange = aws.ToString(params.Range)

	if m.Err != nil {
		return nil, m.Err
	}
	if queued := m.KeyErrors[key]; len(queued) > 0 {
		m.KeyErrors[key] = queued[1:]
		return nil, queued[0]
	}

	obj, exists := m.Objects[key]
	if !exists {
		return nil, &types.NoSuchKey{}
	}

	total := int64(len(obj.Content))
	if params.Range == nil {
		return &s3.GetObjectOutput{
			Body:          io.NopCloser(strings.NewReader(obj.Content)),
			ContentLength: aws.Int64(total),
			Metadata:      obj.Metadata,
		}, nil
	}

	var start, end int64
	if _, err := fmt.Sscanf(*params.Range, "bytes=%d-%d", &start, &end); err != nil {
		return nil, fmt.Errorf("mock: bad range %q: %w", *params.Range, err)
	}
	if total == 0 {
		return &s3.GetObjectOutput{
			Body:          io.NopCloser(strings.NewReader("")),
			ContentLength: aws.Int64(0),
		}, nil
	}
	if end >= total {
		end = total - 1
	}
	part := obj.Content[start : end+1]
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(part)),
		ContentLength: aws.Int64(int64(len(part))),
		ContentRange:  aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, total)),
		Metadata:      obj.Metadata,
	}, nil
}
