package syncer

import "errors"

// Pre-flight failures. Each one aborts the run before any download starts.
var (
	ErrBucketNotFound = errors.New("bucket not found")
	ErrAccessDenied   = errors.New("access denied to bucket")
	ErrCredentials    = errors.New("storage credentials unavailable")
	ErrPreflight      = errors.New("bucket pre-flight check failed")
)

// ErrPathEscape is returned by ValidatePath when a candidate would resolve
// outside the download directory.
var ErrPathEscape = errors.New("path escapes download directory")
