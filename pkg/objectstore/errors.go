package objectstore

import (
	"errors"
	"fmt"
)

// Sentinel errors for storage operations.
var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnavailable indicates the storage service is unavailable.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrThrottled indicates the request was rate limited.
	ErrThrottled = errors.New("request throttled")

	// ErrInvalidPath indicates a path escaping the storage root.
	ErrInvalidPath = errors.New("invalid object path")
)

// StorageError wraps backend errors with operation context.
type StorageError struct {
	Op      string
	Backend Backend
	Bucket  string
	Path    string
	Err     error
}

func (e *StorageError) Error() string {
	switch {
	case e.Bucket != "" && e.Path != "":
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Backend, e.Op, e.Bucket, e.Path, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s %s: %s: %v", e.Backend, e.Op, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
	}
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsNotFound returns true if the error indicates an object was not found.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRetryable reports whether err is transient: throttling or an
// unavailable service. Unclassified errors are treated as transient too,
// since network failures surface that way.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrThrottled), errors.Is(err, ErrUnavailable):
		return true
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAccessDenied), errors.Is(err, ErrBucketNotFound),
		errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidPath):
		return false
	default:
		return true
	}
}
