package storage

import (
	"context"
	"time"
)

// Operation is the single action a signed URL authorizes.
type Operation string

const (
	OpGet Operation = "get"
	OpPut Operation = "put"
)

// SignedURL is a capability to perform Op on Key until ExpiresAt.
type SignedURL struct {
	Op        Operation
	Key       string
	URL       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the URL can no longer be used at now.
func (s SignedURL) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ObjectStorage captures the S3-compatible operations the staging pipeline needs.
// Errors are *apperror.Error of kind transfer; Delete reports cleanup errors
// and treats a missing key as success.
type ObjectStorage interface {
	Bucket() string
	Upload(ctx context.Context, localPath, key string) error
	Download(ctx context.Context, key, localPath string) error
	Delete(ctx context.Context, key string) error
	SignURL(ctx context.Context, op Operation, key string, ttl time.Duration) (SignedURL, error)
}
