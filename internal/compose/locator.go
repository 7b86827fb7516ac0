package compose

import (
	"fmt"

	"github.com/andresuchdata/metadata-pipeline/internal/domain"
	"github.com/andresuchdata/metadata-pipeline/internal/storage"
)

// NewLocator builds a Locator from its parts.
func NewLocator(bucket, key, signedURL string) domain.Locator {
	return domain.Locator{Bucket: bucket, Key: key, SignedURL: signedURL}
}

// Source is the locator of an object the remote service reads.
func Source(bucket string, u storage.SignedURL) (domain.Locator, error) {
	return scoped(bucket, u, storage.OpGet)
}

// Destination is the locator of an object the remote service writes.
func Destination(bucket string, u storage.SignedURL) (domain.Locator, error) {
	return scoped(bucket, u, storage.OpPut)
}

func scoped(bucket string, u storage.SignedURL, want storage.Operation) (domain.Locator, error) {
	if u.Op != want {
		return domain.Locator{}, fmt.Errorf("locator for %q needs a %s url, got %s", u.Key, want, u.Op)
	}
	return NewLocator(bucket, u.Key, u.URL), nil
}
