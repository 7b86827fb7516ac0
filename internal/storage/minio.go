package storage

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/andresuchdata/metadata-pipeline/internal/apperror"
)

// S3 rejects presigned URLs valid for longer than a week.
const maxSignedURLTTL = 7 * 24 * time.Hour

const codeNoSuchKey = "NoSuchKey"

// MinioConfig encapsulates the connection info for an S3-compatible store.
type MinioConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Bucket       string
	Region       string
	UseSSL       bool
}

// MinioStore implements ObjectStorage with path-style SigV4 requests.
type MinioStore struct {
	client *minio.Client
	bucket string
	log    zerolog.Logger
}

// NewMinioStore builds a MinioStore. No network call is made; the region is
// pinned so presigning never needs a bucket-location lookup.
func NewMinioStore(cfg MinioConfig, log zerolog.Logger) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint must be provided")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("storage credentials must be provided")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket must be provided")
	}

	host, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure:       secure,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		log:    log.With().Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

func (s *MinioStore) Bucket() string {
	return s.bucket
}

// Upload streams the file at localPath into key.
func (s *MinioStore) Upload(ctx context.Context, localPath, key string) error {
	if _, err := os.Stat(localPath); err != nil {
		return apperror.Transfer("upload", key, err)
	}

	info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return apperror.Transfer("upload", key, err)
	}

	s.log.Debug().Str("key", key).Int64("size", info.Size).Msg("object uploaded")
	return nil
}

// Download writes the object at key to localPath, replacing any existing file.
func (s *MinioStore) Download(ctx context.Context, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return apperror.Transfer("download", key, fmt.Errorf("failed creating directory for %s: %w", localPath, err))
	}

	if err := s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return apperror.Transfer("download", key, err)
	}

	s.log.Debug().Str("key", key).Str("path", localPath).Msg("object downloaded")
	return nil
}

// Delete removes key. A key that does not exist is not an error.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != codeNoSuchKey {
		return apperror.Cleanup(key, err)
	}

	s.log.Debug().Str("key", key).Msg("object deleted")
	return nil
}

// SignURL presigns op on key for ttl. Signing is local to the credentials.
func (s *MinioStore) SignURL(ctx context.Context, op Operation, key string, ttl time.Duration) (SignedURL, error) {
	if ttl <= 0 {
		return SignedURL{}, apperror.Transfer("sign url", key, fmt.Errorf("ttl %s already elapsed", ttl))
	}
	if ttl > maxSignedURLTTL {
		return SignedURL{}, apperror.Transfer("sign url", key, fmt.Errorf("ttl %s exceeds %s", ttl, maxSignedURLTTL))
	}

	issued := time.Now()

	var (
		u   *url.URL
		err error
	)
	switch op {
	case OpGet:
		u, err = s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	case OpPut:
		u, err = s.client.PresignedPutObject(ctx, s.bucket, key, ttl)
	default:
		err = fmt.Errorf("unsupported operation %q", op)
	}
	if err != nil {
		return SignedURL{}, apperror.Transfer("sign url", key, err)
	}

	return SignedURL{
		Op:        op,
		Key:       key,
		URL:       u.String(),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
	}, nil
}

var _ ObjectStorage = (*MinioStore)(nil)

// splitEndpoint accepts either a bare host or a URL and returns the host plus
// whether TLS should be used.
func splitEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "//"), "/"), useSSL, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid storage endpoint %q: %w", endpoint, err)
	}
	return u.Host, u.Scheme == "https", nil
}

func contentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
