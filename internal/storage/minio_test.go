package storage

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/metadata-pipeline/internal/apperror"
)

func newTestMinioStore(t *testing.T) *MinioStore {
	t.Helper()
	store, err := NewMinioStore(MinioConfig{
		Endpoint:     "https://s3.example.com",
		AccessKey:    "AKIDEXAMPLE",
		SecretKey:    "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
		SessionToken: "session",
		Bucket:       "staging",
		Region:       "eu-west-1",
	}, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestNewMinioStoreValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  MinioConfig
	}{
		{"no endpoint", MinioConfig{AccessKey: "a", SecretKey: "s", Bucket: "b"}},
		{"no credentials", MinioConfig{Endpoint: "s3.example.com", Bucket: "b"}},
		{"no bucket", MinioConfig{Endpoint: "s3.example.com", AccessKey: "a", SecretKey: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMinioStore(tt.cfg, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		endpoint   string
		useSSL     bool
		wantHost   string
		wantSecure bool
	}{
		{"https://s3.example.com", false, "s3.example.com", true},
		{"http://localhost:9000", true, "localhost:9000", false},
		{"s3.example.com", true, "s3.example.com", true},
		{"//minio.local:9000/", false, "minio.local:9000", false},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			host, secure, err := splitEndpoint(tt.endpoint, tt.useSSL)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantSecure, secure)
		})
	}
}

func TestMinioSignURLScopesKeyAndExpiry(t *testing.T) {
	store := newTestMinioStore(t)
	ctx := context.Background()

	get, err := store.SignURL(ctx, OpGet, "sample.json", time.Hour)
	require.NoError(t, err)

	u, err := url.Parse(get.URL)
	require.NoError(t, err)
	assert.Equal(t, "/staging/sample.json", u.Path)
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
	assert.Equal(t, "session", u.Query().Get("X-Amz-Security-Token"))
	assert.Equal(t, OpGet, get.Op)
	assert.WithinDuration(t, get.IssuedAt.Add(time.Hour), get.ExpiresAt, time.Millisecond)

	later, err := store.SignURL(ctx, OpGet, "sample.json", 2*time.Hour)
	require.NoError(t, err)
	lu, err := url.Parse(later.URL)
	require.NoError(t, err)
	assert.Equal(t, "7200", lu.Query().Get("X-Amz-Expires"))
	assert.NotEqual(t, u.Query().Get("X-Amz-Signature"), lu.Query().Get("X-Amz-Signature"))
}

func TestMinioSignURLOperationsDiffer(t *testing.T) {
	store := newTestMinioStore(t)
	ctx := context.Background()

	get, err := store.SignURL(ctx, OpGet, "segments.json", time.Hour)
	require.NoError(t, err)
	put, err := store.SignURL(ctx, OpPut, "segments.json", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, OpPut, put.Op)
	assert.NotEqual(t, get.URL, put.URL)
}

func TestMinioSignURLRejectsElapsedTTL(t *testing.T) {
	store := newTestMinioStore(t)

	for _, ttl := range []time.Duration{0, -time.Second, 8 * 24 * time.Hour} {
		_, err := store.SignURL(context.Background(), OpPut, "out.xml", ttl)
		assert.True(t, errors.Is(err, apperror.ErrTransfer), "ttl %s", ttl)
	}
}

func TestMinioUploadMissingFile(t *testing.T) {
	store := newTestMinioStore(t)

	err := store.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.json"), "missing.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrTransfer))
}

func TestMinioUploadDownloadRoundTrip(t *testing.T) {
	stub, store := newS3Stub(t, "staging")
	ctx := context.Background()
	dir := t.TempDir()

	content := []byte(`{"text":"It's the way I negotiate."}`)
	src := filepath.Join(dir, "sample.json")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	require.NoError(t, store.Upload(ctx, src, "sample.json"))
	stored, ok := stub.object("sample.json")
	require.True(t, ok)
	assert.Equal(t, content, stored)

	dst := filepath.Join(dir, "out", "sample.json")
	require.NoError(t, store.Download(ctx, "sample.json", dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestMinioDownloadMissingKey(t *testing.T) {
	_, store := newS3Stub(t, "staging")

	dst := filepath.Join(t.TempDir(), "absent.xml")
	err := store.Download(context.Background(), "absent.xml", dst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrTransfer))
	assert.NoFileExists(t, dst)
}

func TestMinioDeleteIsIdempotent(t *testing.T) {
	stub, store := newS3Stub(t, "staging")
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "segments.xml")
	require.NoError(t, os.WriteFile(src, []byte("<segments/>"), 0o644))
	require.NoError(t, store.Upload(ctx, src, "segments.xml"))

	require.NoError(t, store.Delete(ctx, "segments.xml"))
	require.NoError(t, store.Delete(ctx, "segments.xml"))

	_, ok := stub.object("segments.xml")
	assert.False(t, ok)
	assert.Equal(t, []string{"segments.xml", "segments.xml"}, stub.deletes)
}

func TestMinioDeleteFailureIsCleanupError(t *testing.T) {
	_, store := newS3Stub(t, "other-bucket")
	store.bucket = "staging"

	err := store.Delete(context.Background(), "input.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrCleanup))
}
