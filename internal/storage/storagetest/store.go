// Package storagetest provides an in-memory ObjectStorage whose signed URLs
// are served over HTTP, so code under test can hand them to a fake remote
// service exactly as it would hand S3 URLs to the real one.
package storagetest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andresuchdata/metadata-pipeline/internal/apperror"
	"github.com/andresuchdata/metadata-pipeline/internal/storage"
)

// Store is an in-memory bucket. Zero-value fields of the exported failure
// knobs mean "no failure".
type Store struct {
	// UploadErr, when set, makes every Upload fail as if the store rejected the put.
	UploadErr error
	// DeleteErr maps keys to the error Delete should report for them.
	DeleteErr map[string]error

	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	secret  []byte
	signed  map[storage.Operation]int
	ops     []string
	server  *httptest.Server
	now     func() time.Time
}

// New starts a Store serving its signed URLs. The server is closed when tb ends.
func New(tb testing.TB, bucket string) *Store {
	tb.Helper()

	s := &Store{
		DeleteErr: map[string]error{},
		bucket:    bucket,
		objects:   map[string][]byte{},
		secret:    []byte("storagetest-" + bucket),
		signed:    map[storage.Operation]int{},
		now:       time.Now,
	}
	s.server = httptest.NewServer(s)
	tb.Cleanup(s.server.Close)

	return s
}

func (s *Store) Bucket() string {
	return s.bucket
}

func (s *Store) Upload(ctx context.Context, localPath, key string) error {
	s.record("upload " + key)

	data, err := os.ReadFile(localPath)
	if err != nil {
		return apperror.Transfer("upload", key, err)
	}
	if s.UploadErr != nil {
		return apperror.Transfer("upload", key, s.UploadErr)
	}

	s.Put(key, data)
	return nil
}

func (s *Store) Download(ctx context.Context, key, localPath string) error {
	s.record("download " + key)

	data, ok := s.Object(key)
	if !ok {
		return apperror.Transfer("download", key, fmt.Errorf("no such key"))
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return apperror.Transfer("download", key, err)
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return apperror.Transfer("download", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.record("delete " + key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.DeleteErr[key]; err != nil {
		return apperror.Cleanup(key, err)
	}
	delete(s.objects, key)
	return nil
}

// SignURL mints a URL for any ttl; a non-positive ttl yields a URL that is
// already expired when served.
func (s *Store) SignURL(ctx context.Context, op storage.Operation, key string, ttl time.Duration) (storage.SignedURL, error) {
	s.record(fmt.Sprintf("sign %s %s", op, key))

	issued := s.now()
	expires := issued.Add(ttl)

	s.mu.Lock()
	s.signed[op]++
	s.mu.Unlock()

	q := url.Values{}
	q.Set("op", string(op))
	q.Set("expires", strconv.FormatInt(expires.UnixNano(), 10))
	q.Set("sig", s.signature(op, key, expires.UnixNano()))

	return storage.SignedURL{
		Op:        op,
		Key:       key,
		URL:       fmt.Sprintf("%s/%s/%s?%s", s.server.URL, s.bucket, url.PathEscape(key), q.Encode()),
		IssuedAt:  issued,
		ExpiresAt: expires,
	}, nil
}

// Put seeds an object directly.
func (s *Store) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
}

// Object returns a copy of the object stored at key.
func (s *Store) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Keys lists the stored keys in order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SignCount returns how many URLs were minted for op.
func (s *Store) SignCount(op storage.Operation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signed[op]
}

// Ops returns every call made against the store, in order.
func (s *Store) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

// ServeHTTP serves GET and PUT against signed URLs.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] != s.bucket {
		http.Error(w, "NoSuchBucket", http.StatusNotFound)
		return
	}
	key := parts[1]

	q := r.URL.Query()
	op := storage.Operation(q.Get("op"))
	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	if err != nil || !hmac.Equal([]byte(q.Get("sig")), []byte(s.signature(op, key, expires))) {
		http.Error(w, "SignatureDoesNotMatch", http.StatusForbidden)
		return
	}
	if !s.now().Before(time.Unix(0, expires)) {
		http.Error(w, "Request has expired", http.StatusForbidden)
		return
	}

	switch {
	case r.Method == http.MethodGet && op == storage.OpGet:
		data, ok := s.Object(key)
		if !ok {
			http.Error(w, "NoSuchKey", http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	case r.Method == http.MethodPut && op == storage.OpPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.Put(key, data)
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "SignatureDoesNotMatch", http.StatusForbidden)
	}
}

func (s *Store) signature(op storage.Operation, key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%s\n%s\n%d", op, s.bucket, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Store) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

var _ storage.ObjectStorage = (*Store)(nil)
