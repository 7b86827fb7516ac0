package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/metadata-pipeline/internal/config"
	"github.com/andresuchdata/metadata-pipeline/internal/metadata"
	"github.com/andresuchdata/metadata-pipeline/internal/metadata/metadatatest"
	"github.com/andresuchdata/metadata-pipeline/internal/storage/storagetest"
)

const (
	segmentInput  = "alpha beta gamma"
	captionsInput = "WEBVTT\n\n00:00.000 --> 00:01.000\nHello there"
)

type harness struct {
	cfg    *config.Config
	store  *storagetest.Store
	remote *metadatatest.Server
	orch   *Orchestrator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	dir := t.TempDir()
	remote := metadatatest.New(t)
	store := storagetest.New(t, "staging")

	cfg := &config.Config{
		Remote: config.RemoteConfig{
			ClientKey:        metadatatest.ClientKey,
			ClientSecret:     metadatatest.ClientSecret,
			ProjectServiceID: metadatatest.ProjectID,
			Host:             remote.URL,
		},
		Storage:     config.StorageConfig{Bucket: "staging"},
		LocalFolder: dir,
		Files: config.FilesConfig{
			SegmentInput:       "segment.txt",
			SegmentOutputJSON:  "segment.json",
			SegmentOutputXML:   "segment.xml",
			CaptionsInput:      "captions.vtt",
			CaptionsOutputVTT:  "captions.ru.vtt",
			CaptionsOutputText: "captions.ru.txt",
		},
		Captions:     config.CaptionsConfig{TargetLanguage: "ru"},
		SignedURLTTL: time.Minute,
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment.txt"), []byte(segmentInput), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "captions.vtt"), []byte(captionsInput), 0o644))

	client := metadata.NewClient(remote.URL)
	orch := NewOrchestrator(cfg, store, ClientAuthenticator(client, cfg.Remote.ClientKey, cfg.Remote.ClientSecret), opts...)

	return &harness{cfg: cfg, store: store, remote: remote, orch: orch}
}

func (h *harness) read(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.cfg.LocalFolder, name))
	require.NoError(t, err)
	return string(data)
}

func (h *harness) exists(name string) bool {
	_, err := os.Stat(filepath.Join(h.cfg.LocalFolder, name))
	return err == nil
}

func indexOf(ops []string, op string) int {
	for i, o := range ops {
		if o == op {
			return i
		}
	}
	return -1
}

