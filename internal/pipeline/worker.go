package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/metadata-pipeline/internal/apperror"
	"github.com/andresuchdata/metadata-pipeline/internal/domain"
	"github.com/andresuchdata/metadata-pipeline/internal/storage"
)

// artifactSet is the set of keys staged by one workflow run. A key joins the
// set before the step that may create it, so compensating cleanup also
// covers objects a failed step left half-written.
type artifactSet struct {
	keys  []string
	index map[string]struct{}
}

func newArtifactSet() *artifactSet {
	return &artifactSet{index: map[string]struct{}{}}
}

func (a *artifactSet) add(keys ...string) {
	for _, k := range keys {
		if _, ok := a.index[k]; ok {
			continue
		}
		a.index[k] = struct{}{}
		a.keys = append(a.keys, k)
	}
}

func (a *artifactSet) list() []string {
	return append([]string(nil), a.keys...)
}

// transferWorker fans object transfers out and joins them.
type transferWorker struct {
	store storage.ObjectStorage
	log   zerolog.Logger
}

// downloadAll fetches every output to its own local path concurrently. The
// first failure cancels the rest.
func (w *transferWorker) downloadAll(ctx context.Context, outputs []domain.StagedFile) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)

	paths := make([]string, len(outputs))
	for i, out := range outputs {
		g.Go(func() error {
			if err := w.store.Download(gctx, out.Key(), out.Path()); err != nil {
				return err
			}
			paths[i] = out.Path()
			w.log.Debug().Str("key", out.Key()).Str("path", out.Path()).Msg("output downloaded")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// deleteAll removes keys concurrently. Every key is attempted; failures are
// logged and returned as cleanup errors, never as a run failure.
func (w *transferWorker) deleteAll(ctx context.Context, keys []string) ([]string, []error) {
	// cleanup still runs when the run was cancelled
	ctx = context.WithoutCancel(ctx)

	var (
		g       errgroup.Group
		mu      sync.Mutex
		deleted []string
		errs    []error
	)
	for _, key := range keys {
		g.Go(func() error {
			err := w.store.Delete(ctx, key)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, apperror.ErrCleanup) {
					err = apperror.Cleanup(key, err)
				}
				w.log.Warn().Err(err).Str("key", key).Msg("failed to delete staged object")
				errs = append(errs, err)
				return nil
			}
			deleted = append(deleted, key)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(deleted)
	return deleted, errs
}
