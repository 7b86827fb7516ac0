package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/metadata-pipeline/internal/apperror"
	"github.com/andresuchdata/metadata-pipeline/internal/cache"
	"github.com/andresuchdata/metadata-pipeline/internal/config"
	"github.com/andresuchdata/metadata-pipeline/internal/domain"
	"github.com/andresuchdata/metadata-pipeline/internal/storage"
)

// Orchestrator drives staged workflows and the direct analysis path against
// one object store and one metadata-service session.
type Orchestrator struct {
	cfg     *config.Config
	store   storage.ObjectStorage
	auth    Authenticator
	kgCache cache.KnowledgeGraphCache
	worker  *transferWorker
	log     zerolog.Logger
	now     func() time.Time

	sessionMu sync.Mutex
	session   RemoteService

	// staged runs share deterministic keys and must not overlap
	runMu sync.Mutex
}

type Option func(*Orchestrator)

func WithKnowledgeGraphCache(c cache.KnowledgeGraphCache) Option {
	return func(o *Orchestrator) { o.kgCache = c }
}

func WithLogger(log zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(cfg *config.Config, store storage.ObjectStorage, auth Authenticator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		store:   store,
		auth:    auth,
		kgCache: cache.NewNoopKnowledgeGraphCache(),
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.worker = &transferWorker{store: store, log: o.log}
	return o
}

// Session authenticates on first use and returns the same session afterwards.
func (o *Orchestrator) Session(ctx context.Context) (RemoteService, error) {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()

	if o.session != nil {
		return o.session, nil
	}

	svc, err := o.auth(ctx)
	if err != nil {
		if _, ok := apperror.KindOf(err); !ok {
			err = apperror.Auth("authenticate", err)
		}
		return nil, err
	}
	o.session = svc
	return svc, nil
}

// run tracks one workflow invocation through its states.
type run[Resp any] struct {
	o         *Orchestrator
	res       *Result[Resp]
	artifacts *artifactSet
	log       zerolog.Logger
}

func (r *run[Resp]) advance(next domain.WorkflowState) error {
	if !r.res.State.CanTransition(next) {
		return fmt.Errorf("%s: invalid transition %s -> %s", r.res.Workflow, r.res.State, next)
	}
	r.res.State = next
	r.res.History = append(r.res.History, next)
	r.log.Debug().Str("state", next.String()).Msg("workflow state")
	return nil
}

// fail moves the run to Failed after deleting whatever was staged so far.
func (r *run[Resp]) fail(ctx context.Context, err error) (*Result[Resp], error) {
	if keys := r.artifacts.list(); len(keys) > 0 {
		r.res.Deleted, r.res.CleanupErrors = r.o.worker.deleteAll(ctx, keys)
	}

	_ = r.advance(domain.StateFailed)
	r.res.Err = err
	r.res.CompletedAt = r.o.now()

	r.log.Error().Stack().Err(err).
		Strs("cleaned_up", r.res.Deleted).
		Int("cleanup_errors", len(r.res.CleanupErrors)).
		Msg("workflow failed")
	return r.res, err
}

// Run executes wf end to end: upload the input, mint signed URLs, invoke the
// remote operation, download the outputs and delete every staged object.
// Staged objects are deleted on failure too; delete errors never fail a run.
func Run[Req, Resp any](ctx context.Context, o *Orchestrator, wf Workflow[Req, Resp]) (*Result[Resp], error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	r := &run[Resp]{
		o: o,
		res: &Result[Resp]{
			Workflow:  wf.Name,
			State:     domain.StateIdle,
			History:   []domain.WorkflowState{domain.StateIdle},
			StartedAt: o.now(),
		},
		artifacts: newArtifactSet(),
		log:       o.log.With().Str("workflow", wf.Name).Logger(),
	}

	if err := validateWorkflow(wf); err != nil {
		return r.fail(ctx, err)
	}

	svc, err := o.Session(ctx)
	if err != nil {
		return r.fail(ctx, err)
	}
	if err := r.advance(domain.StateAuthenticated); err != nil {
		return r.fail(ctx, err)
	}

	r.artifacts.add(wf.Input.Key())
	if err := o.store.Upload(ctx, wf.Input.Path(), wf.Input.Key()); err != nil {
		return r.fail(ctx, err)
	}
	if err := r.advance(domain.StateUploaded); err != nil {
		return r.fail(ctx, err)
	}

	input, outputs, err := o.mint(ctx, wf.Input.Key(), outputKeys(wf.Outputs))
	if err != nil {
		return r.fail(ctx, err)
	}
	if err := r.advance(domain.StateSignedURLsMinted); err != nil {
		return r.fail(ctx, err)
	}

	req, err := wf.Build(o.store.Bucket(), input, outputs)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("%s: build request: %w", wf.Name, err))
	}

	for _, out := range wf.Outputs {
		r.artifacts.add(out.Key())
	}
	all := append([]storage.SignedURL{input}, outputs...)
	if u, ok := firstExpired(o.now(), all); ok {
		return r.fail(ctx, apperror.Transfer("invoke", u.Key, fmt.Errorf("signed %s url expired at %s before the remote call", u.Op, u.ExpiresAt.Format(time.RFC3339Nano))))
	}
	if err := r.advance(domain.StateRemoteCallInFlight); err != nil {
		return r.fail(ctx, err)
	}

	resp, err := wf.Invoke(ctx, svc, o.cfg.Remote.ProjectServiceID, req)
	if u, expired := firstExpired(o.now(), all); expired {
		// the service could not have completed its transfers
		cause := fmt.Errorf("signed %s url expired at %s during the remote call", u.Op, u.ExpiresAt.Format(time.RFC3339Nano))
		if err != nil {
			cause = fmt.Errorf("%w: %w", cause, err)
		}
		return r.fail(ctx, apperror.Transfer("invoke", u.Key, cause))
	}
	if err != nil {
		return r.fail(ctx, err)
	}
	r.res.Response = resp
	checkConfirmed(r.log, wf, resp)

	r.res.Downloaded, err = o.worker.downloadAll(ctx, wf.Outputs)
	if err != nil {
		return r.fail(ctx, err)
	}
	if err := r.advance(domain.StateOutputsDownloaded); err != nil {
		return r.fail(ctx, err)
	}

	r.res.Deleted, r.res.CleanupErrors = o.worker.deleteAll(ctx, r.artifacts.list())
	if err := r.advance(domain.StateArtifactsDeleted); err != nil {
		return r.fail(ctx, err)
	}
	if err := r.advance(domain.StateDone); err != nil {
		return r.fail(ctx, err)
	}
	r.res.CompletedAt = o.now()

	r.log.Info().
		Strs("downloaded", r.res.Downloaded).
		Int("cleanup_errors", len(r.res.CleanupErrors)).
		Dur("duration", r.res.CompletedAt.Sub(r.res.StartedAt)).
		Msg("workflow completed")
	return r.res, nil
}

// mint issues a get URL for the input and a put URL per output, each with its
// own TTL clock.
func (o *Orchestrator) mint(ctx context.Context, inputKey string, outputKeys []string) (storage.SignedURL, []storage.SignedURL, error) {
	ttl := o.cfg.SignedURLTTL

	input, err := o.store.SignURL(ctx, storage.OpGet, inputKey, ttl)
	if err != nil {
		return storage.SignedURL{}, nil, err
	}

	outputs := make([]storage.SignedURL, 0, len(outputKeys))
	for _, key := range outputKeys {
		u, err := o.store.SignURL(ctx, storage.OpPut, key, ttl)
		if err != nil {
			return storage.SignedURL{}, nil, err
		}
		outputs = append(outputs, u)
	}
	return input, outputs, nil
}

// checkConfirmed warns about outputs the service reports at keys that were
// never declared. Declared keys stay authoritative.
func checkConfirmed[Req, Resp any](log zerolog.Logger, wf Workflow[Req, Resp], resp Resp) {
	if wf.Confirmed == nil {
		return
	}
	declared := map[string]struct{}{}
	for _, out := range wf.Outputs {
		declared[out.Key()] = struct{}{}
	}
	for _, loc := range wf.Confirmed(resp) {
		if _, ok := declared[loc.Key]; !ok {
			log.Warn().Str("key", loc.Key).Msg("service confirmed an output that was not declared")
		}
	}
}

func outputKeys(outputs []domain.StagedFile) []string {
	keys := make([]string, len(outputs))
	for i, out := range outputs {
		keys[i] = out.Key()
	}
	return keys
}

func firstExpired(now time.Time, urls []storage.SignedURL) (storage.SignedURL, bool) {
	for _, u := range urls {
		if u.Expired(now) {
			return u, true
		}
	}
	return storage.SignedURL{}, false
}

// validateWorkflow rejects descriptors whose outputs would overwrite each
// other, locally or in the store.
func validateWorkflow[Req, Resp any](wf Workflow[Req, Resp]) error {
	if wf.Build == nil || wf.Invoke == nil {
		return fmt.Errorf("%s: workflow needs Build and Invoke", wf.Name)
	}
	if wf.Input.Name == "" {
		return fmt.Errorf("%s: input file is not configured", wf.Name)
	}
	if len(wf.Outputs) == 0 {
		return fmt.Errorf("%s: no outputs declared", wf.Name)
	}

	keys := map[string]struct{}{wf.Input.Key(): {}}
	paths := map[string]struct{}{}
	for _, out := range wf.Outputs {
		if out.Name == "" {
			return fmt.Errorf("%s: output file is not configured", wf.Name)
		}
		if _, dup := keys[out.Key()]; dup {
			return fmt.Errorf("%s: key %q is used more than once", wf.Name, out.Key())
		}
		keys[out.Key()] = struct{}{}

		if _, dup := paths[out.Path()]; dup {
			return fmt.Errorf("%s: local path %q is used more than once", wf.Name, out.Path())
		}
		paths[out.Path()] = struct{}{}
	}
	return nil
}
