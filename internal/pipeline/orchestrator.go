package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/docrag/internal/chunker"
	"github.com/dshills/docrag/internal/embedder"
	"github.com/dshills/docrag/internal/extractor"
	"github.com/dshills/docrag/internal/fingerprint"
	"github.com/dshills/docrag/internal/generator"
	"github.com/dshills/docrag/internal/quality"
	"github.com/dshills/docrag/internal/runstore"
	"github.com/dshills/docrag/internal/storage"
	"github.com/dshills/docrag/pkg/types"
)

// Common errors
var (
	ErrClosed        = errors.New("orchestrator is closed")
	ErrInvalidSubmit = errors.New("invalid submission")
	ErrNotRetryable  = errors.New("run is not retryable")
	ErrRunInFlight   = errors.New("run is in flight")
	ErrStaleRun      = errors.New("file content changed since the run")
)

// RunStatus is the persisted record of a run as reported by Status
type RunStatus = runstore.Run

// SubmitRequest is one file submitted for documentation
type SubmitRequest struct {
	Project string
	Path    string
	Content []byte
}

// Config tunes the orchestrator
type Config struct {
	ElementConcurrency int           // Elements processed in parallel per run
	MaxExternalCalls   int64         // Concurrent extractor, generator and embedder calls
	GenerateAttempts   int           // Attempts per generation before failed(generate)
	EmbedAttempts      int           // Attempts of the embed stage before failed(embed)
	CallTimeout        time.Duration // Bound on a single external call
	Backoff            BackoffConfig
	DocType            types.DocType
	DefaultStyle       types.DocStyle
	RelatedLimit       int // Related element names passed to the generator
}

// DefaultConfig returns the default orchestrator settings
func DefaultConfig() Config {
	return Config{
		ElementConcurrency: 4,
		MaxExternalCalls:   8,
		GenerateAttempts:   3,
		EmbedAttempts:      3,
		CallTimeout:        2 * time.Minute,
		Backoff:            DefaultBackoff(),
		DocType:            types.DocAPI,
		DefaultStyle:       types.StyleGoogle,
		RelatedLimit:       5,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ElementConcurrency <= 0 {
		c.ElementConcurrency = d.ElementConcurrency
	}
	if c.MaxExternalCalls <= 0 {
		c.MaxExternalCalls = d.MaxExternalCalls
	}
	if c.GenerateAttempts <= 0 {
		c.GenerateAttempts = d.GenerateAttempts
	}
	if c.EmbedAttempts <= 0 {
		c.EmbedAttempts = d.EmbedAttempts
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.Backoff.Multiplier < 1 {
		c.Backoff = d.Backoff
	}
	if !c.DocType.Valid() {
		c.DocType = d.DocType
	}
	if !c.DefaultStyle.Valid() {
		c.DefaultStyle = d.DefaultStyle
	}
	if c.RelatedLimit <= 0 {
		c.RelatedLimit = d.RelatedLimit
	}
}

// Dependencies are the collaborators an Orchestrator drives. Store,
// Generator and Embedder are required; the rest have defaults.
type Dependencies struct {
	Store      storage.Storage
	Runs       runstore.Store
	Extractors *extractor.Registry
	Generator  generator.Generator
	Embedder   embedder.Embedder
	Gate       *quality.Gate
	Chunker    *chunker.Chunker
	Logger     *slog.Logger
}

// Orchestrator drives submitted files through
// analyze -> generate -> validate -> embed -> index. Each run executes in its
// own goroutine; its state lives in a per-run record in the run ledger.
type Orchestrator struct {
	store      storage.Storage
	runs       runstore.Store
	extractors *extractor.Registry
	generator  generator.Generator
	embedder   embedder.Embedder
	gate       *quality.Gate
	chunker    *chunker.Chunker
	logger     *slog.Logger
	cfg        Config
	sem        *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	inflight map[string]*handle // By (project, path, fingerprint)
	byID     map[string]*handle
	onCommit []func()
}

// handle tracks an executing run
type handle struct {
	id     string
	done   chan struct{}
	cancel context.CancelFunc
}

// New creates an Orchestrator
func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	if deps.Store == nil || deps.Generator == nil || deps.Embedder == nil {
		return nil, errors.New("pipeline: store, generator and embedder are required")
	}
	cfg.applyDefaults()

	if deps.Runs == nil {
		deps.Runs = runstore.NewMemoryStore()
	}
	if deps.Extractors == nil {
		deps.Extractors = extractor.DefaultRegistry()
	}
	if deps.Gate == nil {
		deps.Gate = quality.New(quality.DefaultThreshold)
	}
	if deps.Chunker == nil {
		c, err := chunker.New()
		if err != nil {
			return nil, err
		}
		deps.Chunker = c
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:      deps.Store,
		runs:       deps.Runs,
		extractors: deps.Extractors,
		generator:  deps.Generator,
		embedder:   deps.Embedder,
		gate:       deps.Gate,
		chunker:    deps.Chunker,
		logger:     deps.Logger.With("component", "pipeline"),
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.MaxExternalCalls),
		baseCtx:    ctx,
		cancel:     cancel,
		inflight:   make(map[string]*handle),
		byID:       make(map[string]*handle),
	}, nil
}

// OnCommit registers fn to run after documentation becomes searchable
func (o *Orchestrator) OnCommit(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onCommit = append(o.onCommit, fn)
}

func (o *Orchestrator) notifyCommit() {
	o.mu.Lock()
	hooks := append([]func(){}, o.onCommit...)
	o.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func unitKey(project, path string, fp fingerprint.Fingerprint) string {
	return project + "\x00" + path + "\x00" + fp.String()
}

// Submit starts a run for the file and returns its ID without waiting for
// it. A submission matching an in-flight run's (project, path, fingerprint)
// returns that run's ID instead of starting another.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Project == "" || req.Path == "" {
		return "", fmt.Errorf("%w: project and path are required", ErrInvalidSubmit)
	}

	fp := fingerprint.Of(req.Content)
	key := unitKey(req.Project, req.Path, fp)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return "", ErrClosed
	}
	if h, ok := o.inflight[key]; ok {
		o.logger.Debug("coalesced submission", "run_id", h.id, "project", req.Project, "path", req.Path)
		return h.id, nil
	}

	now := time.Now()
	run := &runstore.Run{
		ID:          uuid.NewString(),
		ProjectName: req.Project,
		FilePath:    req.Path,
		Fingerprint: fp.String(),
		State:       runstore.StatePending,
		Elements:    []*runstore.Element{},
		History:     []runstore.Transition{{From: "", To: runstore.StatePending, At: now}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.runs.Save(ctx, run); err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}

	content := bytes.Clone(req.Content)
	o.start(run, key, func(ctx context.Context, rs *runState) {
		o.execute(ctx, rs, content, fp)
	})

	o.logger.Info("run submitted", "run_id", run.ID, "project", req.Project, "path", req.Path, "fingerprint", fp.Short())
	return run.ID, nil
}

// start launches fn for run. Caller must hold o.mu.
func (o *Orchestrator) start(run *runstore.Run, key string, fn func(context.Context, *runState)) {
	ctx, cancel := context.WithCancel(o.baseCtx)
	h := &handle{id: run.ID, done: make(chan struct{}), cancel: cancel}
	o.inflight[key] = h
	o.byID[run.ID] = h

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		rs := &runState{run: run}
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("run panicked", "run_id", run.ID, "panic", r)
				o.finish(ctx, rs, runstore.StateFailed, "", ReasonPanic)
			}
			o.mu.Lock()
			delete(o.inflight, key)
			delete(o.byID, run.ID)
			o.mu.Unlock()
			cancel()
			close(h.done)
		}()
		fn(ctx, rs)
	}()
}

// Status returns the current record of a run
func (o *Orchestrator) Status(ctx context.Context, runID string) (*RunStatus, error) {
	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return run, nil
}

// Wait blocks until the run is terminal or ctx is done, then returns its status
func (o *Orchestrator) Wait(ctx context.Context, runID string) (*RunStatus, error) {
	o.mu.Lock()
	h := o.byID[runID]
	o.mu.Unlock()

	if h != nil {
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.Status(ctx, runID)
}

// Runs lists recorded runs
func (o *Orchestrator) Runs(ctx context.Context, filter runstore.Filter) ([]*RunStatus, error) {
	return o.runs.List(ctx, filter)
}

// Cancel stops an in-flight run at its next stage boundary. Work of
// elements that have not committed is discarded.
func (o *Orchestrator) Cancel(runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.byID[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, runstore.ErrNotFound)
	}
	h.cancel()
	return nil
}

// Retry re-runs the failed elements of a failed run, each from the stage it
// failed in, using the artifacts retained by earlier stages. Runs that
// failed analysis need new content and are not retryable.
func (o *Orchestrator) Retry(ctx context.Context, runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if _, ok := o.byID[runID]; ok {
		return fmt.Errorf("%w: %s", ErrRunInFlight, runID)
	}

	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	if run.State != runstore.StateFailed {
		return fmt.Errorf("%w: run is %s", ErrNotRetryable, run.State)
	}
	if run.FailedStage == runstore.StageAnalyze || run.FileID == 0 {
		return fmt.Errorf("%w: analysis failed, submit new content", ErrNotRetryable)
	}

	fp, err := fingerprint.Parse(run.Fingerprint)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	file, err := o.store.GetFileByID(ctx, run.FileID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	if fingerprint.Fingerprint(file.ContentHash) != fp {
		return ErrStaleRun
	}

	key := unitKey(run.ProjectName, run.FilePath, fp)
	if h, ok := o.inflight[key]; ok {
		return fmt.Errorf("%w: %s", ErrRunInFlight, h.id)
	}

	now := time.Now()
	for _, el := range run.Elements {
		if el.State != runstore.StateFailed {
			continue
		}
		to := resumeState(el)
		run.History = append(run.History, runstore.Transition{
			Element: el.Key, From: el.State, To: to, Stage: el.FailedStage, Reason: "retry", At: now,
		})
		el.State = to
		el.FailedStage = ""
		el.Reason = ""
	}
	run.History = append(run.History, runstore.Transition{
		From: run.State, To: runstore.StatePending, Stage: run.FailedStage, Reason: "retry", At: now,
	})
	run.State = runstore.StatePending
	run.FailedStage = ""
	run.Reason = ""
	run.FinishedAt = nil
	run.Retries++
	run.UpdatedAt = now

	if err := o.runs.Save(ctx, run); err != nil {
		return fmt.Errorf("failed to record retry: %w", err)
	}

	o.start(run, key, func(ctx context.Context, rs *runState) {
		o.resume(ctx, rs, fp)
	})

	o.logger.Info("run retried", "run_id", run.ID, "retries", run.Retries)
	return nil
}

// resumeState is the state a failed element restarts from
func resumeState(el *runstore.Element) runstore.State {
	switch el.FailedStage {
	case runstore.StageEmbed, runstore.StageIndex:
		if el.Text != "" && el.Scores != nil {
			return runstore.StateValidated
		}
		return runstore.StateAnalyzed
	case runstore.StageAnalyze:
		return runstore.StateFailed
	default:
		return runstore.StateAnalyzed
	}
}

// Close cancels in-flight runs and waits for them to record their outcome
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	return nil
}

// call runs one external call under the concurrency limit. The call gets
// its own timeout and is not interrupted by run cancellation; callers
// check cancellation at the next stage boundary.
func (o *Orchestrator) call(ctx context.Context, fn func(context.Context) error) error {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer o.sem.Release(1)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// retryable reports whether a failed attempt may be repeated
func (o *Orchestrator) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	class, _ := classify(err)
	return class == classTransient
}
