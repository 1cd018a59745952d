package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/docrag/internal/chunker"
	"github.com/dshills/docrag/internal/embedder"
	"github.com/dshills/docrag/internal/extractor"
	"github.com/dshills/docrag/internal/generator"
	"github.com/dshills/docrag/internal/runstore"
	"github.com/dshills/docrag/internal/storage"
	"github.com/dshills/docrag/pkg/types"
)

const greetSource = `package greet

import "strings"

// Greet returns a greeting for name
func Greet(name string) string {
	return "Hello, " + strings.TrimSpace(name)
}
`

const shapesSource = `package shapes

// Shape has an area
type Shape interface {
	Area() float64
}

// Square is a Shape with equal sides
type Square struct {
	Side float64
}

// Area returns the area of the square
func (s Square) Area() float64 {
	return s.Side * s.Side
}

// Total sums the area of every shape
func Total(shapes []Shape) float64 {
	var sum float64
	for _, s := range shapes {
		sum += s.Area()
	}
	return sum
}
`

// scriptedGenerator counts calls and lets a test decide each outcome.
// A script returning (nil, nil) falls through to the template generator.
type scriptedGenerator struct {
	mu       sync.Mutex
	calls    int
	requests []generator.Request
	script   func(call int, req generator.Request) (*generator.Result, error)

	started chan struct{}
	release chan struct{}
	base    *generator.TemplateGenerator
}

func newScriptedGenerator() *scriptedGenerator {
	return &scriptedGenerator{base: generator.NewTemplateGenerator()}
}

func (g *scriptedGenerator) Generate(ctx context.Context, req generator.Request) (*generator.Result, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.requests = append(g.requests, req)
	script := g.script
	g.mu.Unlock()

	if g.started != nil {
		select {
		case g.started <- struct{}{}:
		default:
		}
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if script != nil {
		res, err := script(call, req)
		if res != nil || err != nil {
			return res, err
		}
	}
	res, err := g.base.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	res.GeneratorID = g.ID()
	return res, nil
}

func (g *scriptedGenerator) ID() string { return "scripted-1" }

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *scriptedGenerator) Requests() []generator.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]generator.Request(nil), g.requests...)
}

func (g *scriptedGenerator) setScript(fn func(call int, req generator.Request) (*generator.Result, error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = fn
}

// flakyEmbedder fails the first failures batches with err
type flakyEmbedder struct {
	*embedder.LocalProvider
	failures atomic.Int32
	err      error
	batches  atomic.Int32
}

func (e *flakyEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	e.batches.Add(1)
	if e.failures.Add(-1) >= 0 {
		return nil, e.err
	}
	return e.LocalProvider.GenerateBatch(ctx, req)
}

// consistencyStore rejects the first failCommits commits with ErrConsistency
type consistencyStore struct {
	storage.Storage
	failCommits atomic.Int32
}

func (s *consistencyStore) CommitDocumentation(ctx context.Context, doc *storage.Documentation, chunks []*storage.Chunk) error {
	if s.failCommits.Add(-1) >= 0 {
		return fmt.Errorf("%w: injected", storage.ErrConsistency)
	}
	return s.Storage.CommitDocumentation(ctx, doc, chunks)
}

// countingExtractor counts extraction calls
type countingExtractor struct {
	inner extractor.Extractor
	calls atomic.Int32
}

func (e *countingExtractor) Extract(ctx context.Context, path string, content []byte) (*types.ExtractResult, error) {
	e.calls.Add(1)
	return e.inner.Extract(ctx, path, content)
}

func (e *countingExtractor) Version() string { return e.inner.Version() }

type harness struct {
	db    *storage.SQLiteStorage
	store *consistencyStore
	orch  *Orchestrator
	gen   *scriptedGenerator
	emb   *flakyEmbedder
	ext   *countingExtractor
}

type harnessOption func(*Dependencies, *Config)

func withChunker(c *chunker.Chunker) harnessOption {
	return func(d *Dependencies, _ *Config) { d.Chunker = c }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)

	local, err := embedder.NewLocalProvider(nil, 64)
	require.NoError(t, err)

	h := &harness{
		db:    db,
		store: &consistencyStore{Storage: db},
		gen:   newScriptedGenerator(),
		emb:   &flakyEmbedder{LocalProvider: local, err: embedder.ErrRateLimited},
		ext:   &countingExtractor{inner: extractor.NewGoExtractor()},
	}

	registry := extractor.NewRegistry(extractor.NewModuleExtractor())
	registry.Register(".go", h.ext)

	deps := Dependencies{
		Store:      h.store,
		Runs:       runstore.NewMemoryStore(),
		Extractors: registry,
		Generator:  h.gen,
		Embedder:   h.emb,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	cfg := DefaultConfig()
	cfg.CallTimeout = 5 * time.Second
	cfg.Backoff = BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}

	h.orch, err = New(deps, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = h.orch.Close()
		_ = db.Close()
	})
	return h
}

func (h *harness) submit(t *testing.T, path, content string) string {
	t.Helper()
	id, err := h.orch.Submit(context.Background(), SubmitRequest{Project: "demo", Path: path, Content: []byte(content)})
	require.NoError(t, err)
	return id
}

func (h *harness) wait(t *testing.T, id string) *RunStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := h.orch.Wait(ctx, id)
	require.NoError(t, err)
	require.True(t, run.State.Terminal(), "run %s still %s", id, run.State)
	return run
}

func (h *harness) status(t *testing.T, projectID int64) *storage.ProjectStatus {
	t.Helper()
	status, err := h.db.GetStatus(context.Background(), projectID)
	require.NoError(t, err)
	return status
}
