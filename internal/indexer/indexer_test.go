package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docrag/internal/embedder"
	"github.com/dshills/docrag/internal/generator"
	"github.com/dshills/docrag/internal/pipeline"
	"github.com/dshills/docrag/internal/runstore"
	"github.com/dshills/docrag/internal/storage"
)

// fakeSubmitter records submissions and reports scripted outcomes
type fakeSubmitter struct {
	mu        sync.Mutex
	requests  []pipeline.SubmitRequest
	submitErr map[string]error
	outcomes  map[string]*pipeline.RunStatus // By path
	release   chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{
		submitErr: make(map[string]error),
		outcomes:  make(map[string]*pipeline.RunStatus),
	}
}

func (f *fakeSubmitter) Submit(ctx context.Context, req pipeline.SubmitRequest) (string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.submitErr[req.Path]; err != nil {
		return "", err
	}
	f.requests = append(f.requests, req)
	return "run:" + req.Path, nil
}

func (f *fakeSubmitter) Wait(ctx context.Context, runID string) (*pipeline.RunStatus, error) {
	path := strings.TrimPrefix(runID, "run:")
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.outcomes[path]; ok {
		return status, nil
	}
	return &pipeline.RunStatus{ID: runID, FilePath: path, State: runstore.StateIndexed}, nil
}

func (f *fakeSubmitter) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, len(f.requests))
	for i, r := range f.requests {
		paths[i] = r.Path
	}
	sort.Strings(paths)
	return paths
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// createTestFile creates a file under dir, making parent directories
func createTestFile(t testing.TB, dir, name, content string) string {
	t.Helper()

	filePath := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0755))
	require.NoError(t, os.WriteFile(filePath, []byte(content), 0644))
	return filePath
}

func relPaths(t *testing.T, root string, files []string) []string {
	t.Helper()
	out := make([]string, len(files))
	for i, f := range files {
		rel, err := filepath.Rel(root, f)
		require.NoError(t, err)
		out[i] = filepath.ToSlash(rel)
	}
	return out
}

func TestDiscoverFiles(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "main.go", "package main\n")
	createTestFile(t, tmpDir, "pkg/util.go", "package pkg\n")
	createTestFile(t, tmpDir, "pkg/util_test.go", "package pkg\n")
	createTestFile(t, tmpDir, "README.md", "# readme\n")
	createTestFile(t, tmpDir, "vendor/lib/lib.go", "package lib\n")
	createTestFile(t, tmpDir, "node_modules/x/x.go", "package x\n")
	createTestFile(t, tmpDir, ".git/hooks/hook.go", "package hooks\n")
	createTestFile(t, tmpDir, "empty.go", "")

	idx := New(newFakeSubmitter(), nil, discardLogger())

	tests := []struct {
		name   string
		config *Config
		want   []string
	}{
		{
			name:   "defaults",
			config: DefaultConfig(),
			want:   []string{"main.go", "pkg/util.go", "pkg/util_test.go"},
		},
		{
			name:   "without tests",
			config: &Config{MaxFileSize: DefaultMaxFileSize},
			want:   []string{"main.go", "pkg/util.go"},
		},
		{
			name:   "with vendor",
			config: &Config{IncludeVendor: true, MaxFileSize: DefaultMaxFileSize},
			want:   []string{"main.go", "node_modules/x/x.go", "pkg/util.go", "vendor/lib/lib.go"},
		},
		{
			name:   "all files",
			config: &Config{AllFiles: true, IncludeTests: true, MaxFileSize: DefaultMaxFileSize},
			want:   []string{"README.md", "main.go", "pkg/util.go", "pkg/util_test.go"},
		},
		{
			name:   "size limit",
			config: &Config{IncludeTests: true, MaxFileSize: 12},
			want:   []string{"pkg/util.go", "pkg/util_test.go"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := idx.discoverFiles(tmpDir, tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.want, relPaths(t, tmpDir, files))
		})
	}
}

func TestDiscoverFiles_MissingRoot(t *testing.T) {
	idx := New(newFakeSubmitter(), nil, discardLogger())
	_, err := idx.discoverFiles(filepath.Join(t.TempDir(), "missing"), DefaultConfig())
	assert.Error(t, err)
}

func TestIndexDirectory_SubmitsRelativePaths(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "main.go", "package main\n")
	createTestFile(t, tmpDir, "pkg/util.go", "package pkg\n")

	sub := newFakeSubmitter()
	idx := New(sub, nil, discardLogger())

	stats, err := idx.IndexDirectory(context.Background(), "demo", tmpDir, nil)
	require.NoError(t, err)

	assert.Equal(t, "demo", stats.Project)
	assert.Equal(t, 2, stats.FilesDiscovered)
	assert.Equal(t, 2, stats.FilesSubmitted)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Len(t, stats.RunIDs, 2)
	assert.Equal(t, []string{"main.go", "pkg/util.go"}, sub.paths())

	for _, req := range sub.requests {
		assert.Equal(t, "demo", req.Project)
		assert.NotEmpty(t, req.Content)
	}
}

func TestIndexDirectory_TalliesOutcomes(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "a.go", "package a\n")
	createTestFile(t, tmpDir, "b.go", "package a\n")
	createTestFile(t, tmpDir, "c.go", "package a\n")
	createTestFile(t, tmpDir, "d.go", "package a\n")

	sub := newFakeSubmitter()
	sub.outcomes["b.go"] = &pipeline.RunStatus{ID: "run:b.go", State: runstore.StateSkipped, Reason: "unchanged"}
	sub.outcomes["c.go"] = &pipeline.RunStatus{
		ID: "run:c.go", State: runstore.StateFailed, FailedStage: runstore.StageGenerate, Reason: pipeline.ReasonRateLimited,
	}
	sub.submitErr["d.go"] = pipeline.ErrClosed

	idx := New(sub, nil, discardLogger())
	stats, err := idx.IndexDirectory(context.Background(), "demo", tmpDir, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.FilesDiscovered)
	assert.Equal(t, 3, stats.FilesSubmitted)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesSkipped)
	assert.Equal(t, 2, stats.FilesFailed)
	require.Len(t, stats.ErrorMessages, 2)
	assert.Contains(t, stats.ErrorMessages[0], "c.go")
	assert.Contains(t, stats.ErrorMessages[0], "rate_limited")
	assert.Contains(t, stats.ErrorMessages[1], "d.go")
}

func TestIndexDirectory_NoWait(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "a.go", "package a\n")

	sub := newFakeSubmitter()
	sub.outcomes["a.go"] = &pipeline.RunStatus{State: runstore.StateFailed}

	idx := New(sub, nil, discardLogger())
	stats, err := idx.IndexDirectory(context.Background(), "demo", tmpDir, &Config{Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesSubmitted)
	assert.Zero(t, stats.FilesIndexed)
	assert.Zero(t, stats.FilesFailed)
}

func TestIndexDirectory_WorkerLimit(t *testing.T) {
	tmpDir := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.go", "d.go", "e.go", "f.go"} {
		createTestFile(t, tmpDir, name, "package a\n")
	}

	sub := newFakeSubmitter()
	sub.release = make(chan struct{})
	go func() {
		for i := 0; i < 6; i++ {
			time.Sleep(5 * time.Millisecond)
			sub.release <- struct{}{}
		}
	}()

	idx := New(sub, nil, discardLogger())
	stats, err := idx.IndexDirectory(context.Background(), "demo", tmpDir, &Config{Workers: 2, Wait: true})
	require.NoError(t, err)
	assert.Equal(t, 6, stats.FilesIndexed)
	assert.LessOrEqual(t, sub.maxActive.Load(), int32(2))
}

func TestIndexDirectory_InProgress(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "a.go", "package a\n")

	idx := New(newFakeSubmitter(), nil, discardLogger())
	lock := idx.lockFor("demo")
	require.True(t, lock.TryAcquire())

	_, err := idx.IndexDirectory(context.Background(), "demo", tmpDir, nil)
	assert.ErrorIs(t, err, ErrIndexInProgress)

	// Other projects are unaffected
	_, err = idx.IndexDirectory(context.Background(), "other", tmpDir, nil)
	assert.NoError(t, err)

	lock.Release()
	_, err = idx.IndexDirectory(context.Background(), "demo", tmpDir, nil)
	assert.NoError(t, err)
}

func TestIndexDirectory_Cancelled(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "a.go", "package a\n")
	createTestFile(t, tmpDir, "b.go", "package a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sub := newFakeSubmitter()
	idx := New(sub, nil, discardLogger())
	stats, err := idx.IndexDirectory(ctx, "demo", tmpDir, nil)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, stats)
	assert.Zero(t, stats.FilesSubmitted)
}

func TestProjectName(t *testing.T) {
	withMod := t.TempDir()
	createTestFile(t, withMod, "go.mod", "module github.com/acme/widgets\n\ngo 1.22\n")
	assert.Equal(t, "github.com/acme/widgets", ProjectName(withMod))

	plain := filepath.Join(t.TempDir(), "scripts")
	require.NoError(t, os.MkdirAll(plain, 0755))
	assert.Equal(t, "scripts", ProjectName(plain))
}

func TestParseGoMod(t *testing.T) {
	tmpDir := t.TempDir()
	path := createTestFile(t, tmpDir, "go.mod", "module example.com/m\n\ngo 1.25.1\n\nrequire golang.org/x/sync v0.17.0\n")

	info, err := parseGoMod(path)
	require.NoError(t, err)
	assert.Equal(t, "example.com/m", info.Module)
	assert.Equal(t, "1.25.1", info.GoVersion)

	_, err = parseGoMod(filepath.Join(tmpDir, "missing.mod"))
	assert.Error(t, err)
}

func TestIndexDirectory_Pipeline(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "go.mod", "module example.com/greet\n")
	createTestFile(t, tmpDir, "greet.go", `package greet

// Greet returns a greeting for name.
func Greet(name string) string {
	return "hello " + name
}
`)
	createTestFile(t, tmpDir, "shout/shout.go", `package shout

import "strings"

// Shout upper-cases s.
func Shout(s string) string {
	return strings.ToUpper(s)
}
`)

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.NewLocalProvider(nil, 64)
	require.NoError(t, err)

	cfg := pipeline.DefaultConfig()
	cfg.Backoff = pipeline.BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	orch, err := pipeline.New(pipeline.Dependencies{
		Store:     store,
		Generator: generator.NewTemplateGenerator(),
		Embedder:  emb,
		Logger:    discardLogger(),
	}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })

	idx := New(orch, nil, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := idx.IndexDirectory(ctx, "", tmpDir, nil)
	require.NoError(t, err)
	assert.Equal(t, "example.com/greet", stats.Project)
	assert.Equal(t, 2, stats.FilesIndexed, stats.ErrorMessages)
	assert.Empty(t, stats.ErrorMessages)

	project, err := store.GetProject(ctx, "example.com/greet")
	require.NoError(t, err)
	status, err := store.GetStatus(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.FilesCount)
	assert.Equal(t, 2, status.IndexedFilesCount)
	assert.Positive(t, status.ChunksCount)

	// Walking an unchanged tree again only skips
	again, err := idx.IndexDirectory(ctx, "", tmpDir, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, again.FilesSkipped)
	assert.Zero(t, again.FilesIndexed)
}
