package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/docrag/internal/extractor"
	"github.com/dshills/docrag/internal/pipeline"
	"github.com/dshills/docrag/internal/runstore"
)

// ErrIndexInProgress is returned when the project is already being indexed
var ErrIndexInProgress = errors.New("indexing already in progress for project")

// DefaultMaxFileSize bounds the files submitted from a directory walk
const DefaultMaxFileSize = 1 << 20

// Submitter accepts files for documentation. *pipeline.Orchestrator
// satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (string, error)
	Wait(ctx context.Context, runID string) (*pipeline.RunStatus, error)
}

// Indexer walks a directory tree and submits each source file to the
// documentation pipeline
type Indexer struct {
	submitter Submitter
	registry  *extractor.Registry
	logger    *slog.Logger

	locks sync.Map // Project name -> *IndexLock
}

// Config contains configuration for a directory walk
type Config struct {
	Workers       int   // Concurrent submissions (default: runtime.NumCPU())
	IncludeTests  bool  // Whether to submit _test.go files (default: true)
	IncludeVendor bool  // Whether to descend into vendor and node_modules (default: false)
	AllFiles      bool  // Submit files without a dedicated extractor (default: false)
	MaxFileSize   int64 // Larger files are skipped (default: DefaultMaxFileSize)
	Wait          bool  // Wait for each run to finish before counting it (default: true)
}

// DefaultConfig returns the default walk configuration
func DefaultConfig() *Config {
	return &Config{
		Workers:      runtime.NumCPU(),
		IncludeTests: true,
		MaxFileSize:  DefaultMaxFileSize,
		Wait:         true,
	}
}

// Statistics contains statistics about a directory walk
type Statistics struct {
	Project         string
	FilesDiscovered int
	FilesSubmitted  int
	FilesIndexed    int
	FilesSkipped    int
	FilesFailed     int
	RunIDs          []string
	Duration        time.Duration
	ErrorMessages   []string
}

// New creates an Indexer. A nil registry uses extractor.DefaultRegistry.
func New(submitter Submitter, registry *extractor.Registry, logger *slog.Logger) *Indexer {
	if registry == nil {
		registry = extractor.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		submitter: submitter,
		registry:  registry,
		logger:    logger.With("component", "indexer"),
	}
}

// IndexDirectory submits every eligible file under rootPath to project.
// An empty project name is derived from rootPath. Per-file failures are
// counted and reported in ErrorMessages; only walk errors and cancellation
// are returned as errors.
func (idx *Indexer) IndexDirectory(ctx context.Context, project, rootPath string, config *Config) (*Statistics, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = DefaultMaxFileSize
	}

	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", rootPath, err)
	}
	if project == "" {
		project = ProjectName(absRoot)
	}

	lock := idx.lockFor(project)
	if !lock.TryAcquire() {
		return nil, fmt.Errorf("%w: %s", ErrIndexInProgress, project)
	}
	defer lock.Release()

	startTime := time.Now()
	files, err := idx.discoverFiles(absRoot, config)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	idx.logger.Info("indexing directory", "project", project, "root", absRoot, "files", len(files))

	stats := &Statistics{Project: project, FilesDiscovered: len(files)}
	idx.submitFiles(ctx, project, absRoot, files, config, stats)
	stats.Duration = time.Since(startTime)

	idx.logger.Info("directory indexed", "project", project,
		"submitted", stats.FilesSubmitted, "indexed", stats.FilesIndexed,
		"skipped", stats.FilesSkipped, "failed", stats.FilesFailed, "duration", stats.Duration)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (idx *Indexer) lockFor(project string) *IndexLock {
	lock, _ := idx.locks.LoadOrStore(project, &IndexLock{})
	return lock.(*IndexLock)
}

// discoverFiles finds the files to submit, in lexical order
func (idx *Indexer) discoverFiles(rootPath string, config *Config) ([]string, error) {
	var files []string

	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path == rootPath {
				return nil
			}
			name := d.Name()
			// Skip hidden directories
			if strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if !config.IncludeVendor && (name == "vendor" || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !config.AllFiles && !idx.registry.Supports(path) {
			return nil
		}
		if !config.IncludeTests && strings.HasSuffix(path, "_test.go") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 || info.Size() > config.MaxFileSize {
			return nil
		}

		files = append(files, path)
		return nil
	})

	sort.Strings(files)
	return files, err
}

// submitFiles submits files concurrently and tallies their outcomes
func (idx *Indexer) submitFiles(ctx context.Context, project, rootPath string, files []string, config *Config, stats *Statistics) {
	var (
		submitted int32
		indexed   int32
		skipped   int32
		failed    int32
	)

	var mu sync.Mutex // Protects stats.ErrorMessages and stats.RunIDs
	addError := func(path string, err error) {
		atomic.AddInt32(&failed, 1)
		mu.Lock()
		stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", path, err))
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(config.Workers)

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			relPath, err := filepath.Rel(rootPath, path)
			if err != nil {
				addError(path, err)
				return nil
			}
			relPath = filepath.ToSlash(relPath)

			content, err := os.ReadFile(path)
			if err != nil {
				addError(relPath, err)
				return nil
			}

			runID, err := idx.submitter.Submit(ctx, pipeline.SubmitRequest{
				Project: project,
				Path:    relPath,
				Content: content,
			})
			if err != nil {
				addError(relPath, err)
				return nil
			}
			atomic.AddInt32(&submitted, 1)
			mu.Lock()
			stats.RunIDs = append(stats.RunIDs, runID)
			mu.Unlock()

			if !config.Wait {
				return nil
			}

			status, err := idx.submitter.Wait(ctx, runID)
			if err != nil {
				addError(relPath, err)
				return nil
			}
			switch status.State {
			case runstore.StateIndexed:
				atomic.AddInt32(&indexed, 1)
			case runstore.StateSkipped:
				atomic.AddInt32(&skipped, 1)
			default:
				addError(relPath, fmt.Errorf("%s failed at %s: %s", status.ID, status.FailedStage, status.Reason))
			}
			return nil
		})
	}

	_ = g.Wait()

	stats.FilesSubmitted = int(submitted)
	stats.FilesIndexed = int(indexed)
	stats.FilesSkipped = int(skipped)
	stats.FilesFailed = int(failed)
	sort.Strings(stats.ErrorMessages)
}

// ProjectName derives a project name for rootPath: the module path from a
// go.mod at the root, else the directory name
func ProjectName(rootPath string) string {
	if info, err := parseGoMod(filepath.Join(rootPath, "go.mod")); err == nil && info.Module != "" {
		return info.Module
	}
	return filepath.Base(rootPath)
}

// goModInfo contains parsed go.mod information
type goModInfo struct {
	Module    string
	GoVersion string
}

// parseGoMod extracts basic info from go.mod file
func parseGoMod(goModPath string) (*goModInfo, error) {
	content, err := os.ReadFile(goModPath)
	if err != nil {
		return nil, err
	}

	info := &goModInfo{}
	lines := strings.Split(string(content), "\n")

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "module ") {
			info.Module = strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "module")), `"`)
		} else if strings.HasPrefix(line, "go ") {
			info.GoVersion = strings.TrimSpace(strings.TrimPrefix(line, "go"))
		}
	}

	return info, nil
}
