// Package indexer feeds a directory tree into the documentation pipeline.
//
// The indexer only discovers and submits files. Extraction, generation,
// embedding and change gating all happen in the pipeline, so walking an
// unchanged tree twice costs one fingerprint comparison per file.
//
// # Basic Usage
//
//	idx := indexer.New(orch, extractor.DefaultRegistry(), logger)
//
//	stats, err := idx.IndexDirectory(ctx, "", "/path/to/project", indexer.DefaultConfig())
//
//	fmt.Printf("%d indexed, %d unchanged, %d failed in %v\n",
//	    stats.FilesIndexed, stats.FilesSkipped, stats.FilesFailed, stats.Duration)
//
// An empty project name is taken from the go.mod module path at the root,
// or the directory name when there is none.
//
// # File Discovery
//
// Hidden directories are always skipped, vendor and node_modules unless
// IncludeVendor is set. By default only files with a dedicated extractor
// are submitted; AllFiles also sends everything else, which the registry's
// fallback indexes as one module element per file. Empty files and files
// larger than MaxFileSize are ignored.
//
// # Concurrency
//
// Submissions run on an errgroup bounded by Workers. With Wait set each
// worker also waits for its run to finish, so the statistics report final
// outcomes; without it they only count submissions. A second walk for the
// same project while one is running fails with ErrIndexInProgress.
package indexer
