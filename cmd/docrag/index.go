package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/docrag/internal/indexer"
)

var (
	indexProject       string
	indexIncludeTests  bool
	indexIncludeVendor bool
	indexAllFiles      bool
	indexWorkers       int
)

var indexCmd = &cobra.Command{
	Use:   "index [dir]",
	Short: "Document and index every source file under a directory",
	Long: `Walks dir (default: the current directory), submits each supported source
file to the documentation pipeline and waits for the runs to finish.
Files whose content has not changed since the last index are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVarP(&indexProject, "project", "p", "", "project name (default: go.mod module path or directory name)")
	indexCmd.Flags().BoolVar(&indexIncludeTests, "tests", true, "include *_test.go files")
	indexCmd.Flags().BoolVar(&indexIncludeVendor, "vendor", false, "descend into vendor/ and node_modules/")
	indexCmd.Flags().BoolVar(&indexAllFiles, "all", false, "also submit files without a language extractor")
	indexCmd.Flags().IntVarP(&indexWorkers, "workers", "w", 0, "concurrent file submissions (default: number of CPUs)")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("invalid directory: %w", err)
	}

	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	config := indexer.DefaultConfig()
	config.IncludeTests = indexIncludeTests
	config.IncludeVendor = indexIncludeVendor
	config.AllFiles = indexAllFiles
	if indexWorkers > 0 {
		config.Workers = indexWorkers
	}

	stats, err := a.indexer.IndexDirectory(cmd.Context(), indexProject, root, config)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	cmd.Printf("Project: %s\n", stats.Project)
	cmd.Printf("  discovered %d, indexed %d, skipped %d, failed %d in %s\n",
		stats.FilesDiscovered, stats.FilesIndexed, stats.FilesSkipped, stats.FilesFailed,
		stats.Duration.Round(time.Millisecond))
	for _, msg := range stats.ErrorMessages {
		cmd.Printf("  error: %s\n", msg)
	}
	if stats.FilesFailed > 0 {
		return fmt.Errorf("%d files failed", stats.FilesFailed)
	}
	return nil
}
