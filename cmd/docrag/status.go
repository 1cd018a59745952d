package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/docrag/internal/config"
	"github.com/dshills/docrag/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status [project]",
	Short: "Show indexing statistics for a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var overviewCmd = &cobra.Command{
	Use:   "overview [project]",
	Short: "Generate and index a project-level overview document",
	Args:  cobra.ExactArgs(1),
	RunE:  runOverview,
}

var configInitCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write the default configuration to a .yaml or .toml file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(args[0], config.Default()); err != nil {
			return err
		}
		cmd.Printf("Wrote %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, overviewCmd, configInitCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx := cmd.Context()
	project, err := a.store.GetProject(ctx, args[0])
	if errors.Is(err, storage.ErrNotFound) {
		cmd.Printf("Project %q is not indexed.\n", args[0])
		return nil
	}
	if err != nil {
		return err
	}

	status, err := a.store.GetStatus(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	cmd.Printf("Project: %s (%s)\n", project.Name, project.Language)
	cmd.Printf("  files:         %d (%d indexed)\n", status.FilesCount, status.IndexedFilesCount)
	cmd.Printf("  elements:      %d\n", status.ElementsCount)
	cmd.Printf("  documentation: %d (%d low quality)\n", status.DocumentationCount, status.LowQualityCount)
	cmd.Printf("  chunks:        %d (%d embedded)\n", status.ChunksCount, status.EmbeddingsCount)
	cmd.Printf("  index size:    %.2f MB\n", status.IndexSizeMB)
	if !status.LastAnalyzedAt.IsZero() {
		cmd.Printf("  last analyzed: %s\n", status.LastAnalyzedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runOverview(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	doc, err := a.orch.DocumentProject(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	cmd.Printf("Indexed overview %d: %s (quality %.2f)\n", doc.ID, doc.Title, doc.Quality.Overall)
	if doc.LowQuality {
		cmd.Println("  accepted below the quality threshold")
	}
	return nil
}
