package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/docrag/internal/searcher"
	"github.com/dshills/docrag/internal/storage"
)

var (
	searchProject string
	searchLimit   int
	searchMode    string
	searchContext string
	searchJSON    bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed documentation",
	Long: `Performs weighted hybrid search across indexed documentation.
Vector similarity and query term overlap are combined with the configured
search weights.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchProject, "project", "p", "", "restrict results to a project")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (default from config)")
	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", string(searcher.SearchModeHybrid), "hybrid, vector or keyword")
	searchCmd.Flags().StringVar(&searchContext, "context", "", "surrounding context used to rerank results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	limit := searchLimit
	if limit == 0 {
		limit = a.cfg.Search.Limit
	}
	weights := a.cfg.Weights()
	req := searcher.SearchRequest{
		Query:         strings.Join(args, " "),
		Limit:         limit,
		Mode:          searcher.SearchMode(searchMode),
		Weights:       &weights,
		Context:       searchContext,
		MinSimilarity: a.cfg.Search.MinSimilarity,
	}

	ctx := cmd.Context()
	if searchProject != "" {
		project, err := a.store.GetProject(ctx, searchProject)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("project %q is not indexed", searchProject)
		}
		if err != nil {
			return err
		}
		req.ProjectID = project.ID
	}

	resp, err := a.searcher.Search(ctx, req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		data, err := json.MarshalIndent(resp.Results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(resp.Results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for _, r := range resp.Results {
		cmd.Printf("  [%d] %s (%.3f)\n", r.Rank, r.Title, r.Score)
		if r.File != nil {
			cmd.Printf("      %s:%d-%d\n", r.File.Path, r.File.StartLine, r.File.EndLine)
		}
		if len(r.Related) > 0 {
			cmd.Printf("      related: %s\n", strings.Join(r.Related, ", "))
		}
	}
	return nil
}
