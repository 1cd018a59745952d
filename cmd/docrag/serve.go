package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/docrag/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	Long: `Start the Model Context Protocol server for AI assistant integration.

The server speaks JSON-RPC over stdin/stdout. Logs are written to stderr.

Client configuration:
  {
    "mcpServers": {
      "docrag": {
        "command": "/path/to/docrag",
        "args": ["serve"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	server, err := mcp.NewServer(mcp.Dependencies{
		Store:         a.store,
		Orchestrator:  a.orch,
		Indexer:       a.indexer,
		Searcher:      a.searcher,
		Logger:        a.logger,
		Weights:       a.cfg.Weights(),
		MinSimilarity: a.cfg.Search.MinSimilarity,
	})
	if err != nil {
		return err
	}

	a.logger.Info("MCP server ready, listening on stdio", "version", version)
	if err := server.Serve(cmd.Context()); err != nil {
		return err
	}
	a.logger.Info("server stopped")
	return nil
}
