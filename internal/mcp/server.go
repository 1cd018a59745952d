package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/docrag/internal/indexer"
	"github.com/dshills/docrag/internal/pipeline"
	"github.com/dshills/docrag/internal/searcher"
	"github.com/dshills/docrag/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "docrag"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Dependencies are the components the tools call into
type Dependencies struct {
	Store        storage.Storage
	Orchestrator *pipeline.Orchestrator
	Indexer      *indexer.Indexer
	Searcher     *searcher.Searcher
	Logger       *slog.Logger

	// Search defaults applied when a call leaves them unset
	Weights       searcher.Weights
	MinSimilarity float64
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	orch     *pipeline.Orchestrator
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	logger   *slog.Logger

	weights       searcher.Weights
	minSimilarity float64
}

// NewServer creates a new MCP server instance. The caller owns the
// dependencies and closes them after Serve returns.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Store == nil || deps.Orchestrator == nil || deps.Searcher == nil {
		return nil, errors.New("mcp: store, orchestrator and searcher are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Indexer == nil {
		deps.Indexer = indexer.New(deps.Orchestrator, nil, deps.Logger)
	}
	if deps.Weights == (searcher.Weights{}) {
		deps.Weights = searcher.DefaultWeights()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:           mcpServer,
		storage:       deps.Store,
		orch:          deps.Orchestrator,
		indexer:       deps.Indexer,
		searcher:      deps.Searcher,
		logger:        deps.Logger.With("component", "mcp"),
		weights:       deps.Weights,
		minSimilarity: deps.MinSimilarity,
	}
	s.registerTools()

	return s, nil
}

// Serve runs the MCP server on stdio until the input closes or ctx is done
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio(s.mcp)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(submitFileTool(), s.handleSubmitFile)
	s.mcp.AddTool(indexDirectoryTool(), s.handleIndexDirectory)
	s.mcp.AddTool(runStatusTool(), s.handleRunStatus)
	s.mcp.AddTool(searchDocsTool(), s.handleSearchDocs)
	s.mcp.AddTool(projectStatusTool(), s.handleProjectStatus)
	s.mcp.AddTool(documentProjectTool(), s.handleDocumentProject)
}
