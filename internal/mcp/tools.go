package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/docrag/internal/indexer"
	"github.com/dshills/docrag/internal/pipeline"
	"github.com/dshills/docrag/internal/runstore"
	"github.com/dshills/docrag/internal/searcher"
	"github.com/dshills/docrag/internal/storage"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeProjectNotFound    = -32001 // Named project has no indexed files
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeRunNotFound        = -32003 // Run ID unknown
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeNotRetryable       = -32005 // Run cannot be resumed
)

// maxReportedErrors bounds the per-file errors returned by index_directory
const maxReportedErrors = 5

// handleSubmitFile handles the submit_file tool invocation
func (s *Server) handleSubmitFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	project := getStringDefault(args, "project", "")
	if project == "" {
		return nil, missingParam("project")
	}
	path := getStringDefault(args, "path", "")
	if path == "" {
		return nil, missingParam("path")
	}

	var content []byte
	if c, ok := args["content"].(string); ok {
		content = []byte(c)
	} else {
		if !filepath.IsAbs(path) {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
				"param":  "path",
				"reason": "path must be absolute when content is omitted",
			})
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
				"param":  "path",
				"reason": err.Error(),
			})
		}
		content = data
	}

	runID, err := s.orch.Submit(ctx, pipeline.SubmitRequest{Project: project, Path: path, Content: content})
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidSubmit) {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid submission", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil, internalError("submission failed", err)
	}
	s.logger.Debug("file submitted", "project", project, "path", path, "run_id", runID)

	if !getBoolDefault(args, "wait", false) {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"run_id": runID,
		})), nil
	}

	run, err := s.orch.Wait(ctx, runID)
	if err != nil {
		return nil, internalError("waiting for run failed", err)
	}
	return mcp.NewToolResultText(formatJSON(runSummary(run))), nil
}

// handleIndexDirectory handles the index_directory tool invocation
func (s *Server) handleIndexDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path := getStringDefault(args, "path", "")
	if path == "" {
		return nil, missingParam("path")
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	config := indexer.DefaultConfig()
	config.IncludeTests = getBoolDefault(args, "include_tests", true)
	config.IncludeVendor = getBoolDefault(args, "include_vendor", false)
	config.AllFiles = getBoolDefault(args, "all_files", false)
	config.Wait = getBoolDefault(args, "wait", true)

	stats, err := s.indexer.IndexDirectory(ctx, getStringDefault(args, "project", ""), path, config)
	if err != nil {
		if errors.Is(err, indexer.ErrIndexInProgress) {
			return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
				"path": path,
			})
		}
		return nil, internalError("indexing failed", err)
	}

	response := map[string]interface{}{
		"project":          stats.Project,
		"files_discovered": stats.FilesDiscovered,
		"files_submitted":  stats.FilesSubmitted,
		"files_indexed":    stats.FilesIndexed,
		"files_skipped":    stats.FilesSkipped,
		"files_failed":     stats.FilesFailed,
		"run_ids":          stats.RunIDs,
		"duration_ms":      stats.Duration.Milliseconds(),
	}
	if n := len(stats.ErrorMessages); n > 0 {
		if n > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = n
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRunStatus handles the run_status tool invocation
func (s *Server) handleRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	runID := getStringDefault(args, "run_id", "")
	if runID == "" {
		return nil, missingParam("run_id")
	}

	if getBoolDefault(args, "retry", false) {
		if err := s.orch.Retry(ctx, runID); err != nil {
			switch {
			case errors.Is(err, runstore.ErrNotFound):
				return nil, runNotFound(runID)
			case errors.Is(err, pipeline.ErrNotRetryable), errors.Is(err, pipeline.ErrStaleRun),
				errors.Is(err, pipeline.ErrRunInFlight):
				return nil, newMCPError(ErrorCodeNotRetryable, "run cannot be retried", map[string]interface{}{
					"run_id": runID,
					"error":  err.Error(),
				})
			default:
				return nil, internalError("retry failed", err)
			}
		}
	}

	run, err := s.orch.Status(ctx, runID)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			return nil, runNotFound(runID)
		}
		return nil, internalError("failed to get run status", err)
	}
	return mcp.NewToolResultText(formatJSON(runSummary(run))), nil
}

// handleSearchDocs handles the search_docs tool invocation
func (s *Server) handleSearchDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query := getStringDefault(args, "query", "")
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode := searcher.SearchMode(getStringDefault(args, "search_mode", string(searcher.SearchModeHybrid)))
	switch mode {
	case searcher.SearchModeHybrid, searcher.SearchModeVector, searcher.SearchModeKeyword:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   mode,
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	req := searcher.SearchRequest{
		Query:         query,
		Limit:         limit,
		Mode:          mode,
		Weights:       s.requestWeights(args),
		Context:       getStringDefault(args, "context", ""),
		MinSimilarity: getFloatDefault(args, "min_similarity", s.minSimilarity),
		Filters:       parseFilters(args),
		UseCache:      true,
	}

	if name := getStringDefault(args, "project", ""); name != "" {
		project, err := s.storage.GetProject(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, projectNotFound(name)
		}
		if err != nil {
			return nil, internalError("failed to look up project", err)
		}
		req.ProjectID = project.ID
	}

	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		if errors.Is(err, searcher.ErrInvalidQuery) || errors.Is(err, searcher.ErrInvalidWeights) {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid search request", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil, internalError("search failed", err)
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		result := map[string]interface{}{
			"rank":           r.Rank,
			"score":          r.Score,
			"semantic_score": r.SemanticScore,
			"lexical_score":  r.LexicalScore,
			"title":          r.Title,
			"content":        r.Content,
			"chunk_index":    r.ChunkIndex,
			"role":           r.Role,
			"doc_type":       r.DocType,
			"low_quality":    r.LowQuality,
		}
		if r.Element != nil {
			result["element"] = map[string]interface{}{
				"name":           r.Element.Name,
				"qualified_name": r.Element.QualifiedName,
				"kind":           r.Element.Kind,
				"signature":      r.Element.Signature,
			}
		}
		if r.File != nil {
			result["file"] = map[string]interface{}{
				"project":    r.File.Project,
				"path":       r.File.Path,
				"start_line": r.File.StartLine,
				"end_line":   r.File.EndLine,
			}
		}
		if len(r.Related) > 0 {
			result["related"] = r.Related
		}
		results[i] = result
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"query":         query,
		"search_mode":   resp.SearchMode,
		"total_results": resp.TotalResults,
		"cache_hit":     resp.CacheHit,
		"query_id":      resp.QueryID,
		"duration_ms":   resp.Duration.Milliseconds(),
		"results":       results,
	})), nil
}

// handleProjectStatus handles the project_status tool invocation
func (s *Server) handleProjectStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	name := getStringDefault(args, "project", "")
	if name == "" {
		return nil, missingParam("project")
	}

	project, err := s.storage.GetProject(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		response := map[string]interface{}{
			"indexed": false,
			"project": name,
			"message": "Project not indexed. Use submit_file or index_directory to index it.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}
	if err != nil {
		return nil, internalError("failed to get project", err)
	}

	status, err := s.storage.GetStatus(ctx, project.ID)
	if err != nil {
		return nil, internalError("failed to get status", err)
	}

	lastAnalyzed := ""
	if !status.LastAnalyzedAt.IsZero() {
		lastAnalyzed = status.LastAnalyzedAt.Format(time.RFC3339)
	}

	response := map[string]interface{}{
		"indexed": status.IndexedFilesCount > 0,
		"project": map[string]interface{}{
			"name":             project.Name,
			"language":         project.Language,
			"framework":        project.Framework,
			"doc_style":        project.DocStyle,
			"last_analyzed_at": lastAnalyzed,
		},
		"statistics": map[string]interface{}{
			"files_count":         status.FilesCount,
			"indexed_files_count": status.IndexedFilesCount,
			"elements_count":      status.ElementsCount,
			"documentation_count": status.DocumentationCount,
			"low_quality_count":   status.LowQualityCount,
			"chunks_count":        status.ChunksCount,
			"embeddings_count":    status.EmbeddingsCount,
			"index_size_mb":       fmt.Sprintf("%.2f", status.IndexSizeMB),
		},
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
			"fts_indexes_built":    status.Health.FTSIndexesBuilt,
		},
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleDocumentProject handles the document_project tool invocation
func (s *Server) handleDocumentProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	name := getStringDefault(args, "project", "")
	if name == "" {
		return nil, missingParam("project")
	}

	doc, err := s.orch.DocumentProject(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, projectNotFound(name)
	}
	if err != nil {
		return nil, internalError("overview generation failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"documentation_id": doc.ID,
		"title":            doc.Title,
		"low_quality":      doc.LowQuality,
		"overall_score":    doc.Quality.Overall,
	})), nil
}

// requestWeights returns the weights named in args, or nil for the server
// defaults. Naming only one weight sets the other to zero.
func (s *Server) requestWeights(args map[string]interface{}) *searcher.Weights {
	_, hasSemantic := args["semantic_weight"]
	_, hasLexical := args["lexical_weight"]
	if !hasSemantic && !hasLexical {
		w := s.weights
		return &w
	}
	return &searcher.Weights{
		Semantic: getFloatDefault(args, "semantic_weight", 0),
		Lexical:  getFloatDefault(args, "lexical_weight", 0),
	}
}

// parseFilters reads the optional filters object
func parseFilters(args map[string]interface{}) *storage.SearchFilters {
	raw, ok := args["filters"].(map[string]interface{})
	if !ok {
		return nil
	}
	return &storage.SearchFilters{
		ElementKinds:      getStringSlice(raw, "element_kinds"),
		DocTypes:          getStringSlice(raw, "doc_types"),
		FilePattern:       getStringDefault(raw, "file_pattern", ""),
		ExcludeLowQuality: getBoolDefault(raw, "exclude_low_quality", false),
	}
}

// runSummary renders a run record for tool output
func runSummary(run *pipeline.RunStatus) map[string]interface{} {
	elements := make([]map[string]interface{}, len(run.Elements))
	for i, el := range run.Elements {
		e := map[string]interface{}{
			"key":   el.Key,
			"state": el.State,
		}
		if el.FailedStage != "" {
			e["failed_stage"] = el.FailedStage
		}
		if el.Reason != "" {
			e["reason"] = el.Reason
		}
		if el.LowQuality {
			e["low_quality"] = true
		}
		if el.DocumentationID != 0 {
			e["documentation_id"] = el.DocumentationID
		}
		if el.ChunkCount > 0 {
			e["chunk_count"] = el.ChunkCount
		}
		elements[i] = e
	}

	counts := make(map[string]int)
	for state, n := range run.Counts() {
		counts[string(state)] = n
	}

	summary := map[string]interface{}{
		"run_id":      run.ID,
		"project":     run.ProjectName,
		"path":        run.FilePath,
		"fingerprint": run.Fingerprint,
		"state":       run.State,
		"retries":     run.Retries,
		"counts":      counts,
		"elements":    elements,
	}
	if run.FailedStage != "" {
		summary["failed_stage"] = run.FailedStage
	}
	if run.Reason != "" {
		summary["reason"] = run.Reason
	}
	if run.FinishedAt != nil {
		summary["duration_ms"] = run.FinishedAt.Sub(run.CreatedAt).Milliseconds()
	}
	return summary
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func missingParam(name string) error {
	return newMCPError(ErrorCodeInvalidParams, name+" parameter is required", map[string]interface{}{
		"param":  name,
		"reason": "missing or empty",
	})
}

func internalError(message string, err error) error {
	return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
		"error": err.Error(),
	})
}

func projectNotFound(name string) error {
	return newMCPError(ErrorCodeProjectNotFound, "project not found", map[string]interface{}{
		"project": name,
	})
}

func runNotFound(runID string) error {
	return newMCPError(ErrorCodeRunNotFound, "run not found", map[string]interface{}{
		"run_id": runID,
	})
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	default:
		return defaultValue
	}
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts an array of strings, ignoring other element types
func getStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
