package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// submitFileTool returns the tool definition for submit_file
func submitFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "submit_file",
		Description: "Submit one source file for documentation and indexing. Returns the run ID.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": map[string]interface{}{
					"type":        "string",
					"description": "Project name the file belongs to",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path within the project. Read from disk when content is omitted, in which case it must be absolute.",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "File content. Optional when path is readable.",
				},
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, wait for the run to finish and return its final status",
					"default":     false,
				},
			},
			Required: []string{"project", "path"},
		},
	}
}

// indexDirectoryTool returns the tool definition for index_directory
func indexDirectoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_directory",
		Description: "Submit every supported source file under a directory. Unchanged files are skipped.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the directory",
				},
				"project": map[string]interface{}{
					"type":        "string",
					"description": "Project name (default: go.mod module path or directory name)",
				},
				"include_tests": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, submit *_test.go files",
					"default":     true,
				},
				"include_vendor": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, descend into vendor/ and node_modules/",
					"default":     false,
				},
				"all_files": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, also submit files without a language extractor, one module element each",
					"default":     false,
				},
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, wait for every run and report final outcomes",
					"default":     true,
				},
			},
			Required: []string{"path"},
		},
	}
}

// runStatusTool returns the tool definition for run_status
func runStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "run_status",
		Description: "Report the state of a pipeline run and each of its elements",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "Run ID returned by submit_file or index_directory",
				},
				"retry": map[string]interface{}{
					"type":        "boolean",
					"description": "If true and the run failed, resume it from the failed stages first",
					"default":     false,
				},
			},
			Required: []string{"run_id"},
		},
	}
}

// searchDocsTool returns the tool definition for search_docs
func searchDocsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_docs",
		Description: "Search generated documentation with a natural language or keyword query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"project": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to this project",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (weighted vector + keyword), vector (semantic only), or keyword (term overlap only)",
					"enum":        []string{"hybrid", "vector", "keyword"},
					"default":     "hybrid",
				},
				"semantic_weight": map[string]interface{}{
					"type":        "number",
					"description": "Weight of vector similarity in hybrid mode",
					"minimum":     0.0,
				},
				"lexical_weight": map[string]interface{}{
					"type":        "number",
					"description": "Weight of query term overlap in hybrid mode",
					"minimum":     0.0,
				},
				"min_similarity": map[string]interface{}{
					"type":        "number",
					"description": "Drop candidates whose vector similarity is below this floor (0.0-1.0)",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"context": map[string]interface{}{
					"type":        "string",
					"description": "Optional surrounding context; results closer to it move up one place",
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional filters to narrow search",
					"properties": map[string]interface{}{
						"element_kinds": map[string]interface{}{
							"type":        "array",
							"description": "Filter by code element kind",
							"items": map[string]interface{}{
								"type": "string",
								"enum": []string{"function", "class", "method", "module", "variable", "import", "constant"},
							},
						},
						"doc_types": map[string]interface{}{
							"type":        "array",
							"description": "Filter by documentation type",
							"items": map[string]interface{}{
								"type": "string",
								"enum": []string{"api", "tutorial", "overview", "example", "troubleshooting", "changelog", "readme"},
							},
						},
						"file_pattern": map[string]interface{}{
							"type":        "string",
							"description": "Glob pattern for file paths (e.g., 'internal/*')",
						},
						"exclude_low_quality": map[string]interface{}{
							"type":        "boolean",
							"description": "If true, skip documentation accepted below the quality threshold",
						},
					},
				},
			},
			Required: []string{"query"},
		},
	}
}

// projectStatusTool returns the tool definition for project_status
func projectStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "project_status",
		Description: "Query indexing statistics for a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": map[string]interface{}{
					"type":        "string",
					"description": "Project name",
				},
			},
			Required: []string{"project"},
		},
	}
}

// documentProjectTool returns the tool definition for document_project
func documentProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "document_project",
		Description: "Generate and index an overview document for a project from its indexed elements",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": map[string]interface{}{
					"type":        "string",
					"description": "Project name",
				},
			},
			Required: []string{"project"},
		},
	}
}
