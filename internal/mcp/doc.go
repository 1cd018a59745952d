// Package mcp implements the Model Context Protocol (MCP) server for docrag.
//
// The server exposes six tools to AI coding assistants:
//   - submit_file: Submit one source file to the documentation pipeline
//   - index_directory: Submit every supported file under a directory
//   - run_status: Report (and optionally retry) a pipeline run
//   - search_docs: Search generated documentation
//   - project_status: Indexing statistics for a project
//   - document_project: Generate a project-level overview
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout is reserved for protocol messages; logs go to stderr.
//
// # Tool: submit_file
//
//	Request:
//	{
//	  "name": "submit_file",
//	  "arguments": {
//	    "project": "example.com/shop",
//	    "path": "/src/shop/cart/cart.go",
//	    "wait": true
//	  }
//	}
//
//	Response:
//	{
//	  "run_id": "4f6c...",
//	  "state": "indexed",
//	  "counts": {"indexed": 3},
//	  "elements": [{"key": "cart.Add", "state": "indexed", "chunk_count": 2}]
//	}
//
// Without wait only the run ID is returned; poll run_status for progress.
//
// # Tool: search_docs
//
//	Request:
//	{
//	  "name": "search_docs",
//	  "arguments": {
//	    "query": "how are carts priced",
//	    "project": "example.com/shop",
//	    "semantic_weight": 0.7,
//	    "lexical_weight": 0.3,
//	    "filters": {"element_kinds": ["function"], "exclude_low_quality": true}
//	  }
//	}
//
// Naming a single weight sets the other to zero. With neither, the server
// defaults apply.
//
// # Error Handling
//
// Errors are returned as MCPError values carrying a JSON-RPC code:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error (database, provider, filesystem)
//   - -32001: Project not found
//   - -32002: Indexing in progress
//   - -32003: Run not found
//   - -32004: Empty query
//   - -32005: Run not retryable
package mcp
