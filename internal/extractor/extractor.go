package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dshills/docrag/pkg/types"
)

// Extractor turns a source file into code element descriptors
type Extractor interface {
	// Extract parses content and returns its elements and relationships.
	// Syntax errors are reported as *ParseError.
	Extract(ctx context.Context, path string, content []byte) (*types.ExtractResult, error)

	// Version identifies the extractor build recorded on analyzed files
	Version() string
}

// ParseError reports a source file that could not be parsed
type ParseError struct {
	Path   string
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// Registry selects an extractor by file extension
type Registry struct {
	mu       sync.RWMutex
	byExt    map[string]Extractor
	fallback Extractor
}

// NewRegistry creates a registry that uses fallback for unknown extensions.
// A nil fallback makes unknown extensions unsupported.
func NewRegistry(fallback Extractor) *Registry {
	return &Registry{
		byExt:    make(map[string]Extractor),
		fallback: fallback,
	}
}

// DefaultRegistry handles Go sources with the AST extractor and every other
// file as a single module element.
func DefaultRegistry() *Registry {
	r := NewRegistry(NewModuleExtractor())
	r.Register(".go", NewGoExtractor())
	return r
}

// Register associates ext (with or without the leading dot) with e
func (r *Registry) Register(ext string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExt[normalizeExt(ext)] = e
}

// For returns the extractor for path, or nil if none applies
func (r *Registry) For(path string) Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byExt[normalizeExt(filepath.Ext(path))]; ok {
		return e
	}
	return r.fallback
}

// Supports reports whether path has a dedicated extractor
func (r *Registry) Supports(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byExt[normalizeExt(filepath.Ext(path))]
	return ok
}

// Extract dispatches to the extractor registered for path
func (r *Registry) Extract(ctx context.Context, path string, content []byte) (*types.ExtractResult, error) {
	e := r.For(path)
	if e == nil {
		return nil, &ParseError{Path: path, Msg: "no extractor for file type"}
	}
	return e.Extract(ctx, path, content)
}

// VersionFor returns the version of the extractor registered for path
func (r *Registry) VersionFor(path string) string {
	if e := r.For(path); e != nil {
		return e.Version()
	}
	return ""
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// ModuleExtractor describes any file as one module element spanning all of it
type ModuleExtractor struct{}

// NewModuleExtractor creates a ModuleExtractor
func NewModuleExtractor() *ModuleExtractor {
	return &ModuleExtractor{}
}

// Version implements Extractor
func (m *ModuleExtractor) Version() string { return "module-1" }

// Extract implements Extractor
func (m *ModuleExtractor) Extract(ctx context.Context, path string, content []byte) (*types.ExtractResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &types.ExtractResult{
		Language: languageOf(path),
		Elements: []types.CodeElement{moduleElement(name, string(content))},
	}, nil
}

// moduleElement builds the element covering a whole file
func moduleElement(name, content string) types.CodeElement {
	return types.CodeElement{
		Kind:          types.KindModule,
		Name:          name,
		QualifiedName: name,
		Source:        content,
		StartLine:     1,
		EndLine:       LineCount(content),
	}
}

// LineCount returns the number of lines in content; empty content has one
func LineCount(content string) int {
	if content == "" {
		return 1
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

func languageOf(path string) string {
	switch normalizeExt(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".md", ".markdown":
		return "markdown"
	case "":
		return "text"
	default:
		return strings.TrimPrefix(normalizeExt(filepath.Ext(path)), ".")
	}
}
