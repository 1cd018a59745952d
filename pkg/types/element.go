package types

import (
	"errors"
	"fmt"
	"strings"
)

// ElementKind is the closed set of code element kinds
type ElementKind string

const (
	KindFunction ElementKind = "function"
	KindClass    ElementKind = "class"
	KindMethod   ElementKind = "method"
	KindModule   ElementKind = "module"
	KindVariable ElementKind = "variable"
	KindImport   ElementKind = "import"
	KindConstant ElementKind = "constant"
)

// Valid reports whether k is one of the known element kinds
func (k ElementKind) Valid() bool {
	switch k {
	case KindFunction, KindClass, KindMethod, KindModule, KindVariable, KindImport, KindConstant:
		return true
	default:
		return false
	}
}

// Title returns the kind name as used in documentation titles
func (k ElementKind) Title() string {
	if k == "" {
		return ""
	}
	s := string(k)
	return strings.ToUpper(s[:1]) + s[1:]
}

// Parameter describes one parameter of a callable element
type Parameter struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Default string `json:"default,omitempty"`
}

// CodeElement is a descriptor produced by a structural extractor
type CodeElement struct {
	// Identification
	Kind          ElementKind
	Name          string
	QualifiedName string

	// Content
	Signature  string
	DocComment string
	Source     string // Raw source text of the element span

	// Location
	StartLine int
	EndLine   int

	// Shape
	Complexity int
	Parameters []Parameter
	ReturnType string
	IsAsync    bool
	IsStatic   bool
	IsAbstract bool

	Metadata map[string]string
}

// Validate checks the descriptor against the owning file's line count.
// A lineCount of zero skips the containment check.
func (e *CodeElement) Validate(lineCount int) error {
	if e.Name == "" {
		return errors.New("element name is required")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("invalid element kind %q", e.Kind)
	}
	if e.StartLine < 1 || e.EndLine < e.StartLine {
		return fmt.Errorf("invalid line span %d-%d", e.StartLine, e.EndLine)
	}
	if lineCount > 0 && e.EndLine > lineCount {
		return fmt.Errorf("line span %d-%d exceeds file length %d", e.StartLine, e.EndLine, lineCount)
	}
	return nil
}

// Key identifies an element within its file
func (e *CodeElement) Key() string {
	return string(e.Kind) + ":" + e.QualifiedName
}

// RelationType is the kind of edge between two code elements
type RelationType string

const (
	RelCalls      RelationType = "calls"
	RelInherits   RelationType = "inherits"
	RelImports    RelationType = "imports"
	RelUses       RelationType = "uses"
	RelImplements RelationType = "implements"
	RelContains   RelationType = "contains"
	RelReferences RelationType = "references"
)

// Valid reports whether t is a known relation type
func (t RelationType) Valid() bool {
	switch t {
	case RelCalls, RelInherits, RelImports, RelUses, RelImplements, RelContains, RelReferences:
		return true
	default:
		return false
	}
}

// Relationship is a directed edge between two elements of the same file,
// addressed by qualified name.
type Relationship struct {
	Source   string
	Target   string
	Type     RelationType
	Strength float64
}

// ExtractResult is the output of a structural extractor
type ExtractResult struct {
	Language      string
	Elements      []CodeElement
	Relationships []Relationship
}
