package types

// SearchResult represents a single search result with relevance information
type SearchResult struct {
	// Identification
	ChunkID         int64
	DocumentationID int64
	Rank            int // Position in result set (1-based)

	// Scoring
	Score         float64 // Combined semantic + lexical score
	SemanticScore float64
	LexicalScore  float64

	// Content
	Title      string
	Content    string
	ChunkIndex int
	Role       ChunkRole
	DocType    DocType
	LowQuality bool

	// Metadata
	Element *ElementInfo // Nil for project-level documentation
	File    *FileInfo    // Nil for project-level documentation
	Related []string     // Qualified names of related elements
}

// ElementInfo describes the element a result documents
type ElementInfo struct {
	Name          string
	QualifiedName string
	Kind          ElementKind
	Signature     string
}

// FileInfo contains file metadata for a search result
type FileInfo struct {
	Project   string
	Path      string
	StartLine int
	EndLine   int
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.ChunkID == 0 {
		return ErrInvalidChunkID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Score < 0 || sr.Score > 1 {
		return ErrInvalidRelevanceScore
	}

	if sr.Content == "" {
		return ErrEmptyContent
	}

	return nil
}
