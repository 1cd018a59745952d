package storage

import (
	"context"
	"time"

	"github.com/dshills/docrag/pkg/types"
)

// Storage defines the interface for persisting documentation and querying the index
type Storage interface {
	// Project operations
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, name string) (*Project, error)
	GetProjectByID(ctx context.Context, projectID int64) (*Project, error)
	UpdateProject(ctx context.Context, project *Project) error
	ListProjects(ctx context.Context) ([]*Project, error)
	DeleteProject(ctx context.Context, projectID int64) error

	// File operations
	UpsertFile(ctx context.Context, file *File) error
	GetFile(ctx context.Context, projectID int64, filePath string) (*File, error)
	GetFileByID(ctx context.Context, fileID int64) (*File, error)
	ListFiles(ctx context.Context, projectID int64) ([]*File, error)
	DeleteFile(ctx context.Context, fileID int64) error
	TouchFile(ctx context.Context, fileID int64, checkedAt time.Time) error
	MarkFileIndexed(ctx context.Context, fileID int64, hash [32]byte) error

	// Element operations
	UpsertElement(ctx context.Context, element *Element) error
	GetElement(ctx context.Context, elementID int64) (*Element, error)
	ListElementsByFile(ctx context.Context, fileID int64) ([]*Element, error)
	DeleteElementsExcept(ctx context.Context, fileID int64, keep []int64) (deletedCount int, err error)

	// Relationship operations
	UpsertRelationship(ctx context.Context, rel *Relationship) error
	DeleteRelationshipsByFile(ctx context.Context, fileID int64) error
	ListRelated(ctx context.Context, elementID int64, limit int) ([]*RelatedElement, error)

	// Documentation operations
	GetDocumentation(ctx context.Context, docID int64) (*Documentation, error)
	GetDocumentationByElement(ctx context.Context, elementID int64) (*Documentation, error)
	ListProjectDocumentation(ctx context.Context, projectID int64) ([]*Documentation, error)
	CommitDocumentation(ctx context.Context, doc *Documentation, chunks []*Chunk) error
	ApproveDocumentation(ctx context.Context, docID int64, reviewer string) error

	// Chunk operations
	PutChunk(ctx context.Context, chunk *Chunk) (int64, error)
	GetChunk(ctx context.Context, chunkID int64) (*Chunk, error)
	ListChunksByDocumentation(ctx context.Context, docID int64) ([]*Chunk, error)
	GetChunkDetails(ctx context.Context, chunkIDs []int64) (map[int64]*ChunkDetail, error)

	// Search operations
	Nearest(ctx context.Context, vector []float32, k int, filters *SearchFilters) ([]VectorResult, error)
	SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error)

	// Telemetry operations
	RecordQuery(ctx context.Context, query *SearchQuery) error
	RecordFeedback(ctx context.Context, queryID int64, feedback string) error

	// Status operations
	GetStatus(ctx context.Context, projectID int64) (*ProjectStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Project represents a named root grouping source files
type Project struct {
	ID        int64
	Name      string
	Language  string
	Framework string
	DocStyle  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// File represents a tracked source file
type File struct {
	ID              int64
	ProjectID       int64
	FilePath        string // Unique within the project
	Content         string
	ContentHash     [32]byte // Fingerprint of Content
	IndexedHash     [32]byte // Fingerprint of the last fully indexed content; zero if never indexed
	SizeBytes       int64
	LineCount       int
	AnalyzerVersion string
	LastAnalyzedAt  time.Time
	LastCheckedAt   time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Element represents a code element extracted from a file
type Element struct {
	ID            int64
	FileID        int64
	Kind          string
	Name          string
	QualifiedName string
	Signature     string
	DocComment    string
	StartLine     int
	EndLine       int
	Complexity    int
	Parameters    []types.Parameter
	ReturnType    string
	IsAsync       bool
	IsStatic      bool
	IsAbstract    bool
	Metadata      map[string]string
	SourceHash    [32]byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Relationship is a typed edge between two elements
type Relationship struct {
	ID       int64
	SourceID int64
	TargetID int64
	Type     string
	Strength float64
}

// RelatedElement is an element reached through a relationship
type RelatedElement struct {
	ElementID     int64
	Name          string
	QualifiedName string
	Kind          string
	Type          string
	Strength      float64
}

// Documentation is generated prose owned by exactly one element or one project
type Documentation struct {
	ID          int64
	ElementID   *int64 // Nullable - mutually exclusive with ProjectID
	ProjectID   *int64 // Nullable - mutually exclusive with ElementID
	DocType     string
	Title       string
	Content     string
	GeneratorID string
	Quality     types.QualityScores
	LowQuality  bool
	Approved    bool
	ReviewedBy  string
	ReviewedAt  *time.Time
	GateVersion string
	SourceHash  [32]byte // Element source the documentation was generated from
	Fingerprint [32]byte // File fingerprint of the run that produced it
	CreatedAt   time.Time
}

// Chunk is an embedded slice of a documentation record. Chunks are never
// updated; re-embedding replaces the whole set.
type Chunk struct {
	ID              int64
	DocumentationID int64
	ChunkIndex      int
	Content         string
	Role            string
	TokenCount      int
	CharCount       int
	OverlapTokens   int
	OverlapBytes    int
	Vector          []float32
	Model           string
	CreatedAt       time.Time
}

// ChunkDetail joins a chunk with its documentation, element and file
type ChunkDetail struct {
	ChunkID         int64
	DocumentationID int64
	ChunkIndex      int
	Content         string
	Role            string
	Vector          []float32

	Title      string
	DocType    string
	LowQuality bool

	ElementID     int64 // Zero for project-level documentation
	ElementName   string
	QualifiedName string
	ElementKind   string
	Signature     string
	FilePath      string
	StartLine     int
	EndLine       int

	ProjectID   int64
	ProjectName string
}

// SearchFilters restricts the candidate set before ranking
type SearchFilters struct {
	ProjectID         int64    // Zero matches every project
	ElementKinds      []string // Filter by element kind
	DocTypes          []string // Filter by documentation type
	Roles             []string // Filter by chunk role
	FilePattern       string   // Glob pattern for file paths
	Model             string   // Only vectors from this embedding model
	ExcludeLowQuality bool
	MinRelevance      float64 // Minimum relevance score
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	ChunkID         int64
	SimilarityScore float64
}

// TextResult represents a result from full-text search
type TextResult struct {
	ChunkID   int64
	BM25Score float64
}

// SearchQuery is a telemetry record of one search
type SearchQuery struct {
	ID          int64
	ProjectID   *int64
	QueryText   string
	QueryType   string
	ResultCount int
	LatencyMs   int64
	Feedback    string
	CreatedAt   time.Time
}

// ProjectStatus contains statistics about a project's index
type ProjectStatus struct {
	Project            *Project
	FilesCount         int
	IndexedFilesCount  int
	ElementsCount      int
	DocumentationCount int
	LowQualityCount    int
	ChunksCount        int
	EmbeddingsCount    int
	IndexSizeMB        float64
	LastAnalyzedAt     time.Time
	Health             HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	FTSIndexesBuilt     bool
}

// ToCodeElement converts a stored element to its descriptor
func (e *Element) ToCodeElement() types.CodeElement {
	return types.CodeElement{
		Kind:          types.ElementKind(e.Kind),
		Name:          e.Name,
		QualifiedName: e.QualifiedName,
		Signature:     e.Signature,
		DocComment:    e.DocComment,
		StartLine:     e.StartLine,
		EndLine:       e.EndLine,
		Complexity:    e.Complexity,
		Parameters:    e.Parameters,
		ReturnType:    e.ReturnType,
		IsAsync:       e.IsAsync,
		IsStatic:      e.IsStatic,
		IsAbstract:    e.IsAbstract,
		Metadata:      e.Metadata,
	}
}

// FromCodeElement converts a descriptor into a storage element
func FromCodeElement(e types.CodeElement, fileID int64, sourceHash [32]byte) *Element {
	return &Element{
		FileID:        fileID,
		Kind:          string(e.Kind),
		Name:          e.Name,
		QualifiedName: e.QualifiedName,
		Signature:     e.Signature,
		DocComment:    e.DocComment,
		StartLine:     e.StartLine,
		EndLine:       e.EndLine,
		Complexity:    e.Complexity,
		Parameters:    e.Parameters,
		ReturnType:    e.ReturnType,
		IsAsync:       e.IsAsync,
		IsStatic:      e.IsStatic,
		IsAbstract:    e.IsAbstract,
		Metadata:      e.Metadata,
		SourceHash:    sourceHash,
	}
}
