package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dshills/docrag/pkg/types"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("run not found")

// State is the state of a run or of one element within it
type State string

const (
	StatePending    State = "pending"
	StateAnalyzed   State = "analyzed"
	StateDocumented State = "documented"
	StateValidated  State = "validated"
	StateEmbedded   State = "embedded"
	StateIndexed    State = "indexed"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped"
)

// Terminal reports whether s is absorbing
func (s State) Terminal() bool {
	return s == StateIndexed || s == StateFailed || s == StateSkipped
}

// Stage names the pipeline step a failure happened in
type Stage string

const (
	StageAnalyze  Stage = "analyze"
	StageGenerate Stage = "generate"
	StageQuality  Stage = "quality"
	StageEmbed    Stage = "embed"
	StageIndex    Stage = "index"
)

// Order returns the position of s in the pipeline, or -1 if unknown
func (s Stage) Order() int {
	switch s {
	case StageAnalyze:
		return 0
	case StageGenerate:
		return 1
	case StageQuality:
		return 2
	case StageEmbed:
		return 3
	case StageIndex:
		return 4
	default:
		return -1
	}
}

// Run is the persisted record of one pipeline run over a
// (project, path, fingerprint) unit of work.
type Run struct {
	ID          string       `json:"id"`
	ProjectName string       `json:"project_name"`
	FilePath    string       `json:"file_path"`
	Fingerprint string       `json:"fingerprint"`
	Language    string       `json:"language,omitempty"`
	ProjectID   int64        `json:"project_id,omitempty"`
	FileID      int64        `json:"file_id,omitempty"`
	State       State        `json:"state"`
	FailedStage Stage        `json:"failed_stage,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Retries     int          `json:"retries,omitempty"`
	Elements    []*Element   `json:"elements"`
	History     []Transition `json:"history"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
}

// Element tracks one code element through the stages. Artifacts produced
// by completed stages are retained so a retry resumes at the failed stage.
type Element struct {
	Key         string            `json:"key"`
	ElementID   int64             `json:"element_id,omitempty"`
	State       State             `json:"state"`
	FailedStage Stage             `json:"failed_stage,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Attempts    map[Stage]int     `json:"attempts,omitempty"`
	Descriptor  types.CodeElement `json:"descriptor"`

	Text            string               `json:"text,omitempty"`
	GeneratorID     string               `json:"generator_id,omitempty"`
	Scores          *types.QualityScores `json:"scores,omitempty"`
	Regenerated     bool                 `json:"regenerated,omitempty"`
	LowQuality      bool                 `json:"low_quality,omitempty"`
	DocumentationID int64                `json:"documentation_id,omitempty"`
	ChunkCount      int                  `json:"chunk_count,omitempty"`
}

// Transition is one state change appended to a run's history. An empty
// Element denotes the run itself.
type Transition struct {
	Element string    `json:"element,omitempty"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	Stage   Stage     `json:"stage,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// Filter selects runs for List. Empty fields match everything.
type Filter struct {
	ProjectName string
	FilePath    string
	State       State
	Limit       int
}

func (f Filter) matches(r *Run) bool {
	return (f.ProjectName == "" || r.ProjectName == f.ProjectName) &&
		(f.FilePath == "" || r.FilePath == f.FilePath) &&
		(f.State == "" || r.State == f.State)
}

// Store persists run records
type Store interface {
	// Save inserts or replaces the record with run.ID
	Save(ctx context.Context, run *Run) error

	// Get returns a copy of the record, or ErrNotFound
	Get(ctx context.Context, id string) (*Run, error)

	// List returns matching runs, newest first
	List(ctx context.Context, filter Filter) ([]*Run, error)

	// Prune removes runs that finished before cutoff and returns how many
	Prune(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// Clone returns a deep copy of r
func (r *Run) Clone() *Run {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var out Run
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}

// Element returns the element with key, or nil
func (r *Run) Element(key string) *Element {
	for _, e := range r.Elements {
		if e.Key == key {
			return e
		}
	}
	return nil
}

// Counts returns the number of elements in each state
func (r *Run) Counts() map[State]int {
	counts := make(map[State]int)
	for _, e := range r.Elements {
		counts[e.State]++
	}
	return counts
}
