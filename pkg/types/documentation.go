package types

import (
	"errors"
	"fmt"
	"math"
)

// DocType classifies a documentation record
type DocType string

const (
	DocAPI             DocType = "api"
	DocTutorial        DocType = "tutorial"
	DocOverview        DocType = "overview"
	DocExample         DocType = "example"
	DocTroubleshooting DocType = "troubleshooting"
	DocChangelog       DocType = "changelog"
	DocReadme          DocType = "readme"
)

// Valid reports whether t is a known documentation type
func (t DocType) Valid() bool {
	switch t {
	case DocAPI, DocTutorial, DocOverview, DocExample, DocTroubleshooting, DocChangelog, DocReadme:
		return true
	default:
		return false
	}
}

// DocStyle is the documentation style configured on a project
type DocStyle string

const (
	StyleGoogle       DocStyle = "google"
	StyleNumpy        DocStyle = "numpy"
	StyleSphinx       DocStyle = "sphinx"
	StyleAPIReference DocStyle = "api_reference"
	StyleTutorial     DocStyle = "tutorial"
)

// Valid reports whether s is a known documentation style
func (s DocStyle) Valid() bool {
	switch s {
	case StyleGoogle, StyleNumpy, StyleSphinx, StyleAPIReference, StyleTutorial:
		return true
	default:
		return false
	}
}

// ChunkRole describes what part of a document a chunk carries
type ChunkRole string

const (
	RoleTitle   ChunkRole = "title"
	RoleContent ChunkRole = "content"
	RoleExample ChunkRole = "example"
	RoleSummary ChunkRole = "summary"
)

// QualityScores holds the quality gate sub-scores, all in [0,1]
type QualityScores struct {
	Completeness float64 `json:"completeness"`
	Clarity      float64 `json:"clarity"`
	Accuracy     float64 `json:"accuracy"`
	Overall      float64 `json:"overall"`
}

// Overall weights
const (
	WeightCompleteness = 0.4
	WeightClarity      = 0.3
	WeightAccuracy     = 0.3
)

// NewQualityScores builds scores and derives the overall value
func NewQualityScores(completeness, clarity, accuracy float64) QualityScores {
	q := QualityScores{
		Completeness: clamp01(completeness),
		Clarity:      clamp01(clarity),
		Accuracy:     clamp01(accuracy),
	}
	q.Overall = WeightCompleteness*q.Completeness + WeightClarity*q.Clarity + WeightAccuracy*q.Accuracy
	return q
}

// Validate checks every sub-score lies in [0,1]
func (q QualityScores) Validate() error {
	for name, v := range map[string]float64{
		"completeness": q.Completeness,
		"clarity":      q.Clarity,
		"accuracy":     q.Accuracy,
		"overall":      q.Overall,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%s score %v out of range", name, v)
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Chunk is a contiguous slice of documentation text prepared for embedding.
// The first OverlapBytes bytes of Text repeat the tail of the previous chunk.
type Chunk struct {
	Index         int
	Text          string
	Role          ChunkRole
	TokenCount    int
	CharCount     int
	OverlapTokens int
	OverlapBytes  int
}

// Fresh returns the part of Text not shared with the previous chunk
func (c *Chunk) Fresh() string {
	if c.OverlapBytes <= 0 || c.OverlapBytes > len(c.Text) {
		return c.Text
	}
	return c.Text[c.OverlapBytes:]
}

// Validate checks the chunk against its expected position
func (c *Chunk) Validate(index int) error {
	if c.Index != index {
		return fmt.Errorf("chunk index %d, want %d", c.Index, index)
	}
	if c.Text == "" {
		return errors.New("chunk text cannot be empty")
	}
	if c.OverlapBytes < 0 || c.OverlapBytes >= len(c.Text) {
		return fmt.Errorf("chunk %d: overlap %d out of range", c.Index, c.OverlapBytes)
	}
	return nil
}
