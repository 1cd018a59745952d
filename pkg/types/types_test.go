package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementKindValid(t *testing.T) {
	for _, k := range []ElementKind{KindFunction, KindClass, KindMethod, KindModule, KindVariable, KindImport, KindConstant} {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, ElementKind("struct").Valid())
	assert.Equal(t, "Function", KindFunction.Title())
}

func TestCodeElementValidate(t *testing.T) {
	tests := []struct {
		name      string
		elem      CodeElement
		lineCount int
		wantErr   string
	}{
		{"valid", CodeElement{Kind: KindFunction, Name: "f", StartLine: 1, EndLine: 3}, 10, ""},
		{"missing name", CodeElement{Kind: KindFunction, StartLine: 1, EndLine: 1}, 10, "name"},
		{"bad kind", CodeElement{Kind: "struct", Name: "f", StartLine: 1, EndLine: 1}, 10, "kind"},
		{"inverted span", CodeElement{Kind: KindFunction, Name: "f", StartLine: 5, EndLine: 4}, 10, "line span"},
		{"zero start", CodeElement{Kind: KindFunction, Name: "f", StartLine: 0, EndLine: 4}, 10, "line span"},
		{"past end of file", CodeElement{Kind: KindFunction, Name: "f", StartLine: 5, EndLine: 11}, 10, "exceeds"},
		{"unknown length", CodeElement{Kind: KindFunction, Name: "f", StartLine: 5, EndLine: 11}, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.elem.Validate(tt.lineCount)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewQualityScores(t *testing.T) {
	q := NewQualityScores(1.0, 0.5, 0.0)
	assert.InDelta(t, 0.55, q.Overall, 1e-9)
	require.NoError(t, q.Validate())

	clamped := NewQualityScores(1.5, -1, 0.5)
	assert.Equal(t, 1.0, clamped.Completeness)
	assert.Equal(t, 0.0, clamped.Clarity)
	assert.InDelta(t, 0.55, clamped.Overall, 1e-9)

	assert.Error(t, QualityScores{Completeness: 2}.Validate())
}

func TestChunkFresh(t *testing.T) {
	c := Chunk{Index: 1, Text: "two three four", OverlapBytes: 4}
	assert.Equal(t, "three four", c.Fresh())
	require.NoError(t, c.Validate(1))
	assert.Error(t, c.Validate(0))

	bad := Chunk{Index: 0, Text: "abc", OverlapBytes: 3}
	assert.Error(t, bad.Validate(0))

	var sb strings.Builder
	for _, ch := range []Chunk{{Text: "one "}, c} {
		sb.WriteString(ch.Fresh())
	}
	assert.Equal(t, "one three four", sb.String())
}

func TestSearchResultValidate(t *testing.T) {
	r := SearchResult{ChunkID: 1, Rank: 1, Score: 0.5, Content: "x"}
	assert.NoError(t, r.Validate())

	r.Rank = 0
	assert.ErrorIs(t, r.Validate(), ErrInvalidRank)

	r.Rank = 1
	r.Score = 1.2
	assert.ErrorIs(t, r.Validate(), ErrInvalidRelevanceScore)
}
