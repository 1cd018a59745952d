package quality

import (
	"testing"

	"github.com/dshills/docrag/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func greetElement() *types.CodeElement {
	return &types.CodeElement{
		Kind:          types.KindFunction,
		Name:          "Greet",
		QualifiedName: "hello.Greet",
		Signature:     "func Greet(name string) string",
		Parameters:    []types.Parameter{{Name: "name", Type: "string"}},
		ReturnType:    "string",
		StartLine:     3,
		EndLine:       5,
	}
}

const goodDoc = "# Greet - Function Documentation\n\n" +
	"`func Greet(name string) string` builds a greeting for the given person.\n\n" +
	"## Parameters\n\n" +
	"The name parameter is the person to greet. It should not be empty.\n\n" +
	"## Returns\n\n" +
	"It returns the greeting text with the name appended to a fixed prefix.\n\n" +
	"## Example\n\n" +
	"```go\nmsg := Greet(\"Ada\")\n```\n"

func TestAssess_GoodDocumentation(t *testing.T) {
	g := New(DefaultThreshold)
	scores, err := g.Assess(goodDoc, greetElement())
	require.NoError(t, err)

	require.NoError(t, scores.Validate())
	assert.InDelta(t, 1.0, scores.Completeness, 1e-9)
	assert.InDelta(t, 1.0, scores.Accuracy, 1e-9)
	assert.True(t, g.Accept(scores), "overall=%v", scores.Overall)
}

func TestAssess_PoorDocumentation(t *testing.T) {
	g := New(DefaultThreshold)
	scores, err := g.Assess("TODO", greetElement())
	require.NoError(t, err)

	assert.Less(t, scores.Overall, DefaultThreshold)
	assert.False(t, g.Accept(scores))
}

func TestAssess_Empty(t *testing.T) {
	g := New(DefaultThreshold)
	_, err := g.Assess("  \n\t", greetElement())
	assert.ErrorIs(t, err, ErrUnassessable)
}

func TestAssess_Reproducible(t *testing.T) {
	g := New(DefaultThreshold)
	elem := greetElement()

	first, err := g.Assess(goodDoc, elem)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := New(DefaultThreshold).Assess(goodDoc, elem)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAssess_OverallIsWeightedSum(t *testing.T) {
	scores, err := New(0.5).Assess("Greet says hello to name.", greetElement())
	require.NoError(t, err)

	want := 0.4*scores.Completeness + 0.3*scores.Clarity + 0.3*scores.Accuracy
	assert.InDelta(t, want, scores.Overall, 1e-12)
}

func TestAssess_ParameterCoverage(t *testing.T) {
	elem := greetElement()
	elem.Parameters = append(elem.Parameters, types.Parameter{Name: "locale"})

	partial, err := New(0.5).Assess(goodDoc, elem)
	require.NoError(t, err)
	full, err := New(0.5).Assess(goodDoc+"\nThe locale selects the language.\n", elem)
	require.NoError(t, err)

	assert.Less(t, partial.Completeness, full.Completeness)
}

func TestAssess_NilElement(t *testing.T) {
	scores, err := New(0.5).Assess("A module with helpers. It has several parts.", nil)
	require.NoError(t, err)
	assert.NoError(t, scores.Validate())
}

func TestAccept_Threshold(t *testing.T) {
	g := New(0.7)
	assert.True(t, g.Accept(types.QualityScores{Overall: 0.7}))
	assert.False(t, g.Accept(types.QualityScores{Overall: 0.69}))
	assert.Equal(t, Version, g.Version)
}
