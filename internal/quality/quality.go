// Package quality scores generated documentation against the element it describes.
//
// Scores are pure heuristics over the text and the element descriptor, so the
// same input and gate version always produce the same scores.
package quality

import (
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/dshills/docrag/pkg/types"
)

const (
	// Version identifies the scoring heuristics. Bump it whenever scoring changes.
	Version = "heuristic-1"

	// DefaultThreshold is the minimum overall score accepted without regeneration
	DefaultThreshold = 0.6
)

// ErrUnassessable is returned for text the gate cannot score
var ErrUnassessable = errors.New("documentation text is empty")

// Gate scores documentation and decides acceptance
type Gate struct {
	Version   string
	Threshold float64
}

// New creates a gate with the given acceptance threshold
func New(threshold float64) *Gate {
	return &Gate{Version: Version, Threshold: threshold}
}

// Accept reports whether scores meet the threshold
func (g *Gate) Accept(scores types.QualityScores) bool {
	return scores.Overall >= g.Threshold
}

// Assess scores text as documentation of elem
func (g *Gate) Assess(text string, elem *types.CodeElement) (types.QualityScores, error) {
	if strings.TrimSpace(text) == "" {
		return types.QualityScores{}, ErrUnassessable
	}
	if elem == nil {
		elem = &types.CodeElement{}
	}

	lower := strings.ToLower(text)
	return types.NewQualityScores(
		completeness(text, lower, elem),
		clarity(text),
		accuracy(text, lower, elem),
	), nil
}

var (
	sentenceEnd   = regexp.MustCompile(`[.!?](\s|$)`)
	headingLine   = regexp.MustCompile(`(?m)^#{1,6}\s`)
	placeholderRe = regexp.MustCompile(`(?i)\b(todo|tbd|fixme|lorem ipsum)\b|\.\.\.\s*$`)
)

// completeness rewards coverage of the element's name, parameters, return
// value and, for callables and classes, an example.
func completeness(text, lower string, elem *types.CodeElement) float64 {
	score := 0.0

	if elem.Name == "" || strings.Contains(text, elem.Name) {
		score += 0.25
	}

	if len(elem.Parameters) == 0 {
		score += 0.35
	} else {
		covered := 0
		for _, p := range elem.Parameters {
			if p.Name != "" && strings.Contains(text, p.Name) {
				covered++
			}
		}
		score += 0.35 * float64(covered) / float64(len(elem.Parameters))
	}

	if !returnsValue(elem) || strings.Contains(lower, "return") {
		score += 0.2
	}

	if !wantsExample(elem) || strings.Contains(text, "```") || strings.Contains(lower, "example") {
		score += 0.2
	}

	return score
}

// clarity rewards moderate sentence length, visible structure and enough
// prose to be useful.
func clarity(text string) float64 {
	wordCount := len(strings.Fields(text))
	sentences := len(sentenceEnd.FindAllStringIndex(text, -1))
	if sentences == 0 {
		sentences = 1
	}

	avg := float64(wordCount) / float64(sentences)
	var sentenceScore float64
	switch {
	case avg >= 8 && avg <= 25:
		sentenceScore = 1
	case avg < 8:
		sentenceScore = avg / 8
	default:
		sentenceScore = math.Max(0, 1-(avg-25)/25)
	}

	structure := 0.0
	if headingLine.MatchString(text) {
		structure += 0.5
	}
	if strings.Contains(text, "\n\n") {
		structure += 0.5
	}

	length := math.Min(1, float64(wordCount)/40)

	return 0.6*sentenceScore + 0.2*structure + 0.2*length
}

// accuracy rewards agreement with the descriptor and penalizes placeholders
func accuracy(text, lower string, elem *types.CodeElement) float64 {
	score := 0.0

	switch {
	case elem.Signature != "" && strings.Contains(text, elem.Signature):
		score += 0.4
	case elem.Name != "" && strings.Contains(text, elem.Name):
		score += 0.3
	case elem.Name == "":
		score += 0.4
	}

	if !placeholderRe.MatchString(text) {
		score += 0.3
	}

	flags := 0.3
	if elem.IsAsync && !containsAny(lower, "async", "asynchron", "concurren", "goroutine") {
		flags -= 0.1
	}
	if elem.IsStatic && !containsAny(lower, "static", "class method", "package-level") {
		flags -= 0.1
	}
	if elem.IsAbstract && !containsAny(lower, "abstract", "interface", "implement") {
		flags -= 0.1
	}
	score += flags

	if elem.ReturnType == "" && !returnsValue(elem) && strings.Contains(lower, "returns a") && elem.Kind != types.KindClass {
		score -= 0.1
	}

	return math.Max(0, score)
}

func returnsValue(elem *types.CodeElement) bool {
	switch elem.ReturnType {
	case "", "None", "void", "()":
		return false
	default:
		return true
	}
}

func wantsExample(elem *types.CodeElement) bool {
	switch elem.Kind {
	case types.KindFunction, types.KindMethod, types.KindClass:
		return true
	default:
		return false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
