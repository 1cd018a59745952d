package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/docrag/pkg/types"
)

// Common errors
var (
	// ErrRateLimited is returned when the backend throttles requests. Retryable.
	ErrRateLimited = errors.New("generator rate limited")
	// ErrTimeout is returned when a single generation call runs out of time. Retryable.
	ErrTimeout = errors.New("generator timed out")
	// ErrProviderFailed is returned for server-side failures. Retryable.
	ErrProviderFailed = errors.New("generator provider failed")
	// ErrInvalidRequest is returned for requests the backend refuses. Not retryable.
	ErrInvalidRequest = errors.New("invalid generation request")
	// ErrUnknownProvider is returned by New for an unrecognized provider name
	ErrUnknownProvider = errors.New("unknown generator provider")
)

// IsRetryable reports whether err is a transient generation failure
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrProviderFailed)
}

// Request describes one documentation generation call.
// A nil Element requests project-level overview documentation.
type Request struct {
	Element      *types.CodeElement
	FilePath     string
	Language     string
	ProjectName  string
	DocType      types.DocType
	Style        types.DocStyle
	Dependencies []string // Qualified names of related elements

	// Set on the regeneration attempt after a rejected quality assessment
	Previous       string
	PreviousScores *types.QualityScores
}

// Improving reports whether the request asks to rework earlier output
func (r *Request) Improving() bool {
	return r.Previous != ""
}

// Validate checks the request has enough to describe
func (r *Request) Validate() error {
	if r.Element == nil && r.ProjectName == "" {
		return fmt.Errorf("%w: element or project name required", ErrInvalidRequest)
	}
	if r.Element != nil && r.Element.Name == "" {
		return fmt.Errorf("%w: element name required", ErrInvalidRequest)
	}
	if r.DocType != "" && !r.DocType.Valid() {
		return fmt.Errorf("%w: doc type %q", ErrInvalidRequest, r.DocType)
	}
	if r.Style != "" && !r.Style.Valid() {
		return fmt.Errorf("%w: style %q", ErrInvalidRequest, r.Style)
	}
	return nil
}

// Result is the generated documentation
type Result struct {
	Text        string
	GeneratorID string
}

// Generator produces documentation text for a code element
type Generator interface {
	// Generate returns documentation for req. Errors wrap the package
	// sentinels so callers can tell transient failures from permanent ones.
	Generate(ctx context.Context, req Request) (*Result, error)

	// ID identifies the backend and model recorded on documentation
	ID() string
}
