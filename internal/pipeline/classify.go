package pipeline

import (
	"context"
	"errors"

	"github.com/dshills/docrag/internal/embedder"
	"github.com/dshills/docrag/internal/extractor"
	"github.com/dshills/docrag/internal/generator"
	"github.com/dshills/docrag/internal/quality"
	"github.com/dshills/docrag/internal/storage"
)

// errorClass is the orchestrator's view of a stage error
type errorClass int

const (
	classPermanent errorClass = iota
	classTransient
	classCancelled
	classConsistency
)

// Reason codes recorded on failed runs and elements
const (
	ReasonCancelled            = "cancelled"
	ReasonRateLimited          = "rate_limited"
	ReasonTimeout              = "timeout"
	ReasonProviderFailed       = "provider_failed"
	ReasonParseError           = "parse_error"
	ReasonInvalidRequest       = "invalid_request"
	ReasonDimensionUnsupported = "dimension_unsupported"
	ReasonDimensionMismatch    = "dimension_mismatch"
	ReasonConsistency          = "consistency_violation"
	ReasonUnassessable         = "unassessable"
	ReasonInvalidSpan          = "invalid_span"
	ReasonEmptyDocument        = "empty_document"
	ReasonStorage              = "storage_error"
	ReasonInternal             = "internal_error"
	ReasonPanic                = "panic"
	ReasonUnchanged            = "unchanged"
	ReasonSuperseded           = "superseded"
)

// classify maps err onto the error taxonomy and a reason code
func classify(err error) (errorClass, string) {
	var parseErr *extractor.ParseError
	switch {
	case errors.Is(err, context.Canceled):
		return classCancelled, ReasonCancelled
	case errors.Is(err, storage.ErrConsistency):
		return classConsistency, ReasonConsistency
	case errors.Is(err, generator.ErrRateLimited), errors.Is(err, embedder.ErrRateLimited):
		return classTransient, ReasonRateLimited
	case errors.Is(err, generator.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return classTransient, ReasonTimeout
	case errors.Is(err, generator.ErrProviderFailed), errors.Is(err, embedder.ErrProviderFailed):
		return classTransient, ReasonProviderFailed
	case errors.As(err, &parseErr):
		return classPermanent, ReasonParseError
	case errors.Is(err, generator.ErrInvalidRequest), errors.Is(err, embedder.ErrInvalidInput):
		return classPermanent, ReasonInvalidRequest
	case errors.Is(err, embedder.ErrDimensionUnsupported):
		return classPermanent, ReasonDimensionUnsupported
	case errors.Is(err, storage.ErrDimensionMismatch):
		return classPermanent, ReasonDimensionMismatch
	case errors.Is(err, quality.ErrUnassessable):
		return classPermanent, ReasonUnassessable
	default:
		return classPermanent, ReasonInternal
	}
}

// reasonFor returns the reason code for err
func reasonFor(err error) string {
	_, reason := classify(err)
	return reason
}
