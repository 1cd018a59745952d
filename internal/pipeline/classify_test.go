package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docrag/internal/embedder"
	"github.com/dshills/docrag/internal/extractor"
	"github.com/dshills/docrag/internal/generator"
	"github.com/dshills/docrag/internal/quality"
	"github.com/dshills/docrag/internal/runstore"
	"github.com/dshills/docrag/internal/storage"
	"github.com/dshills/docrag/pkg/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		class  errorClass
		reason string
	}{
		{"cancelled", context.Canceled, classCancelled, ReasonCancelled},
		{"deadline", context.DeadlineExceeded, classTransient, ReasonTimeout},
		{"generator rate limit", fmt.Errorf("call: %w", generator.ErrRateLimited), classTransient, ReasonRateLimited},
		{"embedder rate limit", embedder.ErrRateLimited, classTransient, ReasonRateLimited},
		{"generator timeout", generator.ErrTimeout, classTransient, ReasonTimeout},
		{"provider failed", embedder.ErrProviderFailed, classTransient, ReasonProviderFailed},
		{"parse error", &extractor.ParseError{Path: "a.go", Msg: "bad"}, classPermanent, ReasonParseError},
		{"invalid request", generator.ErrInvalidRequest, classPermanent, ReasonInvalidRequest},
		{"dimension unsupported", embedder.ErrDimensionUnsupported, classPermanent, ReasonDimensionUnsupported},
		{"dimension mismatch", storage.ErrDimensionMismatch, classPermanent, ReasonDimensionMismatch},
		{"consistency", fmt.Errorf("commit: %w", storage.ErrConsistency), classConsistency, ReasonConsistency},
		{"unassessable", quality.ErrUnassessable, classPermanent, ReasonUnassessable},
		{"unknown", errors.New("boom"), classPermanent, ReasonInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, reason := classify(tt.err)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestBackoff_CeilingGrowsAndCaps(t *testing.T) {
	b := BackoffConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, b.ceiling(1))
	assert.Equal(t, 200*time.Millisecond, b.ceiling(2))
	assert.Equal(t, 400*time.Millisecond, b.ceiling(3))
	assert.Equal(t, time.Second, b.ceiling(5))
	assert.Equal(t, time.Second, b.ceiling(50))
}

func TestBackoff_DelayWithinCeiling(t *testing.T) {
	b := DefaultBackoff()
	for attempt := 1; attempt <= 6; attempt++ {
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, b.ceiling(attempt))
		}
	}
	assert.Zero(t, BackoffConfig{}.Delay(1))
}

func TestWait_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, wait(ctx, time.Hour), context.Canceled)
	require.NoError(t, wait(context.Background(), time.Millisecond))
}

func TestResumeState(t *testing.T) {
	el := &runstore.Element{FailedStage: runstore.StageEmbed, Text: "doc"}
	assert.Equal(t, runstore.StateAnalyzed, resumeState(el), "no scores means regenerate")

	scores := types.NewQualityScores(1, 1, 1)
	el.Scores = &scores
	assert.Equal(t, runstore.StateValidated, resumeState(el))

	el.FailedStage = runstore.StageIndex
	assert.Equal(t, runstore.StateValidated, resumeState(el))

	el.FailedStage = runstore.StageQuality
	assert.Equal(t, runstore.StateAnalyzed, resumeState(el))

	el.FailedStage = runstore.StageAnalyze
	assert.Equal(t, runstore.StateFailed, resumeState(el))
}
