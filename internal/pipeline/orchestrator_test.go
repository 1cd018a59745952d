package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docrag/internal/chunker"
	"github.com/dshills/docrag/internal/embedder"
	"github.com/dshills/docrag/internal/fingerprint"
	"github.com/dshills/docrag/internal/generator"
	"github.com/dshills/docrag/internal/runstore"
	"github.com/dshills/docrag/internal/storage"
	"github.com/dshills/docrag/pkg/types"
)

func paragraph(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "word" + strings.Repeat("x", i%3)
	}
	return strings.Join(words, " ")
}

func TestSubmit_IndexesFile(t *testing.T) {
	h := newHarness(t)

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	assert.Equal(t, runstore.StateIndexed, run.State)
	assert.Empty(t, run.Reason)
	assert.Equal(t, "go", run.Language)
	require.Len(t, run.Elements, 1)

	el := run.Elements[0]
	assert.Equal(t, "function:greet.Greet", el.Key)
	assert.Equal(t, runstore.StateIndexed, el.State)
	assert.NotZero(t, el.DocumentationID)
	require.NotNil(t, el.Scores)
	assert.False(t, el.LowQuality)

	doc, err := h.db.GetDocumentation(context.Background(), el.DocumentationID)
	require.NoError(t, err)
	assert.Equal(t, "Greet - Function Documentation", doc.Title)
	assert.Equal(t, "scripted-1", doc.GeneratorID)

	chunks, err := h.db.ListChunksByDocumentation(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, el.ChunkCount)

	status := h.status(t, run.ProjectID)
	assert.Equal(t, 1, status.DocumentationCount)
	assert.Equal(t, 1, status.IndexedFilesCount)
	assert.Equal(t, status.ChunksCount, status.EmbeddingsCount)
}

func TestSubmit_Validation(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Submit(context.Background(), SubmitRequest{Path: "a.go"})
	assert.ErrorIs(t, err, ErrInvalidSubmit)
	_, err = h.orch.Submit(context.Background(), SubmitRequest{Project: "demo"})
	assert.ErrorIs(t, err, ErrInvalidSubmit)
}

// A single function whose documentation is one 40-token paragraph is cut
// into ceil(40/16) windows.
func TestSubmit_SingleFunctionChunkCount(t *testing.T) {
	c, err := chunker.New(chunker.WithTargetSize(16), chunker.WithOverlap(0))
	require.NoError(t, err)
	h := newHarness(t, withChunker(c))

	text := paragraph(40)
	h.gen.setScript(func(int, generator.Request) (*generator.Result, error) {
		return &generator.Result{Text: text}, nil
	})

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	require.Equal(t, runstore.StateIndexed, run.State)

	status := h.status(t, run.ProjectID)
	assert.Equal(t, 1, status.DocumentationCount)
	assert.Equal(t, 3, status.ChunksCount)
	assert.Equal(t, 3, run.Elements[0].ChunkCount)
}

func TestSubmit_ResubmitUnchangedIsSkipped(t *testing.T) {
	h := newHarness(t)

	first := h.wait(t, h.submit(t, "greet.go", greetSource))
	require.Equal(t, runstore.StateIndexed, first.State)
	calls := h.gen.Calls()
	batches := h.emb.batches.Load()

	second := h.wait(t, h.submit(t, "greet.go", greetSource))
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, runstore.StateSkipped, second.State)
	assert.Equal(t, ReasonUnchanged, second.Reason)
	assert.Empty(t, second.Elements)

	assert.Equal(t, calls, h.gen.Calls(), "generator must not be called")
	assert.Equal(t, batches, h.emb.batches.Load(), "embedder must not be called")
	assert.Equal(t, int32(1), h.ext.calls.Load(), "extractor must not be called")
	assert.Equal(t, 1, h.status(t, first.ProjectID).DocumentationCount)
}

func TestSubmit_WhitespaceChanges(t *testing.T) {
	h := newHarness(t)

	first := h.wait(t, h.submit(t, "greet.go", greetSource))
	require.Equal(t, runstore.StateIndexed, first.State)
	docID := first.Elements[0].DocumentationID
	calls := h.gen.Calls()

	// Trailing whitespace changes the file fingerprint but not the element
	trailing := greetSource + "\n\n"
	require.NotEqual(t, fingerprint.Of([]byte(greetSource)), fingerprint.Of([]byte(trailing)))

	second := h.wait(t, h.submit(t, "greet.go", trailing))
	assert.Equal(t, runstore.StateIndexed, second.State)
	require.Len(t, second.Elements, 1)
	assert.Equal(t, runstore.StateSkipped, second.Elements[0].State)
	assert.Equal(t, docID, second.Elements[0].DocumentationID)
	assert.Equal(t, calls, h.gen.Calls())

	// Whitespace inside the function changes its source
	inner := strings.Replace(trailing, "\treturn", "\t return", 1)
	third := h.wait(t, h.submit(t, "greet.go", inner))
	assert.Equal(t, runstore.StateIndexed, third.State)
	require.Len(t, third.Elements, 1)
	assert.Equal(t, runstore.StateIndexed, third.Elements[0].State)
	assert.Greater(t, h.gen.Calls(), calls)

	assert.Equal(t, 1, h.status(t, first.ProjectID).DocumentationCount)
}

func TestSubmit_RevertAfterFailedChangeIsReindexed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.wait(t, h.submit(t, "greet.go", greetSource))
	require.Equal(t, runstore.StateIndexed, first.State)

	// The changed content commits its analysis, dropping Greet and its
	// documentation, then fails at generate
	h.gen.setScript(func(int, generator.Request) (*generator.Result, error) {
		return nil, generator.ErrInvalidRequest
	})
	changed := strings.ReplaceAll(greetSource, "Greet", "Welcome")
	second := h.wait(t, h.submit(t, "greet.go", changed))
	require.Equal(t, runstore.StateFailed, second.State)
	require.Equal(t, runstore.StageGenerate, second.FailedStage)
	require.Zero(t, h.status(t, first.ProjectID).DocumentationCount)

	file, err := h.db.GetFile(ctx, first.ProjectID, "greet.go")
	require.NoError(t, err)
	assert.Equal(t, [32]byte{}, file.IndexedHash, "indexed hash must not outlive the content it describes")

	// Going back to the original content is a change, not a skip
	h.gen.setScript(nil)
	calls := h.gen.Calls()
	third := h.wait(t, h.submit(t, "greet.go", greetSource))
	assert.Equal(t, runstore.StateIndexed, third.State)
	assert.Empty(t, third.Reason)
	assert.Greater(t, h.gen.Calls(), calls)
	assert.Equal(t, 1, h.status(t, first.ProjectID).DocumentationCount)

	file, err = h.db.GetFile(ctx, first.ProjectID, "greet.go")
	require.NoError(t, err)
	assert.Contains(t, file.Content, "Hello")
	assert.Equal(t, [32]byte(fingerprint.Of([]byte(greetSource))), file.IndexedHash)
}

func TestMarkFileIndexed_RejectsReplacedContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.wait(t, h.submit(t, "greet.go", greetSource))
	require.Equal(t, runstore.StateIndexed, first.State)
	file, err := h.db.GetFile(ctx, first.ProjectID, "greet.go")
	require.NoError(t, err)

	// A stale fingerprint cannot overwrite the indexed hash of newer content
	stale := fingerprint.Of([]byte("package greet // older"))
	err = h.db.MarkFileIndexed(ctx, file.ID, stale)
	assert.ErrorIs(t, err, storage.ErrContentChanged)

	file, err = h.db.GetFile(ctx, first.ProjectID, "greet.go")
	require.NoError(t, err)
	assert.Equal(t, [32]byte(fingerprint.Of([]byte(greetSource))), file.IndexedHash)
}

func TestSubmit_GenerateRetryCeiling(t *testing.T) {
	h := newHarness(t)
	h.gen.setScript(func(call int, _ generator.Request) (*generator.Result, error) {
		if call <= 3 {
			return nil, generator.ErrRateLimited
		}
		return nil, nil
	})

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	assert.Equal(t, runstore.StateFailed, run.State)
	assert.Equal(t, runstore.StageGenerate, run.FailedStage)
	assert.Equal(t, ReasonRateLimited, run.Reason)
	assert.Equal(t, 3, h.gen.Calls())
	assert.Equal(t, 3, run.Elements[0].Attempts[runstore.StageGenerate])
	assert.Equal(t, 0, h.status(t, run.ProjectID).DocumentationCount)
}

func TestSubmit_PermanentGenerateErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.gen.setScript(func(int, generator.Request) (*generator.Result, error) {
		return nil, generator.ErrInvalidRequest
	})

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	assert.Equal(t, runstore.StateFailed, run.State)
	assert.Equal(t, ReasonInvalidRequest, run.Reason)
	assert.Equal(t, 1, h.gen.Calls())
}

func TestSubmit_ParseErrorFailsAnalysis(t *testing.T) {
	h := newHarness(t)

	run := h.wait(t, h.submit(t, "broken.go", "package broken\n\nfunc {"))
	assert.Equal(t, runstore.StateFailed, run.State)
	assert.Equal(t, runstore.StageAnalyze, run.FailedStage)
	assert.Equal(t, ReasonParseError, run.Reason)
	assert.Zero(t, h.gen.Calls())

	err := h.orch.Retry(context.Background(), run.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestSubmit_CoalescesInFlightDuplicates(t *testing.T) {
	h := newHarness(t)
	h.gen.release = make(chan struct{})

	id1 := h.submit(t, "greet.go", greetSource)
	id2 := h.submit(t, "greet.go", greetSource)
	assert.Equal(t, id1, id2)

	close(h.gen.release)
	run := h.wait(t, id1)
	assert.Equal(t, runstore.StateIndexed, run.State)

	runs, err := h.orch.Runs(context.Background(), runstore.Filter{ProjectName: "demo"})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, 1, h.status(t, run.ProjectID).DocumentationCount)
}

func TestSubmit_MultipleElementsInParallel(t *testing.T) {
	h := newHarness(t)

	run := h.wait(t, h.submit(t, "shapes.go", shapesSource))
	require.Equal(t, runstore.StateIndexed, run.State)
	assert.GreaterOrEqual(t, len(run.Elements), 4)
	for _, el := range run.Elements {
		assert.Equal(t, runstore.StateIndexed, el.State, el.Key)
	}

	status := h.status(t, run.ProjectID)
	assert.Equal(t, len(run.Elements), status.DocumentationCount)
	assert.Equal(t, len(run.Elements), status.ElementsCount)

	// Related elements are passed to the generator
	var sawDependencies bool
	for _, req := range h.gen.Requests() {
		if len(req.Dependencies) > 0 {
			sawDependencies = true
		}
	}
	assert.True(t, sawDependencies)
}

func TestQuality_RegeneratesOnceBelowThreshold(t *testing.T) {
	h := newHarness(t)
	h.gen.setScript(func(call int, req generator.Request) (*generator.Result, error) {
		if call == 1 {
			return &generator.Result{Text: "TODO"}, nil
		}
		return nil, nil
	})

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	require.Equal(t, runstore.StateIndexed, run.State)

	el := run.Elements[0]
	assert.True(t, el.Regenerated)
	assert.False(t, el.LowQuality)
	assert.Equal(t, 2, h.gen.Calls())

	reqs := h.gen.Requests()
	require.Len(t, reqs, 2)
	assert.False(t, reqs[0].Improving())
	assert.True(t, reqs[1].Improving())
	assert.Equal(t, "TODO", reqs[1].Previous)
	require.NotNil(t, reqs[1].PreviousScores)
}

func TestQuality_ForceAcceptsLowQuality(t *testing.T) {
	h := newHarness(t)
	h.gen.setScript(func(int, generator.Request) (*generator.Result, error) {
		return &generator.Result{Text: "TODO"}, nil
	})

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	require.Equal(t, runstore.StateIndexed, run.State)
	assert.True(t, run.Elements[0].LowQuality)
	assert.Equal(t, 2, h.gen.Calls(), "exactly one regeneration")

	doc, err := h.db.GetDocumentation(context.Background(), run.Elements[0].DocumentationID)
	require.NoError(t, err)
	assert.True(t, doc.LowQuality)
	assert.Equal(t, 1, h.status(t, run.ProjectID).LowQualityCount)

	// The forced document is final for this content
	again := h.wait(t, h.submit(t, "greet.go", greetSource))
	assert.Equal(t, runstore.StateSkipped, again.State)
	assert.Equal(t, 2, h.gen.Calls())
}

func TestQuality_RegenerationFailureKeepsFirstDraft(t *testing.T) {
	h := newHarness(t)
	h.gen.setScript(func(call int, _ generator.Request) (*generator.Result, error) {
		if call == 1 {
			return &generator.Result{Text: "TODO"}, nil
		}
		return nil, generator.ErrInvalidRequest
	})

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	require.Equal(t, runstore.StateIndexed, run.State)
	assert.True(t, run.Elements[0].LowQuality)

	doc, err := h.db.GetDocumentation(context.Background(), run.Elements[0].DocumentationID)
	require.NoError(t, err)
	assert.Equal(t, "TODO", doc.Content)
}

func TestQuality_UnassessableFails(t *testing.T) {
	h := newHarness(t)
	h.gen.setScript(func(int, generator.Request) (*generator.Result, error) {
		return &generator.Result{Text: "   "}, nil
	})

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	assert.Equal(t, runstore.StateFailed, run.State)
	assert.Equal(t, runstore.StageQuality, run.FailedStage)
	assert.Equal(t, ReasonUnassessable, run.Reason)
}

func TestEmbed_TransientFailuresRetried(t *testing.T) {
	h := newHarness(t)
	h.emb.failures.Store(2)

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	require.Equal(t, runstore.StateIndexed, run.State)
	assert.Equal(t, 3, run.Elements[0].Attempts[runstore.StageEmbed])
}

func TestEmbed_DimensionUnsupportedIsPermanent(t *testing.T) {
	h := newHarness(t)
	h.emb.err = embedder.ErrDimensionUnsupported
	h.emb.failures.Store(1)

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	assert.Equal(t, runstore.StateFailed, run.State)
	assert.Equal(t, runstore.StageEmbed, run.FailedStage)
	assert.Equal(t, ReasonDimensionUnsupported, run.Reason)
	assert.Equal(t, int32(1), h.emb.batches.Load())
}

func TestCommit_ConsistencyViolationReembeds(t *testing.T) {
	h := newHarness(t)
	h.store.failCommits.Store(1)

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	require.Equal(t, runstore.StateIndexed, run.State)
	assert.Equal(t, 2, run.Elements[0].Attempts[runstore.StageEmbed])

	var backToValidated bool
	for _, tr := range run.History {
		if tr.From == runstore.StateEmbedded && tr.To == runstore.StateValidated && tr.Reason == ReasonConsistency {
			backToValidated = true
		}
	}
	assert.True(t, backToValidated)
	assert.Equal(t, 1, h.status(t, run.ProjectID).DocumentationCount)
}

func TestCommit_PersistentConsistencyViolationFails(t *testing.T) {
	h := newHarness(t)
	h.store.failCommits.Store(10)

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	assert.Equal(t, runstore.StateFailed, run.State)
	assert.Equal(t, runstore.StageEmbed, run.FailedStage)
	assert.Equal(t, ReasonConsistency, run.Reason)
	assert.Equal(t, 3, run.Elements[0].Attempts[runstore.StageEmbed])
	assert.Equal(t, 0, h.status(t, run.ProjectID).DocumentationCount)
}

func TestCancel_DiscardsUncommittedWork(t *testing.T) {
	h := newHarness(t)
	h.gen.started = make(chan struct{}, 1)
	h.gen.release = make(chan struct{})

	id := h.submit(t, "greet.go", greetSource)
	<-h.gen.started
	require.NoError(t, h.orch.Cancel(id))
	close(h.gen.release)

	run := h.wait(t, id)
	assert.Equal(t, runstore.StateFailed, run.State)
	assert.Equal(t, ReasonCancelled, run.Reason)
	assert.Equal(t, 0, h.status(t, run.ProjectID).DocumentationCount)
	assert.Equal(t, 1, h.gen.Calls(), "in-flight call completes but nothing follows")

	assert.ErrorIs(t, h.orch.Cancel("missing"), runstore.ErrNotFound)
}

func TestRetry_ResumesFailedStage(t *testing.T) {
	h := newHarness(t)
	h.gen.setScript(func(call int, _ generator.Request) (*generator.Result, error) {
		if call == 1 {
			return nil, generator.ErrInvalidRequest
		}
		return nil, nil
	})

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	require.Equal(t, runstore.StateFailed, run.State)
	require.Equal(t, runstore.StageGenerate, run.FailedStage)

	require.NoError(t, h.orch.Retry(context.Background(), run.ID))
	retried := h.wait(t, run.ID)
	assert.Equal(t, runstore.StateIndexed, retried.State)
	assert.Equal(t, 1, retried.Retries)
	assert.Equal(t, int32(1), h.ext.calls.Load(), "analysis is not repeated")
	assert.Equal(t, 1, h.status(t, run.ProjectID).DocumentationCount)

	err := h.orch.Retry(context.Background(), run.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestRetry_EmbedFailureKeepsDocumentation(t *testing.T) {
	h := newHarness(t)
	h.emb.err = embedder.ErrDimensionUnsupported
	h.emb.failures.Store(1)

	run := h.wait(t, h.submit(t, "greet.go", greetSource))
	require.Equal(t, runstore.StageEmbed, run.FailedStage)
	calls := h.gen.Calls()

	require.NoError(t, h.orch.Retry(context.Background(), run.ID))
	retried := h.wait(t, run.ID)
	assert.Equal(t, runstore.StateIndexed, retried.State)
	assert.Equal(t, calls, h.gen.Calls(), "generation is not repeated")
}

func TestRetry_StaleContent(t *testing.T) {
	h := newHarness(t)
	h.gen.setScript(func(call int, _ generator.Request) (*generator.Result, error) {
		if call == 1 {
			return nil, generator.ErrInvalidRequest
		}
		return nil, nil
	})

	failed := h.wait(t, h.submit(t, "greet.go", greetSource))
	require.Equal(t, runstore.StateFailed, failed.State)

	changed := strings.Replace(greetSource, "Hello", "Hi", 1)
	require.Equal(t, runstore.StateIndexed, h.wait(t, h.submit(t, "greet.go", changed)).State)

	err := h.orch.Retry(context.Background(), failed.ID)
	assert.ErrorIs(t, err, ErrStaleRun)
}

func TestOnCommit_CalledPerCommit(t *testing.T) {
	h := newHarness(t)
	var commits atomic.Int32
	h.orch.OnCommit(func() { commits.Add(1) })

	run := h.wait(t, h.submit(t, "shapes.go", shapesSource))
	require.Equal(t, runstore.StateIndexed, run.State)
	assert.Equal(t, int32(len(run.Elements)), commits.Load())
}

func TestDocumentProject(t *testing.T) {
	h := newHarness(t)
	run := h.wait(t, h.submit(t, "shapes.go", shapesSource))
	require.Equal(t, runstore.StateIndexed, run.State)

	doc, err := h.orch.DocumentProject(context.Background(), "demo")
	require.NoError(t, err)
	require.NotNil(t, doc.ProjectID)
	assert.Nil(t, doc.ElementID)
	assert.Equal(t, string(types.DocOverview), doc.DocType)
	assert.Equal(t, "demo - Project Overview", doc.Title)
	assert.Contains(t, doc.Content, "shapes.Total")

	// Replaces rather than duplicates
	_, err = h.orch.DocumentProject(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, len(run.Elements)+1, h.status(t, run.ProjectID).DocumentationCount)

	_, err = h.orch.DocumentProject(context.Background(), "missing")
	assert.Error(t, err)
}

func TestClose_RejectsSubmissions(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.Close())

	_, err := h.orch.Submit(context.Background(), SubmitRequest{Project: "demo", Path: "a.go", Content: []byte("x")})
	assert.True(t, errors.Is(err, ErrClosed))
}
