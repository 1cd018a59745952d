package pipeline

import (
	"context"
	"errors"

	"github.com/dshills/docrag/internal/embedder"
	"github.com/dshills/docrag/internal/fingerprint"
	"github.com/dshills/docrag/internal/generator"
	"github.com/dshills/docrag/internal/runstore"
	"github.com/dshills/docrag/internal/storage"
	"github.com/dshills/docrag/pkg/types"
)

// generateStage moves an analyzed element to documented
func (o *Orchestrator) generateStage(ctx context.Context, rs *runState, ec *execContext, el *runstore.Element) {
	req := o.request(ctx, ec, el)
	res, err := o.generate(ctx, req, o.countAttempt(rs, el, runstore.StageGenerate))
	if err != nil {
		o.fail(ctx, rs, el, runstore.StageGenerate, reasonFor(err), err)
		return
	}

	o.transition(ctx, rs, el, runstore.StateDocumented, runstore.StageGenerate, el.Attempts[runstore.StageGenerate], "",
		func(el *runstore.Element) {
			el.Text = res.Text
			el.GeneratorID = res.GeneratorID
			el.Scores = nil
			el.Regenerated = false
			el.LowQuality = false
		})
}

// generate calls the generator, retrying transient failures with backoff.
// onAttempt is called before every attempt.
func (o *Orchestrator) generate(ctx context.Context, req generator.Request, onAttempt func(int)) (*generator.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.GenerateAttempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, o.cfg.Backoff.Delay(attempt-1)); err != nil {
				return nil, err
			}
		}
		if onAttempt != nil {
			onAttempt(attempt)
		}

		var res *generator.Result
		err := o.call(ctx, func(callCtx context.Context) error {
			var err error
			res, err = o.generator.Generate(callCtx, req)
			return err
		})
		if err == nil {
			if res.GeneratorID == "" {
				res.GeneratorID = o.generator.ID()
			}
			return res, nil
		}

		lastErr = err
		o.logger.Debug("generation attempt failed", "attempt", attempt, "error", err)
		if !o.retryable(ctx, err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// countAttempt returns an attempt hook that counts on el
func (o *Orchestrator) countAttempt(rs *runState, el *runstore.Element, stage runstore.Stage) func(int) {
	return func(int) {
		rs.do(func() { el.Attempts[stage]++ })
	}
}

// draft is one generated text with its assessment
type draft struct {
	text        string
	generatorID string
	scores      types.QualityScores
}

// validateStage runs the quality gate. A rejected draft is regenerated once
// with the scores as feedback; the better of the two drafts is kept and
// flagged low quality if it still falls short.
func (o *Orchestrator) validateStage(ctx context.Context, rs *runState, ec *execContext, el *runstore.Element) {
	desc := el.Descriptor
	rs.do(func() { el.Attempts[runstore.StageQuality]++ })

	scores, err := o.gate.Assess(el.Text, &desc)
	if err != nil {
		o.fail(ctx, rs, el, runstore.StageQuality, reasonFor(err), err)
		return
	}
	if o.gate.Accept(scores) {
		o.accept(ctx, rs, el, draft{text: el.Text, generatorID: el.GeneratorID, scores: scores}, false)
		return
	}

	first := draft{text: el.Text, generatorID: el.GeneratorID, scores: scores}
	if el.Regenerated {
		o.accept(ctx, rs, el, first, true)
		return
	}

	ec.log.Info("documentation below threshold, regenerating",
		"element", el.Key, "overall", scores.Overall, "threshold", o.gate.Threshold)
	o.transition(ctx, rs, el, runstore.StateDocumented, runstore.StageQuality, el.Attempts[runstore.StageQuality], "below_threshold",
		func(el *runstore.Element) {
			el.Regenerated = true
			el.Scores = &first.scores
		})

	req := o.request(ctx, ec, el)
	req.Previous = first.text
	req.PreviousScores = &first.scores

	res, err := o.generate(ctx, req, o.countAttempt(rs, el, runstore.StageGenerate))
	if err != nil {
		if class, _ := classify(err); class == classCancelled {
			o.fail(ctx, rs, el, runstore.StageGenerate, ReasonCancelled, err)
			return
		}
		ec.log.Warn("regeneration failed, keeping first draft", "element", el.Key, "error", err)
		o.accept(ctx, rs, el, first, true)
		return
	}

	second := draft{text: res.Text, generatorID: res.GeneratorID}
	second.scores, err = o.gate.Assess(second.text, &desc)
	if err != nil {
		ec.log.Warn("regenerated documentation unassessable, keeping first draft", "element", el.Key, "error", err)
		o.accept(ctx, rs, el, first, true)
		return
	}

	best := second
	if first.scores.Overall > second.scores.Overall {
		best = first
	}
	o.accept(ctx, rs, el, best, !o.gate.Accept(best.scores))
}

// accept moves el to validated with the chosen draft
func (o *Orchestrator) accept(ctx context.Context, rs *runState, el *runstore.Element, d draft, lowQuality bool) {
	reason := ""
	if lowQuality {
		reason = "low_quality"
	}
	o.transition(ctx, rs, el, runstore.StateValidated, runstore.StageQuality, el.Attempts[runstore.StageQuality], reason,
		func(el *runstore.Element) {
			el.Text = d.text
			el.GeneratorID = d.generatorID
			el.Scores = &d.scores
			el.LowQuality = lowQuality
		})
}

// embedStage chunks and embeds the validated text, then commits the
// documentation with its chunks. A consistency violation on commit sends
// the element back to validated for another embedding attempt.
func (o *Orchestrator) embedStage(ctx context.Context, rs *runState, ec *execContext, el *runstore.Element) {
	if el.State == runstore.StateEmbedded {
		// Vectors are not retained across runs
		o.transition(ctx, rs, el, runstore.StateValidated, runstore.StageEmbed, el.Attempts[runstore.StageEmbed], "reembed", nil)
	}
	if el.Scores == nil {
		o.fail(ctx, rs, el, runstore.StageEmbed, ReasonInternal, errors.New("validated element has no scores"))
		return
	}

	pieces := o.chunker.Chunk(el.Text)
	if len(pieces) == 0 {
		o.fail(ctx, rs, el, runstore.StageEmbed, ReasonEmptyDocument, errors.New("documentation produced no chunks"))
		return
	}
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}

	for {
		if err := ctx.Err(); err != nil {
			o.fail(ctx, rs, el, runstore.StageEmbed, ReasonCancelled, err)
			return
		}

		var attempt int
		rs.do(func() {
			el.Attempts[runstore.StageEmbed]++
			attempt = el.Attempts[runstore.StageEmbed]
		})

		var vectors [][]float32
		err := o.call(ctx, func(callCtx context.Context) error {
			var err error
			vectors, err = embedder.EmbedAll(callCtx, o.embedder, texts)
			return err
		})
		if err != nil {
			if o.retryable(ctx, err) && attempt < o.cfg.EmbedAttempts {
				ec.log.Debug("embedding attempt failed", "element", el.Key, "attempt", attempt, "error", err)
				if werr := wait(ctx, o.cfg.Backoff.Delay(attempt)); werr != nil {
					o.fail(ctx, rs, el, runstore.StageEmbed, ReasonCancelled, werr)
					return
				}
				continue
			}
			o.fail(ctx, rs, el, runstore.StageEmbed, reasonFor(err), err)
			return
		}

		o.transition(ctx, rs, el, runstore.StateEmbedded, runstore.StageEmbed, attempt, "", func(el *runstore.Element) {
			el.ChunkCount = len(pieces)
		})

		// Cancellation before commit discards the vectors
		if err := ctx.Err(); err != nil {
			o.fail(ctx, rs, el, runstore.StageIndex, ReasonCancelled, err)
			return
		}

		doc := o.documentation(ec, el)
		chunks := o.storageChunks(pieces, vectors)
		err = o.store.CommitDocumentation(context.WithoutCancel(ctx), doc, chunks)
		switch {
		case err == nil:
			o.transition(ctx, rs, el, runstore.StateIndexed, runstore.StageIndex, attempt, "", func(el *runstore.Element) {
				el.DocumentationID = doc.ID
			})
			o.notifyCommit()
			return

		case errors.Is(err, storage.ErrConsistency):
			ec.log.Warn("commit rejected, re-embedding", "element", el.Key, "attempt", attempt, "error", err)
			if attempt >= o.cfg.EmbedAttempts {
				o.fail(ctx, rs, el, runstore.StageEmbed, ReasonConsistency, err)
				return
			}
			o.transition(ctx, rs, el, runstore.StateValidated, runstore.StageIndex, attempt, ReasonConsistency, nil)

		default:
			reason := reasonFor(err)
			if reason == ReasonInternal {
				reason = ReasonStorage
			}
			o.fail(ctx, rs, el, runstore.StageIndex, reason, err)
			return
		}
	}
}

// request builds the generation request for el
func (o *Orchestrator) request(ctx context.Context, ec *execContext, el *runstore.Element) generator.Request {
	desc := el.Descriptor
	req := generator.Request{
		Element:     &desc,
		FilePath:    ec.filePath,
		Language:    ec.language,
		ProjectName: ec.project.Name,
		DocType:     o.cfg.DocType,
		Style:       ec.style,
	}

	if el.ElementID != 0 {
		related, err := o.store.ListRelated(ctx, el.ElementID, o.cfg.RelatedLimit)
		if err != nil {
			ec.log.Debug("failed to load related elements", "element", el.Key, "error", err)
		}
		for _, r := range related {
			req.Dependencies = append(req.Dependencies, r.QualifiedName)
		}
	}
	return req
}

// documentation builds the record committed for el
func (o *Orchestrator) documentation(ec *execContext, el *runstore.Element) *storage.Documentation {
	elementID := el.ElementID
	desc := el.Descriptor
	return &storage.Documentation{
		ElementID:   &elementID,
		DocType:     string(o.cfg.DocType),
		Title:       generator.Title(&desc, ec.project.Name),
		Content:     el.Text,
		GeneratorID: el.GeneratorID,
		Quality:     *el.Scores,
		LowQuality:  el.LowQuality,
		GateVersion: o.gate.Version,
		SourceHash:  fingerprint.OfString(desc.Source),
		Fingerprint: ec.fp,
	}
}

func (o *Orchestrator) storageChunks(pieces []types.Chunk, vectors [][]float32) []*storage.Chunk {
	chunks := make([]*storage.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &storage.Chunk{
			ChunkIndex:    p.Index,
			Content:       p.Text,
			Role:          string(p.Role),
			TokenCount:    p.TokenCount,
			CharCount:     p.CharCount,
			OverlapTokens: p.OverlapTokens,
			OverlapBytes:  p.OverlapBytes,
			Vector:        vectors[i],
			Model:         o.embedder.Model(),
		}
	}
	return chunks
}
