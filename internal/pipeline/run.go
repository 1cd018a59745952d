package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/docrag/internal/extractor"
	"github.com/dshills/docrag/internal/fingerprint"
	"github.com/dshills/docrag/internal/runstore"
	"github.com/dshills/docrag/internal/storage"
	"github.com/dshills/docrag/pkg/types"
)

// runState guards one run record. Element goroutines mutate their element
// only through it so the record can be persisted at any transition.
type runState struct {
	mu  sync.Mutex
	run *runstore.Run
}

func (rs *runState) do(fn func()) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	fn()
}

// execContext is what element stages need to know about their run
type execContext struct {
	project  *storage.Project
	fileID   int64
	filePath string
	language string
	style    types.DocStyle
	fp       fingerprint.Fingerprint
	log      *slog.Logger
}

// execute runs a freshly submitted file from pending to a terminal state
func (o *Orchestrator) execute(ctx context.Context, rs *runState, content []byte, fp fingerprint.Fingerprint) {
	run := rs.run
	log := o.logger.With("run_id", run.ID, "project", run.ProjectName, "path", run.FilePath)

	if ctx.Err() != nil {
		o.finish(ctx, rs, runstore.StateFailed, runstore.StageAnalyze, ReasonCancelled)
		return
	}

	project, err := o.getOrCreateProject(ctx, run.ProjectName)
	if err != nil {
		log.Error("failed to load project", "error", err)
		o.finish(ctx, rs, runstore.StateFailed, runstore.StageAnalyze, ReasonStorage)
		return
	}
	rs.do(func() { run.ProjectID = project.ID })

	existing, err := o.store.GetFile(ctx, project.ID, run.FilePath)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		existing = nil
	case err != nil:
		log.Error("failed to load file", "error", err)
		o.finish(ctx, rs, runstore.StateFailed, runstore.StageAnalyze, ReasonStorage)
		return
	}

	// Unchanged since the last fully indexed pass: nothing to do but note the check
	if existing != nil && fingerprint.Fingerprint(existing.ContentHash) == fp &&
		fingerprint.Fingerprint(existing.IndexedHash) == fp {
		if err := o.store.TouchFile(context.WithoutCancel(ctx), existing.ID, time.Now()); err != nil {
			log.Warn("failed to touch file", "error", err)
		}
		rs.do(func() { run.FileID = existing.ID })
		o.finish(ctx, rs, runstore.StateSkipped, "", ReasonUnchanged)
		return
	}

	var result *types.ExtractResult
	err = o.call(ctx, func(callCtx context.Context) error {
		var err error
		result, err = o.extractors.Extract(callCtx, run.FilePath, content)
		return err
	})
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		log.Warn("analysis failed", "error", err)
		o.finish(ctx, rs, runstore.StateFailed, runstore.StageAnalyze, reasonFor(err))
		return
	}

	if project.Language == "" && result.Language != "" {
		project.Language = result.Language
		if err := o.store.UpdateProject(ctx, project); err != nil {
			log.Warn("failed to record project language", "error", err)
		}
	}

	analyzed, fileID, err := o.persistAnalysis(ctx, project.ID, run.FilePath, content, fp, result)
	if err != nil {
		log.Error("failed to persist analysis", "error", err)
		o.finish(ctx, rs, runstore.StateFailed, runstore.StageAnalyze, reasonFor(err))
		return
	}

	ec := &execContext{
		project:  project,
		fileID:   fileID,
		filePath: run.FilePath,
		language: result.Language,
		style:    o.styleOf(project),
		fp:       fp,
		log:      log,
	}

	rs.do(func() {
		run.FileID = fileID
		run.Language = result.Language
		for _, a := range analyzed {
			run.Elements = append(run.Elements, a.el)
		}
	})

	for _, a := range analyzed {
		switch {
		case a.invalid != nil:
			o.fail(ctx, rs, a.el, runstore.StageAnalyze, ReasonInvalidSpan, a.invalid)
		case a.existingDoc != nil:
			docID := a.existingDoc.ID
			o.transition(ctx, rs, a.el, runstore.StateSkipped, "", 0, ReasonUnchanged, func(el *runstore.Element) {
				el.DocumentationID = docID
			})
		default:
			o.transition(ctx, rs, a.el, runstore.StateAnalyzed, runstore.StageAnalyze, 0, "", nil)
		}
	}

	o.processElements(ctx, rs, ec)
	o.finalize(ctx, rs, ec)
}

// resume continues a retried run from the retained element states
func (o *Orchestrator) resume(ctx context.Context, rs *runState, fp fingerprint.Fingerprint) {
	run := rs.run
	log := o.logger.With("run_id", run.ID, "project", run.ProjectName, "path", run.FilePath)

	project, err := o.store.GetProjectByID(ctx, run.ProjectID)
	if err != nil {
		log.Error("failed to load project", "error", err)
		o.finish(ctx, rs, runstore.StateFailed, runstore.StageAnalyze, ReasonStorage)
		return
	}

	ec := &execContext{
		project:  project,
		fileID:   run.FileID,
		filePath: run.FilePath,
		language: run.Language,
		style:    o.styleOf(project),
		fp:       fp,
		log:      log,
	}
	o.processElements(ctx, rs, ec)
	o.finalize(ctx, rs, ec)
}

// processElements advances every non-terminal element in parallel
func (o *Orchestrator) processElements(ctx context.Context, rs *runState, ec *execContext) {
	var g errgroup.Group
	g.SetLimit(o.cfg.ElementConcurrency)

	for _, el := range rs.run.Elements {
		if el.State.Terminal() {
			continue
		}
		rs.do(func() {
			if el.Attempts == nil {
				el.Attempts = make(map[runstore.Stage]int)
			}
		})
		g.Go(func() error {
			o.processElement(ctx, rs, ec, el)
			return nil
		})
	}
	_ = g.Wait()
}

// processElement steps one element through the state machine until it is
// terminal. Cancellation is checked before every step.
func (o *Orchestrator) processElement(ctx context.Context, rs *runState, ec *execContext, el *runstore.Element) {
	for !el.State.Terminal() {
		if err := ctx.Err(); err != nil {
			o.fail(ctx, rs, el, stageOf(el.State), ReasonCancelled, err)
			return
		}

		switch el.State {
		case runstore.StatePending, runstore.StateAnalyzed:
			o.generateStage(ctx, rs, ec, el)
		case runstore.StateDocumented:
			o.validateStage(ctx, rs, ec, el)
		case runstore.StateValidated, runstore.StateEmbedded:
			o.embedStage(ctx, rs, ec, el)
		default:
			o.fail(ctx, rs, el, stageOf(el.State), ReasonInternal, fmt.Errorf("unexpected state %s", el.State))
		}
	}
}

// stageOf returns the stage that moves an element out of state
func stageOf(state runstore.State) runstore.Stage {
	switch state {
	case runstore.StatePending:
		return runstore.StageAnalyze
	case runstore.StateAnalyzed:
		return runstore.StageGenerate
	case runstore.StateDocumented:
		return runstore.StageQuality
	case runstore.StateValidated:
		return runstore.StageEmbed
	default:
		return runstore.StageIndex
	}
}

// finalize derives the run state from its elements
func (o *Orchestrator) finalize(ctx context.Context, rs *runState, ec *execContext) {
	var failed *runstore.Element
	for _, el := range rs.run.Elements {
		if el.State != runstore.StateFailed {
			continue
		}
		if failed == nil || el.FailedStage.Order() < failed.FailedStage.Order() {
			failed = el
		}
	}
	if failed != nil {
		o.finish(ctx, rs, runstore.StateFailed, failed.FailedStage, failed.Reason)
		return
	}

	if err := o.store.MarkFileIndexed(context.WithoutCancel(ctx), ec.fileID, ec.fp); err != nil {
		if errors.Is(err, storage.ErrContentChanged) {
			// A later submission replaced the file; its run owns the indexed hash
			ec.log.Warn("file changed during run", "error", err)
			o.finish(ctx, rs, runstore.StateFailed, runstore.StageIndex, ReasonSuperseded)
			return
		}
		ec.log.Error("failed to mark file indexed", "error", err)
		o.finish(ctx, rs, runstore.StateFailed, runstore.StageIndex, ReasonStorage)
		return
	}
	o.finish(ctx, rs, runstore.StateIndexed, "", "")
}

// transition moves el to state to, applies mutate and persists the run
func (o *Orchestrator) transition(ctx context.Context, rs *runState, el *runstore.Element, to runstore.State,
	stage runstore.Stage, attempt int, reason string, mutate func(*runstore.Element)) {

	rs.mu.Lock()
	from := el.State
	if mutate != nil {
		mutate(el)
	}
	el.State = to
	now := time.Now()
	rs.run.History = append(rs.run.History, runstore.Transition{
		Element: el.Key, From: from, To: to, Stage: stage, Attempt: attempt, Reason: reason, At: now,
	})
	rs.run.UpdatedAt = now
	err := o.runs.Save(context.WithoutCancel(ctx), rs.run)
	rs.mu.Unlock()

	if err != nil {
		o.logger.Warn("failed to record transition", "run_id", rs.run.ID, "error", err)
	}
	o.logger.Debug("element transition", "run_id", rs.run.ID, "element", el.Key,
		"from", from, "to", to, "stage", stage, "attempt", attempt, "reason", reason)
}

// fail moves el to failed(stage) with a reason code
func (o *Orchestrator) fail(ctx context.Context, rs *runState, el *runstore.Element, stage runstore.Stage, reason string, cause error) {
	o.logger.Warn("element failed", "run_id", rs.run.ID, "element", el.Key, "stage", stage, "reason", reason, "error", cause)
	o.transition(ctx, rs, el, runstore.StateFailed, stage, el.Attempts[stage], reason, func(el *runstore.Element) {
		el.FailedStage = stage
		el.Reason = reason
	})
}

// finish records the terminal run state
func (o *Orchestrator) finish(ctx context.Context, rs *runState, state runstore.State, stage runstore.Stage, reason string) {
	rs.mu.Lock()
	run := rs.run
	now := time.Now()
	run.History = append(run.History, runstore.Transition{From: run.State, To: state, Stage: stage, Reason: reason, At: now})
	run.State = state
	run.FailedStage = stage
	run.Reason = reason
	run.UpdatedAt = now
	run.FinishedAt = &now
	err := o.runs.Save(context.WithoutCancel(ctx), run)
	counts := run.Counts()
	rs.mu.Unlock()

	if err != nil {
		o.logger.Error("failed to record run outcome", "run_id", run.ID, "error", err)
	}
	o.logger.Info("run finished", "run_id", run.ID, "project", run.ProjectName, "path", run.FilePath,
		"state", state, "stage", stage, "reason", reason,
		"indexed", counts[runstore.StateIndexed], "skipped", counts[runstore.StateSkipped], "failed", counts[runstore.StateFailed])
}

// getOrCreateProject retrieves an existing project or creates a new one
func (o *Orchestrator) getOrCreateProject(ctx context.Context, name string) (*storage.Project, error) {
	project, err := o.store.GetProject(ctx, name)
	if err == nil {
		return project, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	project = &storage.Project{Name: name, DocStyle: string(o.cfg.DefaultStyle)}
	if err := o.store.CreateProject(ctx, project); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return o.store.GetProject(ctx, name)
		}
		return nil, err
	}
	return project, nil
}

func (o *Orchestrator) styleOf(project *storage.Project) types.DocStyle {
	if style := types.DocStyle(project.DocStyle); style.Valid() {
		return style
	}
	return o.cfg.DefaultStyle
}

// analyzedElement is one extracted element after persistence
type analyzedElement struct {
	el          *runstore.Element
	invalid     error
	existingDoc *storage.Documentation
}

// persistAnalysis stores the file, its elements and relationships in one
// transaction and reports, per element, whether it is invalid or already
// documented from identical source.
func (o *Orchestrator) persistAnalysis(ctx context.Context, projectID int64, path string, content []byte,
	fp fingerprint.Fingerprint, result *types.ExtractResult) ([]analyzedElement, int64, error) {

	lineCount := extractor.LineCount(string(content))

	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	file := &storage.File{
		ProjectID:       projectID,
		FilePath:        path,
		Content:         string(content),
		ContentHash:     fp,
		SizeBytes:       int64(len(content)),
		LineCount:       lineCount,
		AnalyzerVersion: o.extractors.VersionFor(path),
	}
	if err := tx.UpsertFile(ctx, file); err != nil {
		return nil, 0, err
	}

	analyzed := make([]analyzedElement, 0, len(result.Elements))
	ids := make(map[string]int64)
	keep := make([]int64, 0, len(result.Elements))

	for _, desc := range result.Elements {
		el := &runstore.Element{
			Key:        desc.Key(),
			State:      runstore.StatePending,
			Attempts:   make(map[runstore.Stage]int),
			Descriptor: desc,
		}
		if err := desc.Validate(lineCount); err != nil {
			analyzed = append(analyzed, analyzedElement{el: el, invalid: err})
			continue
		}

		sourceHash := fingerprint.OfString(desc.Source)
		record := storage.FromCodeElement(desc, file.ID, sourceHash)
		if err := tx.UpsertElement(ctx, record); err != nil {
			return nil, 0, err
		}
		el.ElementID = record.ID
		keep = append(keep, record.ID)
		if _, ok := ids[desc.QualifiedName]; !ok {
			ids[desc.QualifiedName] = record.ID
		}

		a := analyzedElement{el: el}
		doc, err := tx.GetDocumentationByElement(ctx, record.ID)
		switch {
		case err == nil && fingerprint.Fingerprint(doc.SourceHash) == sourceHash:
			a.existingDoc = doc
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return nil, 0, err
		}
		analyzed = append(analyzed, a)
	}

	if _, err := tx.DeleteElementsExcept(ctx, file.ID, keep); err != nil {
		return nil, 0, err
	}

	if err := tx.DeleteRelationshipsByFile(ctx, file.ID); err != nil {
		return nil, 0, err
	}
	for _, r := range result.Relationships {
		source, okSource := ids[r.Source]
		target, okTarget := ids[r.Target]
		if !okSource || !okTarget || source == target {
			continue
		}
		strength := r.Strength
		if strength <= 0 || strength > 1 {
			strength = 1
		}
		rel := &storage.Relationship{SourceID: source, TargetID: target, Type: string(r.Type), Strength: strength}
		if err := tx.UpsertRelationship(ctx, rel); err != nil {
			return nil, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit analysis: %w", err)
	}
	return analyzed, file.ID, nil
}
