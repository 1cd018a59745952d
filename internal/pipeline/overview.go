package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/docrag/internal/embedder"
	"github.com/dshills/docrag/internal/fingerprint"
	"github.com/dshills/docrag/internal/generator"
	"github.com/dshills/docrag/internal/storage"
	"github.com/dshills/docrag/pkg/types"
)

// maxOverviewComponents bounds the element names listed in an overview
const maxOverviewComponents = 25

// DocumentProject generates, embeds and commits the project-level overview
// documentation. Unlike Submit it runs synchronously.
func (o *Orchestrator) DocumentProject(ctx context.Context, projectName string) (*storage.Documentation, error) {
	project, err := o.store.GetProject(ctx, projectName)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", projectName, err)
	}

	components, err := o.overviewComponents(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project elements: %w", err)
	}

	req := generator.Request{
		ProjectName:  project.Name,
		Language:     project.Language,
		DocType:      types.DocOverview,
		Style:        o.styleOf(project),
		Dependencies: components,
	}
	subject := &types.CodeElement{Kind: types.KindModule, Name: project.Name}

	res, err := o.generate(ctx, req, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate overview: %w", err)
	}
	best := draft{text: res.Text, generatorID: res.GeneratorID}
	if best.scores, err = o.gate.Assess(best.text, subject); err != nil {
		return nil, err
	}

	if !o.gate.Accept(best.scores) {
		req.Previous = best.text
		req.PreviousScores = &best.scores
		if res, err := o.generate(ctx, req, nil); err == nil {
			second := draft{text: res.Text, generatorID: res.GeneratorID}
			if second.scores, err = o.gate.Assess(second.text, subject); err == nil && second.scores.Overall >= best.scores.Overall {
				best = second
			}
		}
	}

	pieces := o.chunker.Chunk(best.text)
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}

	var vectors [][]float32
	err = o.call(ctx, func(callCtx context.Context) error {
		var err error
		vectors, err = embedder.EmbedAll(callCtx, o.embedder, texts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed overview: %w", err)
	}

	projectID := project.ID
	doc := &storage.Documentation{
		ProjectID:   &projectID,
		DocType:     string(types.DocOverview),
		Title:       generator.Title(nil, project.Name),
		Content:     best.text,
		GeneratorID: best.generatorID,
		Quality:     best.scores,
		LowQuality:  !o.gate.Accept(best.scores),
		GateVersion: o.gate.Version,
		SourceHash:  fingerprint.OfString(best.text),
	}
	if err := o.store.CommitDocumentation(context.WithoutCancel(ctx), doc, o.storageChunks(pieces, vectors)); err != nil {
		return nil, fmt.Errorf("failed to commit overview: %w", err)
	}
	o.notifyCommit()

	o.logger.Info("project overview documented", "project", project.Name,
		"chunks", len(pieces), "overall", best.scores.Overall, "low_quality", doc.LowQuality)
	return doc, nil
}

// overviewComponents lists the qualified names of the project's top-level
// types and functions.
func (o *Orchestrator) overviewComponents(ctx context.Context, projectID int64) ([]string, error) {
	files, err := o.store.ListFiles(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, f := range files {
		elements, err := o.store.ListElementsByFile(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range elements {
			switch types.ElementKind(e.Kind) {
			case types.KindClass, types.KindFunction, types.KindModule:
				names = append(names, e.QualifiedName)
			}
		}
	}

	sort.Strings(names)
	if len(names) > maxOverviewComponents {
		names = names[:maxOverviewComponents]
	}
	return names, nil
}
