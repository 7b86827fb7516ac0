package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresuchdata/metadata-pipeline/internal/apperror"
	"github.com/andresuchdata/metadata-pipeline/internal/compose"
	"github.com/andresuchdata/metadata-pipeline/internal/domain"
)

// Analyze runs the direct path: analyze text, look up the knowledge-graph
// entities it found, and translate the text when targetLanguage is set.
// Nothing is staged.
func (o *Orchestrator) Analyze(ctx context.Context, text, targetLanguage string) (*AnalysisResult, error) {
	svc, err := o.Session(ctx)
	if err != nil {
		return nil, err
	}
	projectID := o.cfg.Remote.ProjectServiceID

	result := &AnalysisResult{Request: compose.Analyze(text)}

	result.Analysis, err = svc.AnalyzeText(ctx, projectID, result.Request)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	result.KnowledgeGraph, err = o.knowledgeGraph(ctx, svc, compose.KnowledgeGraphIDs(*result.Analysis))
	if err != nil {
		return nil, fmt.Errorf("knowledge graph search: %w", err)
	}

	if targetLanguage != "" {
		result.Translation, err = svc.TranslateText(ctx, projectID, domain.TranslateTextRequest{
			Text:           text,
			TargetLanguage: targetLanguage,
		})
		if err != nil {
			return nil, fmt.Errorf("translate text: %w", err)
		}
	}

	o.log.Info().
		Int("entities", len(result.Analysis.Entities)).
		Int("knowledge_graph", len(result.KnowledgeGraph.Entities)).
		Msg("analysis completed")
	return result, nil
}

// knowledgeGraph serves ids from the cache where possible and asks the
// service for the rest. Cache failures only cost a lookup. Every entity the
// service returns is kept, whatever id it carries.
func (o *Orchestrator) knowledgeGraph(ctx context.Context, svc RemoteService, ids []string) (*domain.KnowledgeGraphResponse, error) {
	hits, misses, err := o.kgCache.Get(ctx, ids)
	if err != nil {
		o.log.Warn().Err(err).Msg("knowledge graph cache read failed")
		hits, misses = nil, ids
	}

	fetched, err := svc.KnowledgeGraphSearch(ctx, o.cfg.Remote.ProjectServiceID, misses)
	if err != nil {
		return nil, err
	}
	if err := o.kgCache.Set(ctx, fetched.Entities); err != nil {
		o.log.Warn().Err(err).Msg("knowledge graph cache write failed")
	}

	if len(hits) == 0 {
		return fetched, nil
	}

	resp := &domain.KnowledgeGraphResponse{
		Entities: make([]domain.KnowledgeGraphEntity, 0, len(hits)+len(fetched.Entities)),
	}
	for _, id := range ids {
		if e, ok := hits[id]; ok {
			resp.Entities = append(resp.Entities, e)
		}
	}
	resp.Entities = append(resp.Entities, fetched.Entities...)
	return resp, nil
}

// RunAll runs the direct analysis and then each staged workflow. A failed
// workflow does not stop the next one; an authentication failure stops
// everything. The returned error joins every failure.
func (o *Orchestrator) RunAll(ctx context.Context, text, targetLanguage string) (*Summary, error) {
	summary := &Summary{}
	var errs []error

	analysis, err := o.Analyze(ctx, text, targetLanguage)
	if err != nil {
		if errors.Is(err, apperror.ErrAuth) {
			return summary, err
		}
		errs = append(errs, err)
	}
	summary.Analysis = analysis

	segment, err := o.SegmentText(ctx)
	summary.SegmentText = segment
	if err != nil {
		if errors.Is(err, apperror.ErrAuth) {
			return summary, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", SegmentTextName, err))
	}

	captions, err := o.TranslateCaptions(ctx)
	summary.TranslateCaptions = captions
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", TranslateCaptionsName, err))
	}

	return summary, errors.Join(errs...)
}
