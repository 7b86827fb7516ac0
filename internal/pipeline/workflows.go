package pipeline

import (
	"context"
	"fmt"

	"github.com/andresuchdata/metadata-pipeline/internal/compose"
	"github.com/andresuchdata/metadata-pipeline/internal/config"
	"github.com/andresuchdata/metadata-pipeline/internal/domain"
	"github.com/andresuchdata/metadata-pipeline/internal/storage"
)

const (
	SegmentTextName       = "segment-text"
	TranslateCaptionsName = "translate-captions"
)

// SegmentTextWorkflow stages the structured text document and collects the
// JSON and XML encodings of its segmentation.
func SegmentTextWorkflow(cfg *config.Config) Workflow[domain.SegmentTextRequest, *domain.SegmentTextResponse] {
	return Workflow[domain.SegmentTextRequest, *domain.SegmentTextResponse]{
		Name:  SegmentTextName,
		Input: cfg.StagedFile(cfg.Files.SegmentInput),
		Outputs: []domain.StagedFile{
			cfg.StagedFile(cfg.Files.SegmentOutputJSON),
			cfg.StagedFile(cfg.Files.SegmentOutputXML),
		},
		Build: func(bucket string, input storage.SignedURL, outputs []storage.SignedURL) (domain.SegmentTextRequest, error) {
			if len(outputs) != 2 {
				return domain.SegmentTextRequest{}, fmt.Errorf("segment text needs 2 outputs, got %d", len(outputs))
			}
			return compose.SegmentText(bucket, input, outputs[0], outputs[1])
		},
		Invoke: func(ctx context.Context, svc RemoteService, projectID string, req domain.SegmentTextRequest) (*domain.SegmentTextResponse, error) {
			return svc.SegmentText(ctx, projectID, req)
		},
		Confirmed: func(resp *domain.SegmentTextResponse) []domain.Locator {
			if resp == nil {
				return nil
			}
			return []domain.Locator{resp.Output.JSON, resp.Output.XML}
		},
	}
}

// TranslateCaptionsWorkflow stages the subtitle document and collects the
// translated subtitles plus their plain-text extraction.
func TranslateCaptionsWorkflow(cfg *config.Config) Workflow[domain.TranslateCaptionsRequest, *domain.TranslateCaptionsResponse] {
	target := cfg.Captions.TargetLanguage

	return Workflow[domain.TranslateCaptionsRequest, *domain.TranslateCaptionsResponse]{
		Name:  TranslateCaptionsName,
		Input: cfg.StagedFile(cfg.Files.CaptionsInput),
		Outputs: []domain.StagedFile{
			cfg.StagedFile(cfg.Files.CaptionsOutputVTT),
			cfg.StagedFile(cfg.Files.CaptionsOutputText),
		},
		Build: func(bucket string, input storage.SignedURL, outputs []storage.SignedURL) (domain.TranslateCaptionsRequest, error) {
			if len(outputs) != 2 {
				return domain.TranslateCaptionsRequest{}, fmt.Errorf("translate captions needs 2 outputs, got %d", len(outputs))
			}
			return compose.TranslateCaptions(bucket, target, input, outputs[0], outputs[1])
		},
		Invoke: func(ctx context.Context, svc RemoteService, projectID string, req domain.TranslateCaptionsRequest) (*domain.TranslateCaptionsResponse, error) {
			return svc.TranslateCaptions(ctx, projectID, req)
		},
		Confirmed: func(resp *domain.TranslateCaptionsResponse) []domain.Locator {
			if resp == nil {
				return nil
			}
			return []domain.Locator{resp.Output.Captions, resp.Output.Text}
		},
	}
}

// SegmentText runs the segment-text workflow.
func (o *Orchestrator) SegmentText(ctx context.Context) (*Result[*domain.SegmentTextResponse], error) {
	return Run(ctx, o, SegmentTextWorkflow(o.cfg))
}

// TranslateCaptions runs the translate-captions workflow.
func (o *Orchestrator) TranslateCaptions(ctx context.Context) (*Result[*domain.TranslateCaptionsResponse], error) {
	return Run(ctx, o, TranslateCaptionsWorkflow(o.cfg))
}
