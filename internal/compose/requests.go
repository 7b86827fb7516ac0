package compose

import (
	"fmt"

	"github.com/andresuchdata/metadata-pipeline/internal/domain"
	"github.com/andresuchdata/metadata-pipeline/internal/storage"
)

const defaultScoreThreshold = 0.5

var (
	defaultExtractors  = []string{"entities", "topics"}
	defaultClassifiers = []string{"IPTCNewsCodes", "IPTCMediaTopics"}
)

// Analyze builds an analyze request with the standard extractors and classifiers.
func Analyze(text string) domain.AnalyzeRequest {
	return domain.AnalyzeRequest{
		Text:                     text,
		Extractors:               append([]string(nil), defaultExtractors...),
		ExtractorsScoreThreshold: defaultScoreThreshold,
		Classifiers:              append([]string(nil), defaultClassifiers...),
		ClassifierScoreThreshold: defaultScoreThreshold,
	}
}

// KnowledgeGraphIDs collects the distinct knowledge-graph ids of the analyzed
// entities, in the order they were found. Entities without a mid are skipped.
func KnowledgeGraphIDs(resp domain.AnalyzedTextResponse) []string {
	ids := make([]string, 0, len(resp.Entities))
	seen := make(map[string]struct{}, len(resp.Entities))
	for _, e := range resp.Entities {
		if e.Mid == "" {
			continue
		}
		if _, ok := seen[e.Mid]; ok {
			continue
		}
		seen[e.Mid] = struct{}{}
		ids = append(ids, e.Mid)
	}
	return ids
}

// SegmentText wires the staged input and the two declared outputs.
func SegmentText(bucket string, input, jsonOut, xmlOut storage.SignedURL) (domain.SegmentTextRequest, error) {
	in, err := Source(bucket, input)
	if err != nil {
		return domain.SegmentTextRequest{}, fmt.Errorf("segment text input: %w", err)
	}
	outs, err := destinations(bucket, jsonOut, xmlOut)
	if err != nil {
		return domain.SegmentTextRequest{}, fmt.Errorf("segment text output: %w", err)
	}

	return domain.SegmentTextRequest{
		Input: in,
		Output: domain.SegmentTextOutputs{
			JSON: outs[0],
			XML:  outs[1],
		},
	}, nil
}

// TranslateCaptions wires the staged subtitle document, the target language
// and the two declared outputs.
func TranslateCaptions(bucket, targetLanguage string, input, captionsOut, textOut storage.SignedURL) (domain.TranslateCaptionsRequest, error) {
	if targetLanguage == "" {
		return domain.TranslateCaptionsRequest{}, fmt.Errorf("translate captions: target language is required")
	}
	in, err := Source(bucket, input)
	if err != nil {
		return domain.TranslateCaptionsRequest{}, fmt.Errorf("translate captions input: %w", err)
	}
	outs, err := destinations(bucket, captionsOut, textOut)
	if err != nil {
		return domain.TranslateCaptionsRequest{}, fmt.Errorf("translate captions output: %w", err)
	}

	return domain.TranslateCaptionsRequest{
		Input:          in,
		TargetLanguage: targetLanguage,
		Output: domain.TranslateCaptionsOutputs{
			Captions: outs[0],
			Text:     outs[1],
		},
	}, nil
}

func destinations(bucket string, urls ...storage.SignedURL) ([]domain.Locator, error) {
	locs := make([]domain.Locator, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, ok := seen[u.Key]; ok {
			return nil, fmt.Errorf("output key %q declared twice", u.Key)
		}
		seen[u.Key] = struct{}{}

		loc, err := Destination(bucket, u)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	return locs, nil
}
