// internal/domain/models.go
package domain

import "path/filepath"

// Locator points at one object-store object together with a signed URL
// scoped to a single operation.
type Locator struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	SignedURL string `json:"signedUrl"`
}

// StagedFile is a local file whose base name doubles as its object key.
type StagedFile struct {
	Folder string
	Name   string
}

// Path returns the local path of the file.
func (f StagedFile) Path() string {
	return filepath.Join(f.Folder, f.Name)
}

// Key returns the object-store key the file is staged under.
func (f StagedFile) Key() string {
	return f.Name
}

// Token is the result of the auth exchange.
type Token struct {
	Authorization string `json:"authorization"`
	ExpiresIn     int    `json:"expiresIn,omitempty"`
}

// AnalyzeRequest asks the service to extract and classify inline text.
type AnalyzeRequest struct {
	Text                     string   `json:"text"`
	Extractors               []string `json:"extractors,omitempty"`
	ExtractorsScoreThreshold float64  `json:"extractorsScoreThreshold,omitempty"`
	Classifiers              []string `json:"classifiers,omitempty"`
	ClassifierScoreThreshold float64  `json:"classifierScoreThreshold,omitempty"`
}

type Entity struct {
	Name      string   `json:"name"`
	Type      string   `json:"type,omitempty"`
	Mid       string   `json:"mid,omitempty"`
	Score     float64  `json:"score,omitempty"`
	Salience  float64  `json:"salience,omitempty"`
	Mentions  []string `json:"mentions,omitempty"`
	WikiURL   string   `json:"wikiUrl,omitempty"`
	Sentiment float64  `json:"sentiment,omitempty"`
}

type Topic struct {
	Label string  `json:"label"`
	Score float64 `json:"score,omitempty"`
}

type Classification struct {
	Classifier string  `json:"classifier"`
	Code       string  `json:"code,omitempty"`
	Label      string  `json:"label"`
	Score      float64 `json:"score,omitempty"`
}

type AnalyzedTextResponse struct {
	Language        string           `json:"language,omitempty"`
	Entities        []Entity         `json:"entities"`
	Topics          []Topic          `json:"topics"`
	Classifications []Classification `json:"classifications"`
}

type KnowledgeGraphEntity struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Types               []string `json:"types,omitempty"`
	Description         string   `json:"description,omitempty"`
	DetailedDescription string   `json:"detailedDescription,omitempty"`
	URL                 string   `json:"url,omitempty"`
	ImageURL            string   `json:"imageUrl,omitempty"`
}

type KnowledgeGraphResponse struct {
	Entities []KnowledgeGraphEntity `json:"entities"`
}

type TranslateTextRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage"`
}

type TranslateTextResponse struct {
	TranslatedText string `json:"translatedText"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

// SegmentTextOutputs declares where the two encodings of the segmented
// text are written.
type SegmentTextOutputs struct {
	JSON Locator `json:"json"`
	XML  Locator `json:"xml"`
}

type SegmentTextRequest struct {
	Input  Locator            `json:"input"`
	Output SegmentTextOutputs `json:"output"`
}

type SegmentTextResponse struct {
	Input    Locator            `json:"input"`
	Output   SegmentTextOutputs `json:"output"`
	Segments int                `json:"segments,omitempty"`
}

// TranslateCaptionsOutputs declares where the translated subtitles and their
// plain-text extraction are written.
type TranslateCaptionsOutputs struct {
	Captions Locator `json:"captions"`
	Text     Locator `json:"text"`
}

type TranslateCaptionsRequest struct {
	Input          Locator                  `json:"input"`
	TargetLanguage string                   `json:"targetLanguage"`
	Output         TranslateCaptionsOutputs `json:"output"`
}

type TranslateCaptionsResponse struct {
	Input          Locator                  `json:"input"`
	SourceLanguage string                   `json:"sourceLanguage,omitempty"`
	TargetLanguage string                   `json:"targetLanguage"`
	Output         TranslateCaptionsOutputs `json:"output"`
}
