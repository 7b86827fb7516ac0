package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/metadata-pipeline/internal/domain"
	"github.com/andresuchdata/metadata-pipeline/internal/metadata"
	"github.com/andresuchdata/metadata-pipeline/internal/storage"
)

// RemoteService is the authenticated surface of the metadata service.
type RemoteService interface {
	AnalyzeText(ctx context.Context, projectID string, req domain.AnalyzeRequest) (*domain.AnalyzedTextResponse, error)
	KnowledgeGraphSearch(ctx context.Context, projectID string, ids []string) (*domain.KnowledgeGraphResponse, error)
	TranslateText(ctx context.Context, projectID string, req domain.TranslateTextRequest) (*domain.TranslateTextResponse, error)
	SegmentText(ctx context.Context, projectID string, req domain.SegmentTextRequest) (*domain.SegmentTextResponse, error)
	TranslateCaptions(ctx context.Context, projectID string, req domain.TranslateCaptionsRequest) (*domain.TranslateCaptionsResponse, error)
}

// Authenticator opens a session with the metadata service.
type Authenticator func(ctx context.Context) (RemoteService, error)

// ClientAuthenticator authenticates c with the given client credentials.
func ClientAuthenticator(c *metadata.Client, clientID, clientSecret string) Authenticator {
	return func(ctx context.Context) (RemoteService, error) {
		session, err := c.Authenticate(ctx, clientID, clientSecret)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// Workflow describes one staged remote operation: which local file is
// uploaded, which outputs the service must write, how the request is built
// and which remote call consumes it.
type Workflow[Req, Resp any] struct {
	Name    string
	Input   domain.StagedFile
	Outputs []domain.StagedFile

	// Build receives a get URL for the input and one put URL per output,
	// in the order of Outputs.
	Build func(bucket string, input storage.SignedURL, outputs []storage.SignedURL) (Req, error)

	Invoke func(ctx context.Context, svc RemoteService, projectID string, req Req) (Resp, error)

	// Confirmed extracts the output locators echoed by the service.
	Confirmed func(resp Resp) []domain.Locator
}

// Result records how a workflow run went. It is returned on failure too.
type Result[Resp any] struct {
	Workflow      string                 `json:"workflow"`
	State         domain.WorkflowState   `json:"-"`
	History       []domain.WorkflowState `json:"-"`
	Response      Resp                   `json:"response"`
	Downloaded    []string               `json:"downloaded"`
	Deleted       []string               `json:"deleted"`
	CleanupErrors []error                `json:"-"`
	StartedAt     time.Time              `json:"startedAt"`
	CompletedAt   time.Time              `json:"completedAt"`
	Err           error                  `json:"-"`
}

// Status is the label of the final state.
func (r *Result[Resp]) Status() string {
	return r.State.String()
}

// Reached reports whether the run passed through state.
func (r *Result[Resp]) Reached(state domain.WorkflowState) bool {
	for _, s := range r.History {
		if s == state {
			return true
		}
	}
	return false
}

// AnalysisResult is the outcome of the direct, unstaged path.
type AnalysisResult struct {
	Request        domain.AnalyzeRequest          `json:"request"`
	Analysis       *domain.AnalyzedTextResponse   `json:"analysis"`
	KnowledgeGraph *domain.KnowledgeGraphResponse `json:"knowledgeGraph"`
	Translation    *domain.TranslateTextResponse  `json:"translation,omitempty"`
}

// Summary collects everything RunAll produced.
type Summary struct {
	Analysis          *AnalysisResult                            `json:"analysis,omitempty"`
	SegmentText       *Result[*domain.SegmentTextResponse]       `json:"segmentText,omitempty"`
	TranslateCaptions *Result[*domain.TranslateCaptionsResponse] `json:"translateCaptions,omitempty"`
}
