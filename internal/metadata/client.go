package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/andresuchdata/metadata-pipeline/internal/apperror"
	"github.com/andresuchdata/metadata-pipeline/internal/domain"
)

const (
	authPath        = "/auth/token"
	servicePath     = "/metadata-analysis/"
	requestIDHeader = "X-Request-ID"

	// error bodies beyond this are truncated
	maxErrorBody = 4 << 10
)

// Client talks to the metadata-analysis service. Only Authenticate can be
// called on it; everything else goes through the returned Session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	base       *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	log        zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient uses a copy of hc; hc itself is never modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.base = hc }
}

// WithTimeout bounds every single request, including the staged ones.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit paces requests to rps per second. Zero disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	var hc http.Client
	if c.base != nil {
		hc = *c.base
	}
	if c.timeout > 0 {
		hc.Timeout = c.timeout
	}
	c.httpClient = &hc
	return c
}

type authRequest struct {
	ClientKey    string `json:"clientKey"`
	ClientSecret string `json:"clientSecret"`
}

// Authenticate exchanges the client credentials for a session token. The
// token lives only inside the returned Session.
func (c *Client) Authenticate(ctx context.Context, clientID, clientSecret string) (*Session, error) {
	const op = "authenticate"

	if clientID == "" || clientSecret == "" {
		return nil, apperror.Auth(op, errors.New("client credentials are required"))
	}

	var token domain.Token
	err := c.do(ctx, c.httpClient, op, authPath, authRequest{ClientKey: clientID, ClientSecret: clientSecret}, &token)
	if err != nil {
		var remote *apperror.Error
		if errors.As(err, &remote) && remote.Status != 0 {
			return nil, apperror.Auth(op, fmt.Errorf("status %d: %s", remote.Status, remote.Body))
		}
		return nil, apperror.Auth(op, err)
	}
	if token.Authorization == "" {
		return nil, apperror.Auth(op, errors.New("empty authorization token"))
	}

	c.log.Info().Msg("authenticated with metadata service")

	return &Session{
		client: c,
		http: &http.Client{
			Timeout: c.httpClient.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{
					AccessToken: token.Authorization,
					TokenType:   "Bearer",
				}),
				Base: c.httpClient.Transport,
			},
		},
	}, nil
}

// Session is an authenticated handle. It is immutable and safe for
// concurrent use.
type Session struct {
	client *Client
	http   *http.Client
}

func (s *Session) AnalyzeText(ctx context.Context, projectID string, req domain.AnalyzeRequest) (*domain.AnalyzedTextResponse, error) {
	var resp domain.AnalyzedTextResponse
	if err := s.call(ctx, "analyze text", projectID, "analyze", req, &resp); err != nil {
		return nil, err
	}

	if resp.Entities == nil {
		resp.Entities = []domain.Entity{}
	}
	if resp.Topics == nil {
		resp.Topics = []domain.Topic{}
	}
	if resp.Classifications == nil {
		resp.Classifications = []domain.Classification{}
	}
	return &resp, nil
}

type knowledgeGraphRequest struct {
	IDs []string `json:"ids"`
}

// KnowledgeGraphSearch looks up ids. No ids means no lookup: the result is
// empty and the service is not contacted.
func (s *Session) KnowledgeGraphSearch(ctx context.Context, projectID string, ids []string) (*domain.KnowledgeGraphResponse, error) {
	if len(ids) == 0 {
		return &domain.KnowledgeGraphResponse{Entities: []domain.KnowledgeGraphEntity{}}, nil
	}

	var resp domain.KnowledgeGraphResponse
	if err := s.call(ctx, "knowledge graph search", projectID, "knowledge-graph/search", knowledgeGraphRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	if resp.Entities == nil {
		resp.Entities = []domain.KnowledgeGraphEntity{}
	}
	return &resp, nil
}

func (s *Session) TranslateText(ctx context.Context, projectID string, req domain.TranslateTextRequest) (*domain.TranslateTextResponse, error) {
	var resp domain.TranslateTextResponse
	if err := s.call(ctx, "translate text", projectID, "translate/text", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SegmentText asks the service to read the input locator and write both
// output locators. It returns once the service reports completion.
func (s *Session) SegmentText(ctx context.Context, projectID string, req domain.SegmentTextRequest) (*domain.SegmentTextResponse, error) {
	var resp domain.SegmentTextResponse
	if err := s.call(ctx, "segment text", projectID, "segment/text", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *Session) TranslateCaptions(ctx context.Context, projectID string, req domain.TranslateCaptionsRequest) (*domain.TranslateCaptionsResponse, error) {
	var resp domain.TranslateCaptionsResponse
	if err := s.call(ctx, "translate captions", projectID, "translate/captions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *Session) call(ctx context.Context, op, projectID, action string, in, out any) error {
	if projectID == "" {
		return apperror.RemoteTransport(op, errors.New("project id is required"))
	}
	path := servicePath + url.PathEscape(projectID) + "/" + action
	return s.client.do(ctx, s.http, op, path, in, out)
}

// do POSTs in as JSON and decodes a 2xx body into out. Non-2xx responses
// become remote service errors carrying status and body. No retries.
func (c *Client) do(ctx context.Context, hc *http.Client, op, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperror.RemoteTransport(op, err)
		}
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return apperror.RemoteTransport(op, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperror.RemoteTransport(op, fmt.Errorf("failed to create request: %w", err))
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return apperror.RemoteTransport(op, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("op", op).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("metadata service call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return apperror.RemoteService(op, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.RemoteTransport(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
