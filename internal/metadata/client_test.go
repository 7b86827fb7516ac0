package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/metadata-pipeline/internal/apperror"
	"github.com/andresuchdata/metadata-pipeline/internal/compose"
	"github.com/andresuchdata/metadata-pipeline/internal/domain"
	"github.com/andresuchdata/metadata-pipeline/internal/metadata/metadatatest"
)

func authenticate(t *testing.T, srv *metadatatest.Server) *Session {
	t.Helper()
	session, err := NewClient(srv.URL).Authenticate(context.Background(), metadatatest.ClientKey, metadatatest.ClientSecret)
	require.NoError(t, err)
	return session
}

func TestAuthenticate(t *testing.T) {
	srv := metadatatest.New(t)

	session := authenticate(t, srv)
	assert.NotNil(t, session)
	assert.Equal(t, 1, srv.Calls("auth"))
}

func TestAuthenticateFailures(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		secret string
		setup  func(*metadatatest.Server)
		calls  int
	}{
		{"wrong secret", metadatatest.ClientKey, "nope", nil, 1},
		{"service down", metadatatest.ClientKey, metadatatest.ClientSecret, func(s *metadatatest.Server) {
			s.FailWith("auth", http.StatusServiceUnavailable)
		}, 1},
		{"missing credentials", "", "", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := metadatatest.New(t)
			if tt.setup != nil {
				tt.setup(srv)
			}

			_, err := NewClient(srv.URL).Authenticate(context.Background(), tt.key, tt.secret)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperror.ErrAuth))
			assert.False(t, errors.Is(err, apperror.ErrRemoteService))
			assert.Equal(t, tt.calls, srv.Calls("auth"))
		})
	}
}

func TestAuthenticateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Authenticate(context.Background(), "a", "b")
	assert.True(t, errors.Is(err, apperror.ErrAuth))
}

func TestAuthenticateEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"authorization":""}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Authenticate(context.Background(), "a", "b")
	assert.True(t, errors.Is(err, apperror.ErrAuth))
}

func TestAnalyzeTextHelloWorld(t *testing.T) {
	srv := metadatatest.New(t)
	session := authenticate(t, srv)

	resp, err := session.AnalyzeText(context.Background(), metadatatest.ProjectID, domain.AnalyzeRequest{
		Text:                     "hello world",
		Extractors:               []string{"entities"},
		ExtractorsScoreThreshold: 0.5,
	})
	require.NoError(t, err)

	assert.NotNil(t, resp.Entities)
	assert.Empty(t, resp.Entities)
	assert.NotNil(t, resp.Topics)

	var sent domain.AnalyzeRequest
	require.NoError(t, json.Unmarshal(srv.LastRequest("analyze"), &sent))
	assert.Equal(t, []string{"entities"}, sent.Extractors)
	assert.Equal(t, 0.5, sent.ExtractorsScoreThreshold)
}

func TestAnalyzeThenKnowledgeGraph(t *testing.T) {
	srv := metadatatest.New(t)
	srv.Entities = []domain.Entity{
		{Name: "Donald Trump", Type: "person", Mid: "/m/0cqt90"},
		{Name: "news conference"},
	}
	srv.KnowledgeGraph["/m/0cqt90"] = domain.KnowledgeGraphEntity{ID: "/m/0cqt90", Name: "Donald Trump"}
	session := authenticate(t, srv)
	ctx := context.Background()

	analyzed, err := session.AnalyzeText(ctx, metadatatest.ProjectID, compose.Analyze("President Donald Trump ..."))
	require.NoError(t, err)
	require.Len(t, analyzed.Entities, 2)

	kg, err := session.KnowledgeGraphSearch(ctx, metadatatest.ProjectID, compose.KnowledgeGraphIDs(*analyzed))
	require.NoError(t, err)
	require.Len(t, kg.Entities, 1)
	assert.Equal(t, "Donald Trump", kg.Entities[0].Name)
}

func TestKnowledgeGraphSearchEmptyIDsSkipsRemote(t *testing.T) {
	srv := metadatatest.New(t)
	srv.FailWith("knowledge-graph/search", http.StatusInternalServerError)
	session := authenticate(t, srv)

	resp, err := session.KnowledgeGraphSearch(context.Background(), metadatatest.ProjectID, nil)
	require.NoError(t, err)
	assert.NotNil(t, resp.Entities)
	assert.Empty(t, resp.Entities)
	assert.Equal(t, 0, srv.Calls("knowledge-graph/search"))
}

func TestTranslateText(t *testing.T) {
	srv := metadatatest.New(t)
	session := authenticate(t, srv)

	resp, err := session.TranslateText(context.Background(), metadatatest.ProjectID, domain.TranslateTextRequest{
		Text:           "President Donald Trump tried to explain his agitating approach to life",
		TargetLanguage: "RU",
	})
	require.NoError(t, err)
	assert.Equal(t, "[RU] President Donald Trump tried to explain his agitating approach to life", resp.TranslatedText)
}

func TestRemoteServiceErrorCarriesStatusAndBody(t *testing.T) {
	srv := metadatatest.New(t)
	srv.FailWith("translate/text", http.StatusBadRequest)
	session := authenticate(t, srv)

	_, err := session.TranslateText(context.Background(), metadatatest.ProjectID, domain.TranslateTextRequest{Text: "x", TargetLanguage: "RU"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrRemoteService))

	var remote *apperror.Error
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusBadRequest, remote.Status)
	assert.Contains(t, remote.Body, "translate/text failed")
	assert.Equal(t, 1, srv.Calls("translate/text"))
}

func TestSessionSendsBearerToken(t *testing.T) {
	var gotAuth, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token" {
			_, _ = w.Write([]byte(`{"authorization":"abc"}`))
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		assert.Equal(t, "/metadata-analysis/p%201/translate/text", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"translatedText":"ok"}`))
	}))
	defer srv.Close()

	session, err := NewClient(srv.URL+"/").Authenticate(context.Background(), "a", "b")
	require.NoError(t, err)

	_, err = session.TranslateText(context.Background(), "p 1", domain.TranslateTextRequest{Text: "x", TargetLanguage: "RU"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", gotAuth)
	assert.NotEmpty(t, gotRequestID)
}

func TestWrongTokenRejected(t *testing.T) {
	srv := metadatatest.New(t)
	session := &Session{client: NewClient(srv.URL), http: http.DefaultClient}

	_, err := session.TranslateText(context.Background(), metadatatest.ProjectID, domain.TranslateTextRequest{Text: "x"})

	var remote *apperror.Error
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusUnauthorized, remote.Status)
}

func TestRateLimitPacesRequests(t *testing.T) {
	srv := metadatatest.New(t)
	client := NewClient(srv.URL, WithRateLimit(20))
	session, err := client.Authenticate(context.Background(), metadatatest.ClientKey, metadatatest.ClientSecret)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := session.TranslateText(context.Background(), metadatatest.ProjectID, domain.TranslateTextRequest{Text: "x", TargetLanguage: "RU"})
		require.NoError(t, err)
	}
	// four requests at 20/s with a burst of one take at least 150ms
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestMissingProjectID(t *testing.T) {
	srv := metadatatest.New(t)
	session := authenticate(t, srv)

	_, err := session.SegmentText(context.Background(), "", domain.SegmentTextRequest{})
	assert.True(t, errors.Is(err, apperror.ErrRemoteService))
}

func TestTimeoutAppliesInAnyOptionOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"authorization":"late"}`))
	}))
	defer srv.Close()

	caller := &http.Client{}
	orders := map[string][]Option{
		"timeout first": {WithTimeout(50 * time.Millisecond), WithHTTPClient(caller)},
		"timeout last":  {WithHTTPClient(caller), WithTimeout(50 * time.Millisecond)},
	}
	for name, opts := range orders {
		t.Run(name, func(t *testing.T) {
			_, err := NewClient(srv.URL, opts...).Authenticate(context.Background(), "a", "b")
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperror.ErrAuth))
			assert.Zero(t, caller.Timeout)
		})
	}
}

func TestSessionInheritsTimeout(t *testing.T) {
	srv := metadatatest.New(t)
	srv.StagedDelay = 300 * time.Millisecond

	session, err := NewClient(srv.URL, WithTimeout(50*time.Millisecond)).
		Authenticate(context.Background(), metadatatest.ClientKey, metadatatest.ClientSecret)
	require.NoError(t, err)

	_, err = session.SegmentText(context.Background(), metadatatest.ProjectID, domain.SegmentTextRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrRemoteService))
}
