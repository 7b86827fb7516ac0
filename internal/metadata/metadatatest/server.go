// Package metadatatest runs a fake metadata-analysis service. Staged calls
// read and write through the signed URLs in the request, the same way the
// real service does.
package metadatatest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/andresuchdata/metadata-pipeline/internal/domain"
)

const (
	ClientKey    = "test-client"
	ClientSecret = "test-secret"
	Token        = "test-token"
	ProjectID    = "project-1"
)

type Server struct {
	*httptest.Server

	// Entities is what analyze returns.
	Entities []domain.Entity
	// KnowledgeGraph maps ids to the entities knowledge-graph search returns.
	KnowledgeGraph map[string]domain.KnowledgeGraphEntity
	// StagedDelay holds staged calls before they touch storage.
	StagedDelay time.Duration

	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int
	requests map[string][]byte
}

func New(tb testing.TB) *Server {
	tb.Helper()

	s := &Server{
		KnowledgeGraph: map[string]domain.KnowledgeGraphEntity{},
		calls:          map[string]int{},
		failures:       map[string]int{},
		requests:       map[string][]byte{},
	}

	r := mux.NewRouter()
	r.HandleFunc("/auth/token", s.handleAuth).Methods(http.MethodPost)

	api := r.PathPrefix("/metadata-analysis/{project}").Subrouter()
	api.Use(s.authorize)
	api.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/knowledge-graph/search", s.handleKnowledgeGraph).Methods(http.MethodPost)
	api.HandleFunc("/translate/text", s.handleTranslateText).Methods(http.MethodPost)
	api.HandleFunc("/segment/text", s.handleSegmentText).Methods(http.MethodPost)
	api.HandleFunc("/translate/captions", s.handleTranslateCaptions).Methods(http.MethodPost)

	s.Server = httptest.NewServer(r)
	tb.Cleanup(s.Server.Close)

	return s
}

// FailWith makes the named action ("auth", "analyze", "segment/text", ...)
// answer with status.
func (s *Server) FailWith(action string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[action] = status
}

// Calls reports how many requests reached action, failed ones included.
func (s *Server) Calls(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[action]
}

// LastRequest returns the raw body of the last request for action.
func (s *Server) LastRequest(action string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[action]
}

func (s *Server) enter(action string, w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.calls[action]++
	s.requests[action] = body
	status := s.failures[action]
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, fmt.Sprintf(`{"error":"%s failed"}`, action), status)
		return nil, false
	}
	return body, true
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+Token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if mux.Vars(r)["project"] != ProjectID {
			http.Error(w, `{"error":"unknown project"}`, http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	body, ok := s.enter("auth", w, r)
	if !ok {
		return
	}

	var creds struct {
		ClientKey    string `json:"clientKey"`
		ClientSecret string `json:"clientSecret"`
	}
	if err := json.Unmarshal(body, &creds); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if creds.ClientKey != ClientKey || creds.ClientSecret != ClientSecret {
		http.Error(w, `{"error":"invalid client credentials"}`, http.StatusUnauthorized)
		return
	}

	writeJSON(w, domain.Token{Authorization: Token, ExpiresIn: 3600})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	body, ok := s.enter("analyze", w, r)
	if !ok {
		return
	}

	var req domain.AnalyzeRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Text == "" {
		http.Error(w, `{"error":"text is required"}`, http.StatusBadRequest)
		return
	}

	resp := map[string]any{"language": "en"}
	for _, extractor := range req.Extractors {
		switch extractor {
		case "entities":
			entities := s.Entities
			if entities == nil {
				entities = []domain.Entity{}
			}
			resp["entities"] = entities
		case "topics":
			resp["topics"] = []domain.Topic{{Label: "general", Score: 0.9}}
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleKnowledgeGraph(w http.ResponseWriter, r *http.Request) {
	body, ok := s.enter("knowledge-graph/search", w, r)
	if !ok {
		return
	}

	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := domain.KnowledgeGraphResponse{Entities: []domain.KnowledgeGraphEntity{}}
	for _, id := range req.IDs {
		if e, ok := s.KnowledgeGraph[id]; ok {
			resp.Entities = append(resp.Entities, e)
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleTranslateText(w http.ResponseWriter, r *http.Request) {
	body, ok := s.enter("translate/text", w, r)
	if !ok {
		return
	}

	var req domain.TranslateTextRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, domain.TranslateTextResponse{
		TranslatedText: fmt.Sprintf("[%s] %s", req.TargetLanguage, req.Text),
		SourceLanguage: "en",
		TargetLanguage: req.TargetLanguage,
	})
}

func (s *Server) handleSegmentText(w http.ResponseWriter, r *http.Request) {
	body, ok := s.enter("segment/text", w, r)
	if !ok {
		return
	}

	var req domain.SegmentTextRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	time.Sleep(s.StagedDelay)

	input, err := s.fetch(req.Input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	segments := strings.Fields(string(input))
	asJSON, _ := json.Marshal(map[string]any{"segments": segments})
	var asXML bytes.Buffer
	asXML.WriteString("<segments>")
	for _, seg := range segments {
		fmt.Fprintf(&asXML, "<segment>%s</segment>", seg)
	}
	asXML.WriteString("</segments>")

	if err := s.store(req.Output.JSON, asJSON); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if err := s.store(req.Output.XML, asXML.Bytes()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, domain.SegmentTextResponse{Input: req.Input, Output: req.Output, Segments: len(segments)})
}

func (s *Server) handleTranslateCaptions(w http.ResponseWriter, r *http.Request) {
	body, ok := s.enter("translate/captions", w, r)
	if !ok {
		return
	}

	var req domain.TranslateCaptionsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	time.Sleep(s.StagedDelay)

	input, err := s.fetch(req.Input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	var captions, text []string
	for _, line := range strings.Split(string(input), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == "WEBVTT" || strings.Contains(trimmed, "-->") {
			captions = append(captions, line)
			continue
		}
		translated := fmt.Sprintf("[%s] %s", req.TargetLanguage, trimmed)
		captions = append(captions, translated)
		text = append(text, translated)
	}

	if err := s.store(req.Output.Captions, []byte(strings.Join(captions, "\n"))); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if err := s.store(req.Output.Text, []byte(strings.Join(text, "\n"))); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, domain.TranslateCaptionsResponse{
		Input:          req.Input,
		SourceLanguage: "en",
		TargetLanguage: req.TargetLanguage,
		Output:         req.Output,
	})
}

func (s *Server) fetch(loc domain.Locator) ([]byte, error) {
	resp, err := http.Get(loc.SignedURL)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", loc.Key, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("read %s: status %d: %s", loc.Key, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func (s *Server) store(loc domain.Locator, data []byte) error {
	req, err := http.NewRequest(http.MethodPut, loc.SignedURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("write %s: %w", loc.Key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("write %s: status %d: %s", loc.Key, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
