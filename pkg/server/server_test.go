package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/starspace"
	"github.com/soundprediction/starspace/pkg/config"
	"github.com/soundprediction/starspace/pkg/dict"
	"github.com/soundprediction/starspace/pkg/server/dto"
	"github.com/soundprediction/starspace/pkg/session"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 8080
	cfg.Server.Mode = gin.TestMode
	cfg.Model.EmbeddingSize = 16
	cfg.Model.EmbeddingNorm = 10
	cfg.Model.ShareEmbeddings = true
	cfg.Training.LearningRate = 0.1
	cfg.Training.Margin = 0.1
	cfg.Training.Optimizer = "sgd"
	cfg.Training.Truncate = -1
	cfg.Training.NegSamples = 10
	cfg.Training.CacheSize = 1000
	cfg.Training.Seed = 11
	cfg.History.Length = 10000
	cfg.History.Replies = "label"
	return cfg
}

func testDict(t *testing.T) *dict.Dictionary {
	t.Helper()
	d := dict.New(dict.DefaultOptions())
	for _, line := range []string{
		"hello there friend",
		"hi friend",
		"goodbye cruel world",
		"see you tomorrow",
		"i like pizza",
		"pizza is good",
		"the weather is nice today",
	} {
		d.Add(line)
	}
	d.Sort()
	return d
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg *config.Config, store *session.Store) *Server {
	t.Helper()
	agent, err := starspace.New(cfg, testDict(t), quietLogger())
	if err != nil {
		t.Fatalf("failed to build agent: %v", err)
	}
	srv := New(cfg, agent, store, quietLogger())
	srv.Setup()
	return srv
}

func newMemoryStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.Open(session.Options{InMemory: true, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("failed to open session store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// doJSON fires one request at the router and returns the recorder.
func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

func TestNew(t *testing.T) {
	cfg := testConfig()
	srv := newTestServer(t, cfg, nil)

	if srv == nil {
		t.Fatal("expected non-nil server")
	}
	if srv.config != cfg {
		t.Error("expected config to be set")
	}
}

func TestSetup(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)

	if srv.router == nil {
		t.Error("expected router to be initialized")
	}
	if srv.server == nil {
		t.Error("expected http.Server to be initialized")
	}

	expectedAddr := "localhost:8080"
	if srv.server.Addr != expectedAddr {
		t.Errorf("expected addr %s, got %s", expectedAddr, srv.server.Addr)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)

	for _, path := range []string{"/health", "/live", "/ready", "/health/detailed"} {
		t.Run(path, func(t *testing.T) {
			w := doJSON(t, srv.Router(), http.MethodGet, path, nil)
			if w.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestReadinessWithoutAgent(t *testing.T) {
	srv := New(testConfig(), nil, nil, quietLogger())
	srv.Setup()

	w := doJSON(t, srv.Router(), http.MethodGet, "/ready", nil)

	// Without an agent, readiness returns 503 Service Unavailable.
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 (no agent), got %d", w.Code)
	}

	var response map[string]interface{}
	decodeJSON(t, w, &response)
	if response["status"] != "not_ready" {
		t.Errorf("expected status not_ready, got %v", response["status"])
	}
}

func TestCORSMiddleware(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)

	// OPTIONS (CORS preflight) should return 204 No Content.
	w := doJSON(t, srv.Router(), http.MethodOptions, "/health", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", w.Code)
	}

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected Access-Control-Allow-Origin header")
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Access-Control-Allow-Methods header")
	}
}

func TestRouteExists(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)

	// Routes must be registered (anything but 404).
	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/ready"},
		{http.MethodGet, "/live"},
		{http.MethodGet, "/health/detailed"},
		{http.MethodPost, "/api/v1/act"},
		{http.MethodPost, "/api/v1/rank"},
		{http.MethodGet, "/api/v1/agent"},
		{http.MethodGet, "/api/v1/model"},
		{http.MethodPost, "/api/v1/model/save"},
		{http.MethodGet, "/api/v1/neighbors/pizza"},
		{http.MethodGet, "/api/v1/sessions"},
		{http.MethodDelete, "/api/v1/sessions/none"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			w := doJSON(t, srv.Router(), route.method, route.path, nil)
			if w.Code == http.StatusNotFound {
				t.Errorf("route %s %s returned 404, route not registered", route.method, route.path)
			}
		})
	}
}

func TestActTrainingTurns(t *testing.T) {
	srv := newTestServer(t, testConfig(), newMemoryStore(t))

	turns := []dto.ActRequest{
		{SessionID: "teach", Text: "hello there friend", Labels: []string{"hi friend"}, EpisodeDone: true},
		{SessionID: "teach", Text: "goodbye cruel world", Labels: []string{"see you tomorrow"}, EpisodeDone: true},
		{SessionID: "teach", Text: "i like pizza", Labels: []string{"pizza is good"}, EpisodeDone: true},
	}

	var last dto.ActResponse
	for i, turn := range turns {
		w := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/act", turn)
		if w.Code != http.StatusOK {
			t.Fatalf("turn %d: expected status 200, got %d: %s", i, w.Code, w.Body.String())
		}
		decodeJSON(t, w, &last)
		if last.SessionID != "teach" {
			t.Errorf("turn %d: expected session_id teach, got %s", i, last.SessionID)
		}
	}

	// The first two turns only warm the negative cache; the third performs
	// a real training step and reports its metrics.
	if last.Reply.Metrics == nil {
		t.Fatal("expected metrics on the third training turn")
	}
	if last.Reply.Metrics.Negatives <= 0 {
		t.Errorf("expected negatives > 0, got %d", last.Reply.Metrics.Negatives)
	}
	if last.Reply.Metrics.MeanRank < 0 || last.Reply.Metrics.MeanRank > last.Reply.Metrics.Negatives {
		t.Errorf("mean rank %d out of range [0, %d]", last.Reply.Metrics.MeanRank, last.Reply.Metrics.Negatives)
	}
}

func TestActGeneratesSessionID(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)

	w := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/act", dto.ActRequest{
		Text: "hello there friend", Labels: []string{"hi friend"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp dto.ActResponse
	decodeJSON(t, w, &resp)
	if resp.SessionID == "" {
		t.Error("expected a generated session_id")
	}

	var info dto.ModelInfoResponse
	decodeJSON(t, doJSON(t, srv.Router(), http.MethodGet, "/api/v1/model", nil), &info)
	if info.LiveSessions != 1 {
		t.Errorf("expected 1 live session, got %d", info.LiveSessions)
	}
}

func TestActRanksCandidates(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)

	candidates := []string{"hi friend", "see you tomorrow", "pizza is good"}
	w := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/act", dto.ActRequest{
		SessionID:  "ranker",
		Text:       "hello there friend",
		Candidates: candidates,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp dto.ActResponse
	decodeJSON(t, w, &resp)
	if len(resp.Reply.TextCandidates) != len(candidates) {
		t.Fatalf("expected %d ranked candidates, got %d", len(candidates), len(resp.Reply.TextCandidates))
	}
	if resp.Reply.Text != resp.Reply.TextCandidates[0] {
		t.Errorf("reply text %q is not the top-ranked candidate %q", resp.Reply.Text, resp.Reply.TextCandidates[0])
	}

	found := false
	for _, cand := range candidates {
		if resp.Reply.Text == cand {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("reply text %q is not one of the offered candidates", resp.Reply.Text)
	}
}

func TestActValidation(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)

	t.Run("missing text", func(t *testing.T) {
		w := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/act", map[string]any{"session_id": "x"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("blank text", func(t *testing.T) {
		w := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/act", map[string]any{"text": "   "})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/act", bytes.NewReader([]byte("{not json")))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}

		var resp dto.ErrorResponse
		decodeJSON(t, w, &resp)
		if resp.Error != "invalid_request" {
			t.Errorf("expected error invalid_request, got %s", resp.Error)
		}
	})
}

func TestRankEndpoint(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)

	candidates := []string{"hi friend", "goodbye cruel world"}
	w := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/rank", dto.RankRequest{
		Text:       "hello there friend",
		Candidates: candidates,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp dto.RankResponse
	decodeJSON(t, w, &resp)
	if resp.Reply.Text != candidates[0] && resp.Reply.Text != candidates[1] {
		t.Errorf("reply text %q is not one of the offered candidates", resp.Reply.Text)
	}

	// Ranking is stateless: no session should have been created.
	var info dto.ModelInfoResponse
	decodeJSON(t, doJSON(t, srv.Router(), http.MethodGet, "/api/v1/model", nil), &info)
	if info.LiveSessions != 0 {
		t.Errorf("expected 0 live sessions after rank, got %d", info.LiveSessions)
	}

	t.Run("missing candidates", func(t *testing.T) {
		w := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/rank", map[string]any{"text": "hello"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})
}

func TestModelInfoEndpoint(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)

	w := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/model", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var info dto.ModelInfoResponse
	decodeJSON(t, w, &info)
	if info.Vocab <= 0 {
		t.Errorf("expected positive vocab, got %d", info.Vocab)
	}
	if info.EmbeddingSize != 16 {
		t.Errorf("expected embedding size 16, got %d", info.EmbeddingSize)
	}
	if !info.SharedTables {
		t.Error("expected shared tables")
	}
	if info.Optimizer != "sgd" {
		t.Errorf("expected optimizer sgd, got %s", info.Optimizer)
	}
}

func TestAgentInfoEndpoint(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)

	w := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/agent", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var info dto.AgentInfoResponse
	decodeJSON(t, w, &info)
	if info.ID != starspace.AgentID {
		t.Errorf("expected agent id %s, got %s", starspace.AgentID, info.ID)
	}
	if info.Model.EmbeddingSize != 16 {
		t.Errorf("expected embedding size 16, got %d", info.Model.EmbeddingSize)
	}
	if info.Training.Optimizer != "sgd" {
		t.Errorf("expected optimizer sgd, got %s", info.Training.Optimizer)
	}
	if info.History.Replies != "label" {
		t.Errorf("expected history replies label, got %s", info.History.Replies)
	}
}

func TestModelSaveEndpoint(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)

	t.Run("explicit path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.star")
		w := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/model/save", dto.SaveRequest{Path: path})
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}

		var resp dto.SaveResponse
		decodeJSON(t, w, &resp)
		if !resp.Success {
			t.Error("expected success")
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected checkpoint at %s: %v", path, err)
		}
	})

	t.Run("no path configured", func(t *testing.T) {
		w := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/model/save", nil)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", w.Code)
		}
	})
}

func TestNeighborsEndpoint(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)

	t.Run("known token", func(t *testing.T) {
		w := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/neighbors/pizza?k=3", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}

		var resp dto.NeighborsResponse
		decodeJSON(t, w, &resp)
		if resp.Token != "pizza" {
			t.Errorf("expected token pizza, got %s", resp.Token)
		}
		if len(resp.Neighbors) == 0 || len(resp.Neighbors) > 3 {
			t.Errorf("expected 1..3 neighbors, got %d", len(resp.Neighbors))
		}
		for _, n := range resp.Neighbors {
			if n.Token == "pizza" {
				t.Error("neighbor list should not include the queried token")
			}
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		w := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/neighbors/zebra", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})

	t.Run("bad k", func(t *testing.T) {
		w := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/neighbors/pizza?k=porcupine", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, testConfig(), newMemoryStore(t))

	act := dto.ActRequest{SessionID: "conv-1", Text: "hello there friend", Labels: []string{"hi friend"}}
	for i := 0; i < 2; i++ {
		w := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/act", act)
		if w.Code != http.StatusOK {
			t.Fatalf("act %d: expected status 200, got %d", i, w.Code)
		}
	}

	t.Run("list", func(t *testing.T) {
		var resp dto.SessionListResponse
		decodeJSON(t, doJSON(t, srv.Router(), http.MethodGet, "/api/v1/sessions", nil), &resp)
		if len(resp.Sessions) != 1 || resp.Sessions[0] != "conv-1" {
			t.Errorf("expected sessions [conv-1], got %v", resp.Sessions)
		}
	})

	t.Run("info", func(t *testing.T) {
		w := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/sessions/conv-1", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var resp dto.SessionInfoResponse
		decodeJSON(t, w, &resp)
		if resp.Turns != 2 {
			t.Errorf("expected 2 turns, got %d", resp.Turns)
		}
		if !resp.Live {
			t.Error("expected session to be live")
		}
	})

	t.Run("delete", func(t *testing.T) {
		w := doJSON(t, srv.Router(), http.MethodDelete, "/api/v1/sessions/conv-1", nil)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d", w.Code)
		}

		w = doJSON(t, srv.Router(), http.MethodGet, "/api/v1/sessions/conv-1", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404 after delete, got %d", w.Code)
		}
	})
}

func TestSessionRestoreAcrossServers(t *testing.T) {
	store := newMemoryStore(t)
	cfg := testConfig()

	srv1 := newTestServer(t, cfg, store)
	for _, turn := range []dto.ActRequest{
		{SessionID: "conv-r", Text: "hello there friend", Labels: []string{"hi friend"}, EpisodeDone: true},
		{SessionID: "conv-r", Text: "i like pizza", Labels: []string{"pizza is good"}, EpisodeDone: true},
	} {
		w := doJSON(t, srv1.Router(), http.MethodPost, "/api/v1/act", turn)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
	}

	// A second server sharing the store sees the transcript but has no
	// resident agent for it yet.
	srv2 := newTestServer(t, cfg, store)

	var info dto.SessionInfoResponse
	w := doJSON(t, srv2.Router(), http.MethodGet, "/api/v1/sessions/conv-r", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	decodeJSON(t, w, &info)
	if info.Turns != 2 {
		t.Errorf("expected 2 stored turns, got %d", info.Turns)
	}
	if info.Live {
		t.Error("expected session not to be live on a fresh server")
	}

	// Acting on the session rebuilds the agent from the transcript.
	w = doJSON(t, srv2.Router(), http.MethodPost, "/api/v1/act", dto.ActRequest{
		SessionID: "conv-r", Text: "goodbye cruel world", Labels: []string{"see you tomorrow"}, EpisodeDone: true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv2.Router(), http.MethodGet, "/api/v1/sessions/conv-r", nil)
	decodeJSON(t, w, &info)
	if !info.Live {
		t.Error("expected session to be live after acting on it")
	}
	if info.Turns != 3 {
		t.Errorf("expected 3 stored turns, got %d", info.Turns)
	}
}

func TestContextMiddleware(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Session-ID", "test-session")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}
