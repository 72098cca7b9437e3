package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docqa-ai/docqa-go/internal/llm"
	"github.com/docqa-ai/docqa-go/internal/qa"
	"github.com/docqa-ai/docqa-go/internal/rag"
	"github.com/docqa-ai/docqa-go/internal/store"
)

// fakeEngine answers every question with a canned result or error.
type fakeEngine struct {
	result *qa.Result
	err    error
}

func (f *fakeEngine) Answer(_ context.Context, _ qa.Request) (*qa.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeEngine) AnswerStream(_ context.Context, _ qa.Request) (<-chan llm.Fragment, []rag.Chunk, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	out := make(chan llm.Fragment, 8)
	for _, part := range strings.SplitAfter(f.result.Answer, " ") {
		out <- llm.Fragment{Text: part}
	}
	out <- llm.Fragment{Done: true}
	close(out)
	return out, f.result.Sources, nil
}

// fakeRag serves canned retrieval and document operations.
type fakeRag struct {
	chunks    []rag.Chunk
	searchErr error
	deleted   map[string]bool
	stats     rag.Stats
}

func (f *fakeRag) SearchWithScores(_ context.Context, _ string, _ int, _ *rag.Filter) ([]rag.Chunk, error) {
	return f.chunks, f.searchErr
}

func (f *fakeRag) DeleteDocument(_ context.Context, id string) bool {
	return f.deleted[id]
}

func (f *fakeRag) DocumentChunks(_ context.Context, id string) ([]rag.Chunk, error) {
	var out []rag.Chunk
	for _, c := range f.chunks {
		if c.DocumentID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRag) Statistics(_ context.Context) rag.Stats { return f.stats }

// fakeIngester records what it was asked to ingest.
type fakeIngester struct {
	chunks  int
	err     error
	gotDoc  string
	gotText string
}

func (f *fakeIngester) IngestFile(_ context.Context, path, documentID string, _ map[string]string) (int, error) {
	f.gotDoc = documentID
	return f.chunks, f.err
}

func (f *fakeIngester) IngestText(_ context.Context, text, documentID, _ string, _ map[string]string) (int, error) {
	f.gotDoc = documentID
	f.gotText = text
	return f.chunks, f.err
}

func newTestServer(t *testing.T, deps Deps, cfg *Config) *httptest.Server {
	t.Helper()
	s, err := New(deps, cfg, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(s.stopRL)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleAsk(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{result: &qa.Result{
		Answer:  "the grounded answer",
		Sources: []rag.Chunk{{DocumentID: "doc", Source: "doc.md", ChunkIndex: 0, Score: 0.9, Content: "ctx"}},
	}}
	srv := newTestServer(t, Deps{Engine: engine}, nil)

	resp := postJSON(t, srv.URL+"/api/ask", `{"question":"how?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var body askResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Answer != "the grounded answer" {
		t.Errorf("answer mismatch: %q", body.Answer)
	}
	if len(body.Sources) != 1 || body.Sources[0].DocumentID != "doc" {
		t.Errorf("sources mismatch: %+v", body.Sources)
	}
}

func TestHandleAsk_Validation(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, Deps{Engine: &fakeEngine{result: &qa.Result{}}}, nil)

	resp := postJSON(t, srv.URL+"/api/ask", `{"question":"   "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank question: want 400, got %d", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/ask", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body: want 400, got %d", resp.StatusCode)
	}
}

func TestHandleAsk_EngineNotInitialized(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, Deps{}, nil)

	resp := postJSON(t, srv.URL+"/api/ask", `{"question":"q"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("want 503, got %d", resp.StatusCode)
	}
}

func TestHandleAsk_GenerationErrorMapsToBadGateway(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{err: &llm.GenerationError{Status: 500, Body: "boom"}}
	srv := newTestServer(t, Deps{Engine: engine}, nil)

	resp := postJSON(t, srv.URL+"/api/ask", `{"question":"q"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("want 502, got %d", resp.StatusCode)
	}
}

func TestHandleAskStream(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{result: &qa.Result{
		Answer:  "streamed words",
		Sources: []rag.Chunk{{DocumentID: "doc"}},
	}}
	srv := newTestServer(t, Deps{Engine: engine}, nil)

	resp := postJSON(t, srv.URL+"/api/ask/stream", `{"question":"q"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("want SSE content type, got %q", ct)
	}

	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	out := sb.String()

	if !strings.Contains(out, "event: sources") {
		t.Errorf("sources event missing:\n%s", out)
	}
	if !strings.Contains(out, "data: streamed") {
		t.Errorf("answer data missing:\n%s", out)
	}
	if !strings.Contains(out, "event: done") {
		t.Errorf("done event missing:\n%s", out)
	}
	if strings.Index(out, "event: sources") > strings.Index(out, "data: streamed") {
		t.Error("sources must arrive before answer text")
	}
}

func TestHandleIngest_Text(t *testing.T) {
	t.Parallel()
	ing := &fakeIngester{chunks: 3}
	srv := newTestServer(t, Deps{Ingest: ing}, nil)

	resp := postJSON(t, srv.URL+"/api/documents", `{"text":"doc body","document_id":"doc-1"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("want 201, got %d", resp.StatusCode)
	}

	var body ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.DocumentID != "doc-1" || body.Chunks != 3 {
		t.Errorf("response mismatch: %+v", body)
	}
	if ing.gotText != "doc body" {
		t.Errorf("text not forwarded: %q", ing.gotText)
	}
}

func TestHandleIngest_Validation(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, Deps{Ingest: &fakeIngester{}}, nil)

	cases := []struct {
		name string
		body string
	}{
		{"neither path nor text", `{}`},
		{"both path and text", `{"path":"/a.txt","text":"b"}`},
		{"text without document_id", `{"text":"b"}`},
	}
	for _, tc := range cases {
		resp := postJSON(t, srv.URL+"/api/documents", tc.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: want 400, got %d", tc.name, resp.StatusCode)
		}
	}
}

func TestHandleDeleteDocument(t *testing.T) {
	t.Parallel()
	ragSvc := &fakeRag{deleted: map[string]bool{"doc-x": true}}
	srv := newTestServer(t, Deps{Rag: ragSvc}, nil)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/documents/doc-x", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("want 204, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/documents/missing", nil)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("want 404 for unknown document, got %d", resp2.StatusCode)
	}
}

func TestHandleDocumentChunks(t *testing.T) {
	t.Parallel()
	ragSvc := &fakeRag{chunks: []rag.Chunk{
		{DocumentID: "doc-y", ChunkIndex: 0, Content: "first", Source: "y.md"},
		{DocumentID: "doc-y", ChunkIndex: 1, Content: "second", Source: "y.md"},
	}}
	srv := newTestServer(t, Deps{Rag: ragSvc}, nil)

	resp, err := http.Get(srv.URL + "/api/documents/doc-y/chunks")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var body struct {
		DocumentID string      `json:"document_id"`
		Chunks     []chunkInfo `json:"chunks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Chunks) != 2 || body.Chunks[0].Content != "first" {
		t.Errorf("chunks mismatch: %+v", body)
	}

	resp2, err := http.Get(srv.URL + "/api/documents/unknown/chunks")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("want 404 for unknown document, got %d", resp2.StatusCode)
	}
}

func TestHandleSearch(t *testing.T) {
	t.Parallel()
	ragSvc := &fakeRag{chunks: []rag.Chunk{
		{DocumentID: "d", ChunkIndex: 2, Score: 0.83, Content: "matched text"},
	}}
	srv := newTestServer(t, Deps{Rag: ragSvc}, nil)

	resp := postJSON(t, srv.URL+"/api/search", `{"query":"matched"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var body struct {
		Results []searchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0].Score != 0.83 {
		t.Errorf("results mismatch: %+v", body.Results)
	}
}

func TestHandleSearch_ErrorPropagates(t *testing.T) {
	t.Parallel()
	ragSvc := &fakeRag{searchErr: errors.New("index down")}
	srv := newTestServer(t, Deps{Rag: ragSvc}, nil)

	resp := postJSON(t, srv.URL+"/api/search", `{"query":"q"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("want 500, got %d", resp.StatusCode)
	}
}

func TestHandleStats(t *testing.T) {
	t.Parallel()
	ragSvc := &fakeRag{stats: rag.Stats{TotalChunks: 42, Target: "memory"}}
	srv := newTestServer(t, Deps{Rag: ragSvc}, nil)

	resp, err := http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ready" || body.TotalChunks != 42 {
		t.Errorf("stats mismatch: %+v", body)
	}
}

func TestHandleStats_NotInitialized(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, Deps{}, nil)

	resp, err := http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	// Uninitialized state is data, not an error.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var body statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "not_initialized" {
		t.Errorf("want not_initialized status, got %q", body.Status)
	}
}

func TestHandleQueryMetrics(t *testing.T) {
	t.Parallel()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.RecordQuery(context.Background(), store.QueryRecord{Question: "q", NumSources: 2, LatencyMS: 50, Success: true}); err != nil {
		t.Fatalf("record: %v", err)
	}

	srv := newTestServer(t, Deps{Metrics: st}, nil)

	resp, err := http.Get(srv.URL + "/api/metrics/queries")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body store.QueryStats
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TotalQueries != 1 || body.SuccessRate != 1 {
		t.Errorf("query stats mismatch: %+v", body)
	}
}

func TestHandleEval(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{result: &qa.Result{
		Answer:  "mentions alpha",
		Sources: []rag.Chunk{{ID: "s"}},
	}}
	srv := newTestServer(t, Deps{Engine: engine}, nil)

	resp := postJSON(t, srv.URL+"/api/eval",
		`{"cases":[{"question":"q","expected_keywords":["alpha","beta"]}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var body struct {
		Summary struct {
			TotalCases         int     `json:"total_cases"`
			AvgKeywordCoverage float64 `json:"avg_keyword_coverage"`
		} `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Summary.TotalCases != 1 || body.Summary.AvgKeywordCoverage != 50 {
		t.Errorf("summary mismatch: %+v", body.Summary)
	}
}

func TestHandleEvalRetrieval(t *testing.T) {
	t.Parallel()
	ragSvc := &fakeRag{chunks: []rag.Chunk{{ID: "top", Score: 0.9}}}
	srv := newTestServer(t, Deps{Rag: ragSvc}, nil)

	resp := postJSON(t, srv.URL+"/api/eval/retrieval", `{"questions":["probe one"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var body struct {
		Excellent      int    `json:"excellent"`
		Recommendation string `json:"recommendation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Excellent != 1 || body.Recommendation == "" {
		t.Errorf("retrieval report mismatch: %+v", body)
	}
}

func TestAuth_ProtectedAndPublicRoutes(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{result: &qa.Result{Answer: "ok"}}
	srv := newTestServer(t, Deps{Engine: engine}, &Config{APIKey: "sekrit"})

	// No token: 401 on protected routes.
	resp := postJSON(t, srv.URL+"/api/ask", `{"question":"q"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing token: want 401, got %d", resp.StatusCode)
	}

	// Wrong token: 401.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/ask", strings.NewReader(`{"question":"q"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: want 401, got %d", resp2.StatusCode)
	}

	// Correct token: 200.
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/api/ask", strings.NewReader(`{"question":"q"}`))
	req.Header.Set("Authorization", "Bearer sekrit")
	resp3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Errorf("valid token: want 200, got %d", resp3.StatusCode)
	}

	// Health stays public.
	resp4, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp4.Body.Close()
	if resp4.StatusCode != http.StatusOK {
		t.Errorf("health must stay public: got %d", resp4.StatusCode)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, Deps{}, nil)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
}

// failingPinger always reports a down dependency.
type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("unreachable") }
func (failingPinger) Name() string               { return "qdrant" }

// okPinger always reports a healthy dependency.
type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }
func (okPinger) Name() string               { return "ollama" }

func TestHandleReady(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, Deps{}, &Config{Pingers: []Pinger{okPinger{}, failingPinger{}}})

	resp, err := http.Get(srv.URL + "/api/ready")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("want 503 with a failing dependency, got %d", resp.StatusCode)
	}

	var body readyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Ready {
		t.Error("ready must be false")
	}
	if len(body.Checks) != 2 || body.Checks[0].Name != "ollama" || !body.Checks[0].OK {
		t.Errorf("checks mismatch: %+v", body.Checks)
	}
	if body.Checks[1].OK || body.Checks[1].Error == "" {
		t.Errorf("failing check must carry its error: %+v", body.Checks[1])
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{result: &qa.Result{Answer: "ok"}}
	srv := newTestServer(t, Deps{Engine: engine}, &Config{RateLimit: 1, RateBurst: 2})

	var got429 bool
	for i := 0; i < 5; i++ {
		resp := postJSON(t, srv.URL+"/api/ask", `{"question":"q"}`)
		if resp.StatusCode == http.StatusTooManyRequests {
			got429 = true
			if resp.Header.Get("Retry-After") == "" {
				t.Error("429 must carry Retry-After")
			}
			break
		}
	}
	if !got429 {
		t.Error("burst of requests never hit the rate limit")
	}
}
