package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/conversation"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/records"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/vector"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

const kb = "Question,Answer\nQual o horário de funcionamento?,Das 8h às 18h\nVocês fazem entrega?,Sim em toda a cidade\n"

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, *conversation.Prompt) (string, error) {
	return "", &models.UpstreamError{Op: "generate", Err: context.DeadlineExceeded, Retryable: true}
}

type testServer struct {
	srv     *Server
	handler http.Handler
	sync    *indexer.Synchronizer
}

func newTestServer(t *testing.T, generator conversation.Generator) *testServer {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "train.csv")
	if err := os.WriteFile(csvPath, []byte(kb), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.RecordsPath = csvPath
	cfg.Storage.IndexPath = filepath.Join(dir, "index.bin")
	cfg.Embedding.Provider = "hashing"
	cfg.Embedding.Dimensions = 64

	hashing, err := embedding.NewHashingEmbedder(64)
	if err != nil {
		t.Fatal(err)
	}
	mem, _ := vector.NewMemoryIndex(64, vector.MetricL2)
	sem, err := vector.NewSemanticIndex(hashing, mem)
	if err != nil {
		t.Fatal(err)
	}
	lex, err := keyword.NewQuestionIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = lex.Close() })
	store := records.NewStore(csvPath, records.Columns{Question: "Question", Answer: "Answer"})
	sync := indexer.NewSynchronizer(store, sem, cfg.Storage.IndexPath, indexer.WithLexicalIndex(lex))
	if err := sync.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	engine := search.NewEngine(sync, &cfg.Retrieval)
	assembler := conversation.NewAssembler(engine, conversation.NewMemoryStore(), generator,
		conversation.Options{TopK: 2})

	srv := NewServer(engine, sync, assembler, cfg, zap.NewNop())
	return &testServer{srv: srv, handler: srv.Handler(), sync: sync}
}

func (ts *testServer) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		r.Header[k] = v
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t, &conversation.ExtractiveGenerator{})
	w := ts.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
}

func TestHandleStatus(t *testing.T) {
	ts := newTestServer(t, &conversation.ExtractiveGenerator{})
	w := ts.do(t, http.MethodGet, "/api/v1/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]interface{}
	decodeBody(t, w, &out)
	if out["records"] != float64(2) || out["index_size"] != float64(2) || out["index_type"] != "memory" || out["stale"] != false {
		t.Errorf("status = %v", out)
	}
	if _, ok := out["disk_usage"]; !ok {
		t.Error("expected disk_usage")
	}
}

func TestHandleAsk(t *testing.T) {
	ts := newTestServer(t, &conversation.ExtractiveGenerator{})
	w := ts.do(t, http.MethodPost, "/api/v1/ask", `{"query":"Vocês fazem entrega?","k":1}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ask: got %d %s", w.Code, w.Body.String())
	}
	var resp models.RetrieveResponse
	decodeBody(t, w, &resp)
	if len(resp.Results) != 1 || resp.Results[0].Answer != "Sim em toda a cidade" || resp.Source != models.SourceSemantic {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleSearch_omitsAnswers(t *testing.T) {
	ts := newTestServer(t, &conversation.ExtractiveGenerator{})
	w := ts.do(t, http.MethodPost, "/api/v1/search", `{"query":"Vocês fazem entrega?"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "Sim em toda a cidade") {
		t.Error("search should not return answers")
	}
	var resp models.SearchResponse
	decodeBody(t, w, &resp)
	if len(resp.Results) != 2 || resp.Results[0].Question != "Vocês fazem entrega?" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleSearch_errors(t *testing.T) {
	ts := newTestServer(t, &conversation.ExtractiveGenerator{})
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"blank query", `{"query":"  "}`, http.StatusBadRequest},
		{"negative distance", `{"query":"x","max_distance":-1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/search", tt.body, nil)
			if w.Code != tt.want {
				t.Errorf("got %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestHandleRecords_addListDelete(t *testing.T) {
	ts := newTestServer(t, &conversation.ExtractiveGenerator{})

	w := ts.do(t, http.MethodPost, "/api/v1/records", `{"question":"Aceita pix?","answer":"Sim"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: got %d %s", w.Code, w.Body.String())
	}
	var rec models.Record
	decodeBody(t, w, &rec)
	if rec.ID != 2 {
		t.Errorf("position = %d, want 2", rec.ID)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/records", `{"question":"Aceita pix?","answer":"De novo"}`, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate: got %d", w.Code)
	}
	w = ts.do(t, http.MethodPost, "/api/v1/records", `{"question":"","answer":"x"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty question: got %d", w.Code)
	}

	w = ts.do(t, http.MethodDelete, "/api/v1/records/0", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: got %d", w.Code)
	}
	w = ts.do(t, http.MethodDelete, "/api/v1/records/9", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("out of range: got %d", w.Code)
	}
	w = ts.do(t, http.MethodDelete, "/api/v1/records/abc", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad position: got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/records", "", nil)
	var list struct {
		Records []models.Record `json:"records"`
		Count   int             `json:"count"`
	}
	decodeBody(t, w, &list)
	if list.Count != 2 || list.Records[0].Question != "Vocês fazem entrega?" || list.Records[1].ID != 1 {
		t.Errorf("list = %+v", list)
	}

	payloads := ts.sync.Index().Payloads()
	for i, r := range list.Records {
		if payloads[i] != r.Question {
			t.Errorf("index entry %d = %q, record = %q", i, payloads[i], r.Question)
		}
	}
}

func TestHandleFindAnswer(t *testing.T) {
	ts := newTestServer(t, &conversation.ExtractiveGenerator{})
	w := ts.do(t, http.MethodGet, "/api/v1/records/answer?question=Voc%C3%AAs+fazem+entrega%3F", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Sim em toda a cidade") {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, "/api/v1/records/answer?question=nada", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: got %d", w.Code)
	}
	w = ts.do(t, http.MethodGet, "/api/v1/records/answer", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank: got %d", w.Code)
	}
}

func TestHandleChat_sessionCookie(t *testing.T) {
	ts := newTestServer(t, &conversation.ExtractiveGenerator{Fallback: "Não sei"})

	w := ts.do(t, http.MethodPost, "/api/v1/chat", `{"query":"Vocês fazem entrega?"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("chat: got %d %s", w.Code, w.Body.String())
	}
	var resp models.ChatResponse
	decodeBody(t, w, &resp)
	if resp.Response != "Sim em toda a cidade" {
		t.Errorf("response = %q", resp.Response)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "kotae_session" || cookies[0].Value == "" {
		t.Fatalf("cookies = %v", cookies)
	}
	if w.Header().Get("X-Session-ID") != cookies[0].Value {
		t.Error("session header should echo the issued id")
	}

	withCookie := http.Header{"Cookie": {"kotae_session=" + cookies[0].Value}}
	w = ts.do(t, http.MethodPost, "/api/v1/chat", `{"query":"Qual o horário de funcionamento?"}`, withCookie)
	if w.Code != http.StatusOK {
		t.Fatalf("second chat: got %d", w.Code)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("existing session should not get a new cookie")
	}

	w = ts.do(t, http.MethodGet, "/api/v1/chat/history", "", withCookie)
	var hist struct {
		Session string        `json:"session"`
		Turns   []models.Turn `json:"turns"`
	}
	decodeBody(t, w, &hist)
	if hist.Session != cookies[0].Value || len(hist.Turns) != 4 {
		t.Errorf("history = %+v", hist)
	}

	w = ts.do(t, http.MethodDelete, "/api/v1/chat/history", "", withCookie)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "cleared") {
		t.Errorf("clear: got %d %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, "/api/v1/chat/history", "", withCookie)
	decodeBody(t, w, &hist)
	if len(hist.Turns) != 0 {
		t.Errorf("after clear: %d turns", len(hist.Turns))
	}
}

func TestHandleChat_headerSessionsAreIndependent(t *testing.T) {
	ts := newTestServer(t, &conversation.ExtractiveGenerator{})
	_ = ts.do(t, http.MethodPost, "/api/v1/chat", `{"query":"oi"}`, http.Header{"X-Session-Id": {"a"}})
	w := ts.do(t, http.MethodGet, "/api/v1/chat/history", "", http.Header{"X-Session-Id": {"b"}})
	var hist struct {
		Turns []models.Turn `json:"turns"`
	}
	decodeBody(t, w, &hist)
	if len(hist.Turns) != 0 {
		t.Errorf("session b sees %d turns", len(hist.Turns))
	}
}

func TestHandleChat_upstreamUnavailable(t *testing.T) {
	ts := newTestServer(t, failingGenerator{})
	w := ts.do(t, http.MethodPost, "/api/v1/chat", `{"query":"oi"}`, http.Header{"X-Session-Id": {"s"}})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d", w.Code)
	}
	var out struct {
		Error     string `json:"error"`
		Retryable bool   `json:"retryable"`
	}
	decodeBody(t, w, &out)
	if !out.Retryable || out.Error == "" {
		t.Errorf("body = %+v", out)
	}
}

func TestHandleSuggest(t *testing.T) {
	ts := newTestServer(t, &conversation.ExtractiveGenerator{})
	body := `{"message":"Posso pagar com pix?","best_practice":[{"question":"Aceita pix?","answer":"Aceitamos pix"}]}`
	w := ts.do(t, http.MethodPost, "/api/v1/suggest", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	var resp models.ChatResponse
	decodeBody(t, w, &resp)
	if resp.Response != "Aceitamos pix" {
		t.Errorf("response = %q", resp.Response)
	}
}

func TestHandleIndexRebuildAndReload(t *testing.T) {
	ts := newTestServer(t, &conversation.ExtractiveGenerator{})
	w := ts.do(t, http.MethodPost, "/api/v1/index/rebuild", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"index_size":2`) {
		t.Errorf("rebuild: got %d %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/api/v1/index/reload", "", nil)
	var out struct {
		Rebuilt bool `json:"rebuilt"`
	}
	decodeBody(t, w, &out)
	if out.Rebuilt {
		t.Error("unchanged file should not rebuild")
	}

	path := ts.sync.Store().Path()
	if err := os.WriteFile(path, []byte(kb+"Aceita pix?,Sim\n"), 0644); err != nil {
		t.Fatal(err)
	}
	w = ts.do(t, http.MethodPost, "/api/v1/index/reload", "", nil)
	decodeBody(t, w, &out)
	if !out.Rebuilt || ts.sync.Index().Size() != 3 {
		t.Errorf("reload after external edit: rebuilt=%v size=%d", out.Rebuilt, ts.sync.Index().Size())
	}
}

func TestHandler_tracingRecordsRequests(t *testing.T) {
	ts := newTestServer(t, &conversation.ExtractiveGenerator{})
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ts.srv.config.Server.Tracing = true
	ts.srv.tracing = tp

	h := ts.srv.Handler()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("got %d", w.Code)
	}
	if n := len(rec.Ended()); n != 1 {
		t.Errorf("request spans = %d, want 1", n)
	}
}

func TestHandler_corsCredentials(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		wantCreds  string
		wantOrigin string
	}{
		{"wildcard", []string{"*"}, "", "*"},
		{"listed origin", []string{"https://loja.example"}, "true", "https://loja.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &conversation.ExtractiveGenerator{})
			ts.srv.config.Server.AllowedOrigins = tt.origins
			h := ts.srv.Handler()

			r := httptest.NewRequest(http.MethodGet, "/health", nil)
			r.Header.Set("Origin", "https://loja.example")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestAllowCredentials(t *testing.T) {
	tests := []struct {
		origins []string
		want    bool
	}{
		{nil, false},
		{[]string{"*"}, false},
		{[]string{"https://loja.example", "*"}, false},
		{[]string{"https://*.example"}, false},
		{[]string{"https://loja.example", "http://localhost:3000"}, true},
	}
	for _, tt := range tests {
		if got := allowCredentials(tt.origins); got != tt.want {
			t.Errorf("allowCredentials(%v) = %v, want %v", tt.origins, got, tt.want)
		}
	}
}
