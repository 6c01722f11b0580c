package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

func TestMessages(t *testing.T) {
	p := &Prompt{
		System: "sys",
		History: []models.Turn{
			{Role: models.RoleUser, Content: "oi"},
			{Role: models.RoleAssistant, Content: "olá"},
		},
		Query: "Tem entrega?",
	}
	msgs := Messages(p)
	if len(msgs) != 4 {
		t.Fatalf("len = %d", len(msgs))
	}
	roles := []string{openai.ChatMessageRoleSystem, openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant, openai.ChatMessageRoleUser}
	for i, r := range roles {
		if msgs[i].Role != r {
			t.Errorf("msg %d role = %s, want %s", i, msgs[i].Role, r)
		}
	}
	if msgs[3].Content != p.UserContent() {
		t.Error("last message should carry the rendered query")
	}
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "gpt-4-turbo" || req.MaxTokens != 256 {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "  Sim, entregamos!  "},
			}},
		})
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator("sk-test", "gpt-4-turbo", 0, 256, WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.Generate(context.Background(), &Prompt{System: "sys", Query: "Tem entrega?"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Sim, entregamos!" {
		t.Errorf("got %q", got)
	}
}

func TestOpenAIGenerator_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()
	g, _ := NewOpenAIGenerator("sk-test", "gpt-4-turbo", 0, 0, WithBaseURL(srv.URL))
	if _, err := g.Generate(context.Background(), &Prompt{Query: "x"}); err == nil {
		t.Error("expected error")
	}
	if _, err := NewOpenAIGenerator("", "m", 0, 0); err == nil {
		t.Error("expected missing key error")
	}
}
