package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestOpenAIProviderChat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("got auth header %q", got)
		}
		var req openaiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "gpt-4o-mini" {
			t.Errorf("got model %q", req.Model)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "resp-1",
			"model": req.Model,
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hello"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOpenAIProvider(Config{ID: "oa", Endpoint: srv.URL, APIKey: "sk-test"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("got content %q, want hello", resp.Content)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("got usage %d, want 12", resp.Usage.TotalTokens)
	}
}

func TestOpenAIProviderChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{ID: "oa", Endpoint: srv.URL}, zap.NewNop())
	if _, err := p.Chat(context.Background(), &ChatRequest{Model: "m"}); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestAnthropicProviderChat_SystemFolding(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.System != "you are a sales agent" {
			t.Errorf("got system %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("system turn must not appear in messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "msg-1", "model": req.Model,
			"content":     []map[string]string{{"type": "text", "text": "ok"}},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 5, "output_tokens": 1},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAnthropicProvider(Config{ID: "an", Endpoint: srv.URL, APIKey: "key"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Model: "claude-3-5-haiku-20241022",
		Messages: []Message{
			{Role: "system", Content: "you are a sales agent"},
			{Role: "user", Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("got %q, want ok", resp.Content)
	}
	if resp.Usage.TotalTokens != 6 {
		t.Errorf("got usage %d, want 6", resp.Usage.TotalTokens)
	}
}

// fakeProvider lets router tests control failure behavior.
type fakeProvider struct {
	id   string
	err  error
	resp *ChatResponse
}

func (f *fakeProvider) ID() string   { return f.id }
func (f *fakeProvider) Name() string { return f.id }
func (f *fakeProvider) Chat(_ context.Context, _ *ChatRequest) (*ChatResponse, error) {
	return f.resp, f.err
}
func (f *fakeProvider) ListModels(_ context.Context) ([]Model, error) { return nil, nil }
func (f *fakeProvider) HealthCheck(_ context.Context) error           { return f.err }

func TestRouterFallbackChain(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&fakeProvider{id: "primary", err: errors.New("down")})
	r.Register(&fakeProvider{id: "backup", resp: &ChatResponse{Content: "from backup"}})
	r.Bind("org1", "primary")
	r.SetFallbacks("org1", []string{"backup"})

	resp, err := r.Chat(context.Background(), "org1", &ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("got %q, want from backup", resp.Content)
	}
}

func TestRouterDefaultAndMissing(t *testing.T) {
	r := NewRouter(zap.NewNop())
	if _, err := r.Chat(context.Background(), "org1", &ChatRequest{}); err == nil {
		t.Fatal("expected error with no providers")
	}

	r.Register(&fakeProvider{id: "only", resp: &ChatResponse{Content: "hi"}})
	resp, err := r.Chat(context.Background(), "unbound-org", &ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi" {
		t.Error("unbound org should fall through to the default provider")
	}
}
