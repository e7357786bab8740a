package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIProviderEmbed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := apiResponse{}
		for range req.Input {
			resp.Data = append(resp.Data, apiEmbeddingData{Embedding: []float32{0.1, 0.2, 0.3}})
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "test-model"})

	vectors, err := p.Embed(context.Background(), []string{"fintech lead", "pricing question"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if len(vectors[0]) != 3 {
		t.Fatalf("got dimension %d, want 3", len(vectors[0]))
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}

func TestAPIProviderEmbed_Empty(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unused", Model: "test-model", Dimension: 128})

	vectors, err := p.Embed(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
}

func TestAPIProviderDimension_Fallback(t *testing.T) {
	p := NewAPIProvider(Config{Endpoint: "http://unused", Model: "test-model", Dimension: 256})

	if d := p.Dimension(); d != 256 {
		t.Errorf("got dimension %d, want configured default 256", d)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	if _, ok := New(Config{Provider: "local"}).(*LocalProvider); !ok {
		t.Error("provider=local should build a LocalProvider")
	}
	if _, ok := New(Config{Provider: "api"}).(*APIProvider); !ok {
		t.Error("provider=api should build an APIProvider")
	}
	if _, ok := New(Config{}).(*APIProvider); !ok {
		t.Error("empty provider should default to the API backend")
	}
}
