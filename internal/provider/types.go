package provider

import (
	"context"
	"time"
)

// Provider is the language-model service boundary. The engine treats it
// as a black box that may return malformed text; every caller keeps a
// fail-closed fallback.
type Provider interface {
	ID() string
	Name() string
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ListModels(ctx context.Context) ([]Model, error)
	HealthCheck(ctx context.Context) error
}

// ChatRequest is a request to an LLM provider.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // system|user|assistant
	Content string `json:"content"`
}

// ChatResponse is a provider's reply.
type ChatResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Model describes an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens"`
}

// Config holds settings for one provider instance.
type Config struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"` // openai|anthropic
	Name     string        `json:"name"`
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}
