package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// AnthropicProvider implements Provider for the Claude messages API.
type AnthropicProvider struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg Config, logger *zap.Logger) *AnthropicProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com/v1"
	}
	return &AnthropicProvider{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (p *AnthropicProvider) ID() string   { return p.config.ID }
func (p *AnthropicProvider) Name() string { return p.config.Name }

type anthropicRequest struct {
	Model       string         `json:"model"`
	Messages    []anthropicMsg `json:"messages"`
	System      string         `json:"system,omitempty"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature,omitempty"`
	Stop        []string       `json:"stop_sequences,omitempty"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends a non-streaming messages request to Claude. System messages
// are folded into the top-level system field per the Anthropic API shape.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	ar := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	}
	if ar.MaxTokens == 0 {
		ar.MaxTokens = 4096
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			if ar.System != "" {
				ar.System += "\n\n"
			}
			ar.System += m.Content
			continue
		}
		ar.Messages = append(ar.Messages, anthropicMsg{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(ar)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var cr anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	content := ""
	for _, c := range cr.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}
	return &ChatResponse{
		ID:           cr.ID,
		Model:        cr.Model,
		Content:      content,
		FinishReason: cr.StopReason,
		Usage: Usage{
			PromptTokens:     cr.Usage.InputTokens,
			CompletionTokens: cr.Usage.OutputTokens,
			TotalTokens:      cr.Usage.InputTokens + cr.Usage.OutputTokens,
		},
	}, nil
}

// ListModels returns the known Claude models.
func (p *AnthropicProvider) ListModels(_ context.Context) ([]Model, error) {
	return []Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", Provider: p.config.ID, MaxTokens: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", Provider: p.config.ID, MaxTokens: 200000},
	}, nil
}

// HealthCheck sends a minimal message to verify reachability.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	_, err := p.Chat(ctx, &ChatRequest{
		Model:     "claude-3-5-haiku-20241022",
		Messages:  []Message{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}
