package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// LocalProvider embeds text through an Ollama-compatible endpoint, one
// text per request.
type LocalProvider struct {
	endpoint  string
	model     string
	dimension int
	client    *http.Client

	once    sync.Once
	seenDim int
}

// NewLocalProvider creates a LocalProvider from the given Config.
func NewLocalProvider(cfg Config) *LocalProvider {
	return &LocalProvider{
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns one vector per text, in input order.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := p.embedSingle(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}

	if len(vectors) > 0 && len(vectors[0]) > 0 {
		p.once.Do(func() { p.seenDim = len(vectors[0]) })
	}
	return vectors, nil
}

func (p *LocalProvider) embedSingle(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(localRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result localResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	return result.Embedding, nil
}

// Dimension returns the dimension observed on the first successful
// embed, or the configured default before that.
func (p *LocalProvider) Dimension() int {
	if p.seenDim > 0 {
		return p.seenDim
	}
	return p.dimension
}
