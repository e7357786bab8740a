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

// APIProvider embeds text through an OpenAI-compatible /embeddings endpoint.
type APIProvider struct {
	endpoint  string
	model     string
	apiKey    string
	dimension int
	client    *http.Client

	once    sync.Once
	seenDim int
}

// NewAPIProvider creates an APIProvider from the given Config.
func NewAPIProvider(cfg Config) *APIProvider {
	return &APIProvider{
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiEmbeddingData struct {
	Embedding []float32 `json:"embedding"`
}

type apiResponse struct {
	Data []apiEmbeddingData `json:"data"`
}

// Embed sends texts in one batch and returns vectors in input order.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(apiRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}

	vectors := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		vectors[i] = d.Embedding
	}

	if len(vectors) > 0 && len(vectors[0]) > 0 {
		p.once.Do(func() { p.seenDim = len(vectors[0]) })
	}
	return vectors, nil
}

// Dimension returns the dimension observed on the first successful
// embed, or the configured default before that.
func (p *APIProvider) Dimension() int {
	if p.seenDim > 0 {
		return p.seenDim
	}
	return p.dimension
}
