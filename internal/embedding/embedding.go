package embedding

import "context"

// Provider turns text into vectors for the semantic memory index.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config selects and configures an embedding backend.
type Config struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New builds the provider named by the config. Anything that is not
// "local" gets the OpenAI-compatible API backend.
func New(cfg Config) Provider {
	if cfg.Provider == "local" {
		return NewLocalProvider(cfg)
	}
	return NewAPIProvider(cfg)
}
