// Package embedding turns memory text into vectors for the similarity
// index.
package embedding

import (
	"context"
	"fmt"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "hash" (default), "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New builds the configured provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "hash":
		return NewHashProvider(cfg.Dimension), nil
	case "api":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedding: api provider needs an endpoint")
		}
		return NewAPIProvider(cfg), nil
	case "local":
		if cfg.Model == "" {
			return nil, fmt.Errorf("embedding: local provider needs a model")
		}
		return NewLocalProvider(cfg), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}
