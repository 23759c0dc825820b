// Package embed provides sentence-embedding providers for ingredient
// clustering. The embedding model is an opaque oracle: given texts it
// returns vectors, and nothing in this module depends on how.
package embed

import (
	"context"
	"fmt"
)

// Provider generates embeddings for a batch of texts.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config configures an embedding provider endpoint.
type Config struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, openai
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// NewProvider creates an embedding provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "":
		return nil, fmt.Errorf("embedding provider not specified")
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
