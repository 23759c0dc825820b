package embed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// openaiProvider uses the OpenAI embeddings API via the go-openai client.
type openaiProvider struct {
	cfg    Config
	client *openai.Client
}

// NewOpenAI creates a provider for the OpenAI embeddings API (or any
// compatible endpoint when BaseURL is set).
func NewOpenAI(cfg Config) Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openaiProvider{cfg: cfg, client: openai.NewClientWithConfig(clientCfg)}
}

func (p *openaiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.cfg.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	result := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(result) {
			return nil, fmt.Errorf("openai returned out-of-range embedding index %d", d.Index)
		}
		result[d.Index] = d.Embedding
	}
	return result, nil
}
