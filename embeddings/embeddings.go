// Package embeddings turns chunk and query text into dense vectors.
package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/fabfab/paper-agent/config"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultBatchSize   = 32
	defaultConcurrency = 4
)

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Provider  string
	Model     string
	Dimension int

	HuggingFaceAPIKey  string
	HuggingFaceBaseURL string
	OllamaHost         string
	OpenAIAPIKey       string
	OpenAIBaseURL      string

	Timeout     time.Duration
	BatchSize   int
	Concurrency int
}

func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := Options{
		Provider:           cfg.Embeddings.Provider,
		Model:              cfg.Embeddings.Model,
		Dimension:          cfg.Embeddings.Dimension,
		HuggingFaceAPIKey:  cfg.HuggingFaceAPIKey,
		HuggingFaceBaseURL: cfg.HuggingFaceBaseURL,
		OllamaHost:         cfg.OllamaHost,
		OpenAIAPIKey:       cfg.OpenAIAPIKey,
		OpenAIBaseURL:      cfg.OpenAIBaseURL,
		Timeout:            cfg.Vector.Timeout,
	}

	switch opts.Provider {
	case config.ProviderHuggingFace:
		if opts.HuggingFaceAPIKey == "" {
			return nil, fmt.Errorf("huggingface provider selected but HUGGINGFACE_API_KEY not set")
		}
		return NewHuggingFaceEmbedder(opts), nil
	case config.ProviderOllama:
		return NewOllamaEmbedder(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(opts), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return defaultTimeout
}

func (o Options) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return defaultBatchSize
}

func (o Options) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return defaultConcurrency
}

func checkDimension(provider string, want int, vec []float32) error {
	if want > 0 && len(vec) != want {
		return fmt.Errorf("%s embedding dimension mismatch: expected %d, got %d", provider, want, len(vec))
	}
	return nil
}
