// Package llm talks to hosted language models, either as chat clients or as
// raw prompt completers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fabfab/paper-agent/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const defaultTimeout = 60 * time.Second

// ErrMissingAPIKey is returned by constructors when the selected provider
// needs a key that is not configured.
var ErrMissingAPIKey = errors.New("api key not configured")

type Message struct {
	Role    string
	Content string
}

// Client is a chat-style model.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Completer continues a raw prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Sampling controls generation.
type Sampling struct {
	MaxNewTokens int
	Temperature  float64
	TopP         float64
}

type Options struct {
	Provider string
	Model    string
	Sampling Sampling
	Timeout  time.Duration

	HuggingFaceAPIKey  string
	HuggingFaceBaseURL string
	OllamaHost         string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
}

func optionsFrom(cfg config.Config) Options {
	return Options{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		Sampling: Sampling{
			MaxNewTokens: cfg.LLM.MaxNewTokens,
			Temperature:  cfg.LLM.Temperature,
			TopP:         cfg.LLM.TopP,
		},
		Timeout:            cfg.LLM.Timeout,
		HuggingFaceAPIKey:  cfg.HuggingFaceAPIKey,
		HuggingFaceBaseURL: cfg.HuggingFaceBaseURL,
		OllamaHost:         cfg.OllamaHost,
		OpenAIAPIKey:       cfg.OpenAIAPIKey,
		OpenAIBaseURL:      cfg.OpenAIBaseURL,
	}
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return defaultTimeout
}

// NewClient returns the chat client for the configured provider.
func NewClient(cfg config.Config) (Client, error) {
	opts := optionsFrom(cfg)

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set: %w", ErrMissingAPIKey)
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}

// NewCompleter returns the prompt completer for the configured provider.
// Chat providers are wrapped so the prompt becomes a single user message.
func NewCompleter(cfg config.Config) (Completer, error) {
	opts := optionsFrom(cfg)
	if opts.Provider == config.ProviderHuggingFace {
		if opts.HuggingFaceAPIKey == "" {
			return nil, fmt.Errorf("huggingface provider selected but HUGGINGFACE_API_KEY not set: %w", ErrMissingAPIKey)
		}
		return NewHuggingFaceCompleter(opts), nil
	}

	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return ChatCompleter{Client: client}, nil
}

// ChatCompleter adapts a chat Client to the Completer interface.
type ChatCompleter struct {
	Client Client
}

func (c ChatCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return c.Client.Generate(ctx, []Message{{Role: RoleUser, Content: prompt}})
}

var _ Completer = ChatCompleter{}
