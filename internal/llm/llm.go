package llm

import (
	"context"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Provider interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

type Config struct {
	Provider         string
	Model            string
	BaseURL          string
	FallbackProvider string
	FallbackModel    string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
	AnthropicAPIKey  string
	Timeout          time.Duration
}

const (
	defaultOpenAIModel     = "gpt-4"
	defaultOpenRouterModel = "openai/gpt-4o-mini"
	defaultAnthropicModel  = "claude-3-opus-20240229"
)

func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   defaultIfEmpty(cfg.Model, defaultOpenAIModel),
			BaseURL: cfg.BaseURL,
		}), nil
	case "openrouter":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   defaultIfEmpty(cfg.Model, defaultOpenRouterModel),
			BaseURL: defaultIfEmpty(cfg.BaseURL, "https://openrouter.ai/api/v1"),
		}), nil
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   defaultIfEmpty(cfg.Model, defaultAnthropicModel),
			BaseURL: cfg.BaseURL,
		}), nil
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
}

// NewFromConfig builds the primary provider and, when configured, a fallback,
// wrapped in retry and failover handling.
func NewFromConfig(cfg Config) (Provider, error) {
	primary, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	candidates := []Candidate{{Name: cfg.Provider, Provider: primary}}
	if fallback := strings.TrimSpace(cfg.FallbackProvider); fallback != "" && fallback != cfg.Provider {
		fallbackCfg := cfg
		fallbackCfg.Provider = fallback
		fallbackCfg.Model = cfg.FallbackModel
		fallbackCfg.BaseURL = ""
		secondary, err := NewProvider(fallbackCfg)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{Name: fallback, Provider: secondary})
	}
	return NewRetryingProvider(candidates, RetryOptions{AttemptTimeout: cfg.Timeout}), nil
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// SplitSystem separates system messages from the conversation.
func SplitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}
