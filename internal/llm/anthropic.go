package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

type AnthropicProvider struct {
	apiKey    string
	model     string
	maxTokens int
	client    *anthropic.Client
}

func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicProvider{
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: maxTokens,
		client:    anthropic.NewClient(cfg.APIKey, opts...),
	}
}

func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	if p.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	system, conversation := SplitSystem(messages)
	if len(conversation) == 0 {
		return "", errors.New("anthropic request needs at least one non-system message")
	}

	converted := make([]anthropic.Message, 0, len(conversation))
	for _, msg := range conversation {
		role := anthropic.RoleUser
		if msg.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		converted = append(converted, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
		})
	}

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(p.model),
		Messages:  converted,
		MaxTokens: p.maxTokens,
	}
	if system != "" {
		req.MultiSystem = []anthropic.MessageSystemPart{{Type: "text", Text: system}}
	}

	resp, err := p.client.CreateMessages(ctx, req)
	if err != nil {
		return "", classifyError(err)
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text.WriteString(*block.Text)
		}
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
