package ai

import (
	"context"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

const DefaultClaudeModel = "claude-3-5-sonnet-latest"

type Claude struct {
	client    *anthropic.Client
	model     string
	system    string
	maxTokens int
}

func NewClaude(cfg Config) *Claude {
	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultClaudeModel
	}
	return &Claude{
		client:    anthropic.NewClient(cfg.APIKey, opts...),
		model:     model,
		system:    cfg.System,
		maxTokens: cfg.MaxTokens,
	}
}

func (c *Claude) Name() string { return "claude:" + c.model }

func (c *Claude) Infer(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:  anthropic.Model(c.model),
		System: c.system,
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(prompt),
				},
			},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, part := range resp.Content {
		if part.Text != nil {
			sb.WriteString(*part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
