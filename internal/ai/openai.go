package ai

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI also serves OpenAI-compatible endpoints (search models used by the
// threat collector) through BaseURL.
type OpenAI struct {
	client    *openai.Client
	model     string
	system    string
	maxTokens int
}

func NewOpenAI(cfg Config) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(oc),
		model:     model,
		system:    cfg.System,
		maxTokens: cfg.MaxTokens,
	}
}

func (o *OpenAI) Name() string { return "openai:" + o.model }

func (o *OpenAI) Infer(ctx context.Context, prompt string) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if o.system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: 0.2,
	}
	// reasoning models reject max_tokens
	if strings.HasPrefix(o.model, "o1") || strings.HasPrefix(o.model, "o3") || strings.HasPrefix(o.model, "gpt-5") {
		req.MaxCompletionTokens = o.maxTokens
		req.Temperature = 0
	} else {
		req.MaxTokens = o.maxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
