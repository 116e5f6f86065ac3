// Package ai wraps the inference backends behind one interface so the
// analysis stage and the threat collector do not care which vendor answers.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyResponse = errors.New("ai: empty response")

type Inferencer interface {
	Infer(ctx context.Context, prompt string) (string, error)
	Name() string
}

type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	System    string
	MaxTokens int
}

// New returns the inferencer for cfg.Provider.
func New(cfg Config) (Inferencer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ai: no api key for provider %q", cfg.Provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	switch strings.ToLower(cfg.Provider) {
	case "claude", "anthropic":
		return NewClaude(cfg), nil
	case "openai", "perplexity":
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("ai: unknown provider %q", cfg.Provider)
	}
}
