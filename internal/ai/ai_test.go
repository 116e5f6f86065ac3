package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsProvider(t *testing.T) {
	inf, err := New(Config{Provider: "claude", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Claude{}, inf)

	inf, err = New(Config{Provider: "OpenAI", APIKey: "k", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4o", inf.Name())

	_, err = New(Config{Provider: "bard", APIKey: "k"})
	assert.Error(t, err)

	_, err = New(Config{Provider: "openai"})
	assert.Error(t, err)
}

func TestOpenAIInfer(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"  CVE-2021-23337 allows command injection.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	inf := NewOpenAI(Config{APIKey: "k", BaseURL: srv.URL, System: "be precise", MaxTokens: 64})
	text, err := inf.Infer(context.Background(), "summarize")
	require.NoError(t, err)

	assert.Equal(t, "CVE-2021-23337 allows command injection.", text)
	assert.Equal(t, DefaultOpenAIModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "summarize", got.Messages[1].Content)
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI(Config{APIKey: "k", BaseURL: srv.URL}).Infer(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClaudeInfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","type":"message","role":"assistant","model":"claude-3-5-sonnet-latest","content":[{"type":"text","text":"According to NVD reports, lodash is affected."}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":9}}`))
	}))
	defer srv.Close()

	text, err := NewClaude(Config{APIKey: "k", BaseURL: srv.URL, MaxTokens: 64}).Infer(context.Background(), "summarize")
	require.NoError(t, err)
	assert.Equal(t, "According to NVD reports, lodash is affected.", text)
}
