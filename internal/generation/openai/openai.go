// Package openai generates answers through an OpenAI-compatible chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"lawrag/internal/domain"
)

// Client implements domain.Generator with a single user message per call.
type Client struct {
	client *openai.Client
	model  string
}

type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		return nil, errors.New("openai generation model is required")
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" && cfg.BaseURL == "https://api.openai.com/v1" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	t := cfg.Timeout
	if t == 0 {
		t = 120 * time.Second
	}
	oc := openai.DefaultConfig(key)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: t}
	return &Client{client: openai.NewClientWithConfig(oc), model: cfg.Model}, nil
}

func (c *Client) Name() string { return "openai:" + c.model }

// Generate maps RepeatPenalty onto frequency_penalty as RepeatPenalty-1,
// which keeps the neutral value (1.0) neutral.
func (c *Client) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   opts.MaxOutputTokens,
		Temperature: opts.Temperature,
	}
	if opts.RepeatPenalty > 0 {
		req.FrequencyPenalty = opts.RepeatPenalty - 1
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
