// Package ollama calls the native Ollama generate endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lawrag/internal/domain"
)

// Client is a minimal REST client for POST /api/generate.
// It never retries; a failed call is reported to the caller as is.
type Client struct {
	url    string
	model  string
	client *http.Client
}

type Config struct {
	URL     string
	Model   string
	Timeout time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		url:    strings.TrimRight(cfg.URL, "/"),
		model:  cfg.Model,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return "ollama:" + c.model }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate sends prompt with num_predict, temperature and repeat_penalty options.
func (c *Client) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	body := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"num_predict":    opts.MaxOutputTokens,
			"temperature":    opts.Temperature,
			"repeat_penalty": opts.RepeatPenalty,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var out generateResponse
	decodeErr := json.Unmarshal(payload, &out)
	if resp.StatusCode >= 300 {
		if decodeErr == nil && out.Error != "" {
			return "", fmt.Errorf("ollama generate failed: %s: %s", resp.Status, out.Error)
		}
		return "", fmt.Errorf("ollama generate failed: %s", resp.Status)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode ollama response: %w", decodeErr)
	}
	if out.Error != "" {
		return "", errors.New(out.Error)
	}
	return strings.TrimSpace(out.Response), nil
}
