package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
// Ollama serves the same API under /v1.
type Client struct {
	client      *openai.Client
	model       string
	batchSize   int
	concurrency int
	dimension   atomic.Int64
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Timeout     time.Duration
	BatchSize   int
	Concurrency int
}

// NewClient creates a new embeddings client using the provided configuration.
// A missing API key is tolerated only for non-OpenAI base URLs.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
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
		t = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	oc := openai.DefaultConfig(key)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: t}
	return &Client{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Prepare is not required for remote embedding. Dimension is learned on first encode.
func (c *Client) Prepare(corpus []string) error { return nil }

// Dimension returns the dimensionality of the produced embedding vectors, 0 before the first call.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

// Encode embeds texts in request-sized batches, running up to Concurrency requests at once.
func (c *Client) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(texts); start += c.batchSize {
		start, end := start, min(start+c.batchSize, len(texts))
		g.Go(func() error {
			return c.encodeBatch(ctx, texts[start:end], out[start:end])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) encodeBatch(ctx context.Context, texts []string, dst [][]float32) error {
	for i, t := range texts {
		if t == "" {
			return fmt.Errorf("cannot embed empty text at batch offset %d", i)
		}
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	})
	if err != nil {
		return fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(dst) {
			return fmt.Errorf("openai embeddings: response index %d out of range", d.Index)
		}
		if len(d.Embedding) == 0 {
			return errors.New("no embedding returned")
		}
		c.dimension.CompareAndSwap(0, int64(len(d.Embedding)))
		dst[d.Index] = d.Embedding
	}
	return nil
}
