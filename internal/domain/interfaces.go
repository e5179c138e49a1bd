package domain

import (
	"context"
	"time"
)

// CorpusItem is a single legal-code passage and the citation key derived from its metadata.
type CorpusItem struct {
	Text     string
	SourceID string
}

// Hit is a retrieved corpus item with its squared Euclidean distance to the query.
type Hit struct {
	Item     CorpusItem
	Distance float32
}

// RetrievalResult is ordered best match first.
type RetrievalResult []Hit

// SourceIDs returns the source identifiers of the hits in result order.
func (r RetrievalResult) SourceIDs() []string {
	ids := make([]string, len(r))
	for i, h := range r {
		ids[i] = h.Item.SourceID
	}
	return ids
}

// Answer is what a single question produces.
type Answer struct {
	Text    string
	Sources []string
	Elapsed time.Duration
}

// Embedder converts a batch of texts into fixed-dimension vectors, one row per input.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Dimension() int
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerateOptions tune a single generation call.
type GenerateOptions struct {
	MaxOutputTokens int
	Temperature     float32
	RepeatPenalty   float32
}

// Generator turns a prompt into an answer.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
