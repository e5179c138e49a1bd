// Package retrieval maps questions to the nearest corpus passages and renders
// them into a prompt context.
package retrieval

import (
	"context"
	"fmt"

	"lawrag/internal/domain"
	"lawrag/internal/embedding"
	"lawrag/internal/vectorindex"
)

// Retriever answers nearest-passage lookups. It holds only read-only state
// and is safe for concurrent use.
type Retriever struct {
	embedder domain.Embedder
	index    *vectorindex.Flat
	items    []domain.CorpusItem
}

// NewRetriever joins an index with the corpus it was built from; row i of the
// index is items[i].
func NewRetriever(emb domain.Embedder, idx *vectorindex.Flat, items []domain.CorpusItem) *Retriever {
	return &Retriever{embedder: emb, index: idx, items: items}
}

// Retrieve returns up to k corpus items nearest to question, best match first.
// An empty index yields an empty result without consulting the embedder.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) (domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidK
	}
	if r.index.Len() == 0 {
		return domain.RetrievalResult{}, nil
	}
	q, err := embedding.EncodeQuery(ctx, r.embedder, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	neighbors, err := r.index.Search(q, k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	result := make(domain.RetrievalResult, len(neighbors))
	for i, n := range neighbors {
		if n.ID < 0 || n.ID >= len(r.items) {
			return nil, fmt.Errorf("%w: row %d outside corpus of %d items", domain.ErrIndexCorrupted, n.ID, len(r.items))
		}
		result[i] = domain.Hit{Item: r.items[n.ID], Distance: n.Distance}
	}
	return result, nil
}
