// Package embedding drives an Embedder over a whole corpus.
package embedding

import (
	"context"
	"fmt"

	"lawrag/internal/domain"
	"lawrag/internal/vectorindex"
)

// Progress receives the number of texts encoded so far.
type Progress interface {
	Start(total int)
	Add(n int)
	Finish()
}

// EncodeCorpus prepares emb on texts and encodes them batch by batch into an
// N×D matrix. A batch whose rows disagree in dimension with the first one
// fails with a dimension mismatch.
func EncodeCorpus(ctx context.Context, emb domain.Embedder, texts []string, batchSize int, progress Progress) (vectorindex.Matrix, error) {
	if len(texts) == 0 {
		return vectorindex.Matrix{}, nil
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	if err := emb.Prepare(texts); err != nil {
		return vectorindex.Matrix{}, fmt.Errorf("prepare %s embedder: %w", emb.Name(), err)
	}
	if progress != nil {
		progress.Start(len(texts))
		defer progress.Finish()
	}

	rows := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		vecs, err := emb.Encode(ctx, texts[start:end])
		if err != nil {
			return vectorindex.Matrix{}, fmt.Errorf("encode rows %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != end-start {
			return vectorindex.Matrix{}, fmt.Errorf("encode rows %d-%d: embedder returned %d vectors", start, end-1, len(vecs))
		}
		rows = append(rows, vecs...)
		if progress != nil {
			progress.Add(len(vecs))
		}
	}
	return vectorindex.NewMatrix(rows)
}

// EncodeQuery embeds a single query string.
func EncodeQuery(ctx context.Context, emb domain.Embedder, query string) ([]float32, error) {
	vecs, err := emb.Encode(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder %s returned %d vectors for one query", emb.Name(), len(vecs))
	}
	return vecs[0], nil
}
