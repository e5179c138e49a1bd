// Package vectorindex provides an exact nearest-neighbor index over squared Euclidean distance.
package vectorindex

import (
	"container/heap"
	"fmt"
	"slices"

	"lawrag/internal/domain"
)

// Neighbor is a search hit: a row id and its squared distance to the query.
type Neighbor struct {
	ID       int
	Distance float32
}

// Flat scans every stored vector on search. It is immutable after Build,
// so concurrent searches need no locking.
type Flat struct {
	m Matrix
}

// Build creates an index over all rows of m. An empty matrix yields an empty index.
func Build(m Matrix) (*Flat, error) {
	if !m.valid() {
		return nil, fmt.Errorf("vectorindex: matrix shape %dx%d does not match %d values", m.Rows, m.Dim, len(m.Data))
	}
	if m.Rows > 0 && m.Dim == 0 {
		return nil, &domain.DimensionMismatchError{Expected: 1, Actual: 0, Row: 0}
	}
	return &Flat{m: m}, nil
}

// Len returns the number of indexed vectors.
func (f *Flat) Len() int { return f.m.Rows }

// Dim returns the vector dimension; 0 for an empty index.
func (f *Flat) Dim() int { return f.m.Dim }

// Matrix returns the indexed vectors.
func (f *Flat) Matrix() Matrix { return f.m }

// Search returns the k nearest rows by ascending squared distance, lowest id first on ties.
// If k exceeds the index size every row is returned.
func (f *Flat) Search(query []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidK
	}
	n := f.m.Rows
	if n == 0 {
		return []Neighbor{}, nil
	}
	if len(query) != f.m.Dim {
		return nil, &domain.DimensionMismatchError{Expected: f.m.Dim, Actual: len(query), Row: -1}
	}
	if k > n {
		k = n
	}

	// Max-heap of the best k seen so far; the root is the worst of them.
	h := make(neighborHeap, 0, k)
	for id := 0; id < n; id++ {
		d := SquaredL2(query, f.m.Row(id))
		if len(h) < k {
			heap.Push(&h, Neighbor{ID: id, Distance: d})
			continue
		}
		if less(Neighbor{ID: id, Distance: d}, h[0]) {
			h[0] = Neighbor{ID: id, Distance: d}
			heap.Fix(&h, 0)
		}
	}

	out := []Neighbor(h)
	slices.SortFunc(out, func(a, b Neighbor) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		}
		return 0
	})
	return out, nil
}

// SquaredL2 returns the squared Euclidean distance; a and b must have equal length.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func less(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

type neighborHeap []Neighbor

func (h neighborHeap) Len() int           { return len(h) }
func (h neighborHeap) Less(i, j int) bool { return less(h[j], h[i]) }
func (h neighborHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *neighborHeap) Push(x any) { *h = append(*h, x.(Neighbor)) }

func (h *neighborHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
