package vectorindex

import (
	"lawrag/internal/domain"
)

// Matrix is a dense row-major N×D float32 matrix; row i belongs to corpus item i.
type Matrix struct {
	Rows int
	Dim  int
	Data []float32
}

// NewMatrix packs rows into a Matrix. All rows must share one dimension.
func NewMatrix(rows [][]float32) (Matrix, error) {
	if len(rows) == 0 {
		return Matrix{}, nil
	}
	dim := len(rows[0])
	data := make([]float32, 0, len(rows)*dim)
	for i, r := range rows {
		if len(r) != dim {
			return Matrix{}, &domain.DimensionMismatchError{Expected: dim, Actual: len(r), Row: i}
		}
		data = append(data, r...)
	}
	return Matrix{Rows: len(rows), Dim: dim, Data: data}, nil
}

// Row returns a view of row i; callers must not modify it.
func (m Matrix) Row(i int) []float32 {
	return m.Data[i*m.Dim : (i+1)*m.Dim : (i+1)*m.Dim]
}

func (m Matrix) valid() bool {
	return m.Rows >= 0 && m.Dim >= 0 && len(m.Data) == m.Rows*m.Dim
}
