package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("boom")

	parseErr := NewCorpusParseError("data.jsonl", 3, "metadata.kanun_no", nil)
	assert.ErrorIs(t, parseErr, ErrCorpusParse)
	assert.Contains(t, parseErr.Error(), "data.jsonl:3")
	assert.Contains(t, parseErr.Error(), "metadata.kanun_no")

	dimErr := fmt.Errorf("build: %w", &DimensionMismatchError{Expected: 4, Actual: 3, Row: 7})
	assert.ErrorIs(t, dimErr, ErrDimensionMismatch)
	var dm *DimensionMismatchError
	assert.True(t, errors.As(dimErr, &dm))
	assert.Equal(t, 7, dm.Row)

	persistErr := NewPersistenceError("rename", "/tmp/x", cause)
	assert.ErrorIs(t, persistErr, ErrPersistence)
	assert.ErrorIs(t, persistErr, cause)

	genErr := NewGenerationError("ollama", cause)
	assert.ErrorIs(t, genErr, ErrGenerationFailure)
	assert.ErrorIs(t, genErr, cause)
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil", nil, false},
		{"corpus missing", fmt.Errorf("open: %w", ErrCorpusNotFound), true},
		{"corpus parse", NewCorpusParseError("c", 1, "text", nil), true},
		{"dimension", &DimensionMismatchError{Expected: 2, Actual: 3, Row: -1}, true},
		{"index corrupted", fmt.Errorf("%w: row 9", ErrIndexCorrupted), true},
		{"persistence", NewPersistenceError("write", "p", errors.New("disk full")), false},
		{"rebuild", fmt.Errorf("%w: missing", ErrRebuildRequired), false},
		{"generation", NewGenerationError("openai", errors.New("timeout")), false},
		{"unknown", errors.New("other"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestSourceIDs(t *testing.T) {
	r := RetrievalResult{
		{Item: CorpusItem{Text: "a", SourceID: "3065_M11_C0"}, Distance: 0.1},
		{Item: CorpusItem{Text: "b", SourceID: "193_M1_C2"}, Distance: 0.4},
	}
	assert.Equal(t, []string{"3065_M11_C0", "193_M1_C2"}, r.SourceIDs())
	assert.Empty(t, RetrievalResult(nil).SourceIDs())
}
