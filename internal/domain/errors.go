package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCorpusNotFound is returned when the corpus file does not exist.
	ErrCorpusNotFound = errors.New("corpus not found")
	// ErrCorpusParse is matched by every *CorpusParseError.
	ErrCorpusParse = errors.New("corpus parse error")
	// ErrDimensionMismatch is matched by every *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrPersistence is matched by every *PersistenceError.
	ErrPersistence = errors.New("persistence error")
	// ErrRebuildRequired signals that persisted index state cannot be trusted.
	ErrRebuildRequired = errors.New("index rebuild required")
	// ErrIndexCorrupted means the index returned a row id with no corpus item behind it.
	ErrIndexCorrupted = errors.New("index corrupted")
	// ErrGenerationFailure is matched by every *GenerationError.
	ErrGenerationFailure = errors.New("generation failure")
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
)

// CorpusParseError reports the first malformed corpus record.
type CorpusParseError struct {
	Source string
	Line   int
	Field  string
	cause  error
}

// NewCorpusParseError builds a parse error for the given line; cause may be nil.
func NewCorpusParseError(source string, line int, field string, cause error) *CorpusParseError {
	return &CorpusParseError{Source: source, Line: line, Field: field, cause: cause}
}

func (e *CorpusParseError) Error() string {
	msg := fmt.Sprintf("%s:%d: malformed record", e.Source, e.Line)
	if e.Field != "" {
		msg += fmt.Sprintf(": missing %q", e.Field)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *CorpusParseError) Unwrap() error { return e.cause }

func (e *CorpusParseError) Is(target error) bool { return target == ErrCorpusParse }

// DimensionMismatchError indicates a vector/query dimensionality mismatch.
type DimensionMismatchError struct {
	Expected int
	Actual   int
	Row      int // -1 when the offending vector is a query
}

func (e *DimensionMismatchError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
	}
	return fmt.Sprintf("dimension mismatch at row %d: expected %d, got %d", e.Row, e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// PersistenceError wraps a failed save of the index artifacts.
type PersistenceError struct {
	Op    string
	Path  string
	cause error
}

// NewPersistenceError wraps cause with the failed operation and path.
func NewPersistenceError(op, path string, cause error) *PersistenceError {
	return &PersistenceError{Op: op, Path: path, cause: cause}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s %s: %v", e.Op, e.Path, e.cause)
}

func (e *PersistenceError) Unwrap() error { return e.cause }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// GenerationError wraps a failed call to the generation backend.
type GenerationError struct {
	Backend string
	cause   error
}

// NewGenerationError wraps cause as a generation failure of backend.
func NewGenerationError(backend string, cause error) *GenerationError {
	return &GenerationError{Backend: backend, cause: cause}
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation (%s) failed: %v", e.Backend, e.cause)
}

func (e *GenerationError) Unwrap() error { return e.cause }

func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailure }

// IsFatal reports whether err must stop the process rather than fail a single question.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrGenerationFailure), errors.Is(err, ErrRebuildRequired), errors.Is(err, ErrPersistence):
		return false
	}
	return errors.Is(err, ErrCorpusNotFound) ||
		errors.Is(err, ErrCorpusParse) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrIndexCorrupted)
}
