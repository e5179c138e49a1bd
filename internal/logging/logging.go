// Package logging builds the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"lawrag/internal/config"
)

// New creates a logger writing to w with the configured level and format ("text" or "json").
func New(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", cfg.Format)
	}
}

// ParseLevel maps debug/info/warn/error onto slog levels; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level: %s", s)
	}
	return level, nil
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1000)}))
}

// NewForTUI creates a logger that stays off the terminal while a full-screen
// program runs: records go to cfg.File, or nowhere when no file is set.
// The returned closer releases the file.
func NewForTUI(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	if cfg.File == "" {
		log, err := New(cfg, io.Discard)
		return log, nopCloser{}, err
	}
	f, err := tea.LogToFile(cfg.File, "lawrag")
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	log, err := New(cfg, f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return log, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
