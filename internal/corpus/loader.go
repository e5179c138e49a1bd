// Package corpus loads the legal-code passages that the index is built over.
package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"lawrag/internal/domain"
)

// Metadata keys every record must carry.
const (
	keyLaw     = "kanun_no"
	keyArticle = "madde_no"
	keyChunk   = "chunk_id"
)

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 16 << 20

type record struct {
	Text     *string                    `json:"text"`
	Metadata map[string]json.RawMessage `json:"metadata"`
}

// Load reads a newline-delimited JSON corpus from path.
// Any malformed record aborts the whole load.
func Load(path string) ([]domain.CorpusItem, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrCorpusNotFound, path)
		}
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()
	return Read(f, path)
}

// Read parses corpus records from r; name is used in error messages.
func Read(r io.Reader, name string) ([]domain.CorpusItem, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var items []domain.CorpusItem
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		item, err := parseRecord(raw, name, line)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := sc.Err(); err != nil {
		return nil, domain.NewCorpusParseError(name, line+1, "", err)
	}
	return items, nil
}

func parseRecord(raw []byte, name string, line int) (domain.CorpusItem, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.CorpusItem{}, domain.NewCorpusParseError(name, line, "", err)
	}
	if rec.Text == nil || strings.TrimSpace(*rec.Text) == "" {
		return domain.CorpusItem{}, domain.NewCorpusParseError(name, line, "text", nil)
	}
	if rec.Metadata == nil {
		return domain.CorpusItem{}, domain.NewCorpusParseError(name, line, "metadata", nil)
	}
	var parts [3]string
	for i, key := range []string{keyLaw, keyArticle, keyChunk} {
		v, err := metaValue(rec.Metadata[key])
		if err != nil {
			return domain.CorpusItem{}, domain.NewCorpusParseError(name, line, "metadata."+key, err)
		}
		if v == "" {
			return domain.CorpusItem{}, domain.NewCorpusParseError(name, line, "metadata."+key, nil)
		}
		parts[i] = v
	}
	return domain.CorpusItem{
		Text:     *rec.Text,
		SourceID: SourceID(parts[0], parts[1], parts[2]),
	}, nil
}

// metaValue renders a string or number metadata value verbatim; null or absent yields "".
func metaValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", raw)
	}
	return n.String(), nil
}

// SourceID derives the stable citation key for a passage.
func SourceID(law, article, chunk string) string {
	return law + "_M" + article + "_C" + chunk
}

// Texts returns the passage texts in corpus order.
func Texts(items []domain.CorpusItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Text
	}
	return out
}
