package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawrag/internal/config"
	"lawrag/internal/domain"
	"lawrag/internal/embedding/tfidf"
	"lawrag/internal/logging"
	"lawrag/internal/persistence"
)

// byteEmbedder maps text to a histogram of byte values folded into dim buckets.
type byteEmbedder struct {
	mu      sync.Mutex
	dim     int
	encoded int
	ragged  bool
	name    string
}

func (e *byteEmbedder) Name() string {
	if e.name != "" {
		return e.name
	}
	return "bytes"
}

func (e *byteEmbedder) Prepare(corpus []string) error { return nil }
func (e *byteEmbedder) Dimension() int                { return e.dim }

func (e *byteEmbedder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.encoded += len(texts)
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		dim := e.dim
		if e.ragged && i == 1 {
			dim++
		}
		v := make([]float32, dim)
		for _, b := range []byte(t) {
			v[int(b)%dim]++
		}
		out[i] = v
	}
	return out, nil
}

type fakeGenerator struct {
	err     error
	prompts []string
	opts    []domain.GenerateOptions
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	g.prompts = append(g.prompts, prompt)
	g.opts = append(g.opts, opts)
	if g.err != nil {
		return "", g.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("generation must run under a deadline")
	}
	return "  cevap  ", nil
}

var corpusLines = []string{
	`{"text": "İhracat teslimleri katma değer vergisinden istisnadır.", "metadata": {"kanun_no": 3065, "madde_no": 11, "chunk_id": 0}}`,
	`{"text": "Gelir vergisi gerçek kişilerin kazançları üzerinden alınır.", "metadata": {"kanun_no": 193, "madde_no": 1, "chunk_id": 0}}`,
	`{"text": "Kurumlar vergisi kurum kazançları üzerinden alınır.", "metadata": {"kanun_no": 5520, "madde_no": 1, "chunk_id": 0}}`,
}

func writeCorpus(t *testing.T, dir string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, "corpus.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func testOptions(dir, corpusPath string) Options {
	return Options{
		CorpusPath: corpusPath,
		Paths: persistence.Paths{
			Index:  filepath.Join(dir, "index.bin"),
			Matrix: filepath.Join(dir, "matrix.bin"),
		},
		BatchSize:         2,
		TopK:              10,
		Generate:          domain.GenerateOptions{MaxOutputTokens: 400, Temperature: 0.3, RepeatPenalty: 1.1},
		GenerationTimeout: time.Second,
	}
}

func TestOpenRebuildsThenReuses(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeCorpus(t, dir, corpusLines))

	emb := &byteEmbedder{dim: 16}
	svc, err := Open(context.Background(), opts, emb, &fakeGenerator{}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, 3, svc.Len())
	assert.Equal(t, 3, emb.encoded)
	assert.FileExists(t, opts.Paths.Index)
	assert.FileExists(t, opts.Paths.Matrix)

	emb2 := &byteEmbedder{dim: 16}
	svc2, err := Open(context.Background(), opts, emb2, &fakeGenerator{}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, 0, emb2.encoded, "persisted index should be reused")

	q := "gelir vergisi"
	a, err := svc.Retrieve(context.Background(), q, 3)
	require.NoError(t, err)
	b, err := svc2.Retrieve(context.Background(), q, 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestOpenRebuildsStaleIndex(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeCorpus(t, dir, corpusLines[:2]))
	_, err := Open(context.Background(), opts, &byteEmbedder{dim: 16}, &fakeGenerator{}, logging.Discard())
	require.NoError(t, err)

	writeCorpus(t, dir, corpusLines)
	emb := &byteEmbedder{dim: 16}
	svc, err := Open(context.Background(), opts, emb, &fakeGenerator{}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, 3, emb.encoded)
	assert.Equal(t, 3, svc.Len())

	res, err := svc.Retrieve(context.Background(), "Kurumlar vergisi kurum kazançları üzerinden alınır.", 1)
	require.NoError(t, err)
	assert.Equal(t, "5520_M1_C0", res[0].Item.SourceID)
}

func TestOpenRebuildsOnEmbedderDimensionChange(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeCorpus(t, dir, corpusLines))
	_, err := Open(context.Background(), opts, &byteEmbedder{dim: 16}, &fakeGenerator{}, logging.Discard())
	require.NoError(t, err)

	emb := &byteEmbedder{dim: 8}
	_, err = Open(context.Background(), opts, emb, &fakeGenerator{}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, 3, emb.encoded)
}

func TestOpenRebuildsWhenEmbedderChanges(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeCorpus(t, dir, corpusLines))
	_, err := Open(context.Background(), opts, &byteEmbedder{dim: 16, name: "openai:small"}, &fakeGenerator{}, logging.Discard())
	require.NoError(t, err)

	emb := &byteEmbedder{dim: 16, name: "openai:large"}
	_, err = Open(context.Background(), opts, emb, &fakeGenerator{}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, 3, emb.encoded)
}

func TestOpenForceRebuild(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeCorpus(t, dir, corpusLines))
	_, err := Open(context.Background(), opts, &byteEmbedder{dim: 16}, &fakeGenerator{}, logging.Discard())
	require.NoError(t, err)

	opts.ForceRebuild = true
	emb := &byteEmbedder{dim: 16}
	_, err = Open(context.Background(), opts, emb, &fakeGenerator{}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, 3, emb.encoded)
}

func TestOpenFatalErrors(t *testing.T) {
	t.Run("CorpusNotFound", func(t *testing.T) {
		dir := t.TempDir()
		_, err := Open(context.Background(), testOptions(dir, filepath.Join(dir, "none.jsonl")), &byteEmbedder{dim: 4}, &fakeGenerator{}, logging.Discard())
		assert.ErrorIs(t, err, domain.ErrCorpusNotFound)
		assert.True(t, domain.IsFatal(err))
	})

	t.Run("CorpusParse", func(t *testing.T) {
		dir := t.TempDir()
		path := writeCorpus(t, dir, []string{corpusLines[0], `{"text": "eksik"}`})
		_, err := Open(context.Background(), testOptions(dir, path), &byteEmbedder{dim: 4}, &fakeGenerator{}, logging.Discard())
		assert.ErrorIs(t, err, domain.ErrCorpusParse)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		dir := t.TempDir()
		opts := testOptions(dir, writeCorpus(t, dir, corpusLines))
		_, err := Open(context.Background(), opts, &byteEmbedder{dim: 4, ragged: true}, &fakeGenerator{}, logging.Discard())
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
		assert.True(t, domain.IsFatal(err))
		assert.NoFileExists(t, opts.Paths.Index)
	})
}

func TestOpenSurvivesSaveFailure(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeCorpus(t, dir, corpusLines))
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	opts.Paths.Index = filepath.Join(blocker, "index.bin")

	svc, err := Open(context.Background(), opts, &byteEmbedder{dim: 16}, &fakeGenerator{}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, 3, svc.Len())
}

func TestAnswerQuestion(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeCorpus(t, dir, corpusLines))
	gen := &fakeGenerator{}
	svc, err := Open(context.Background(), opts, &byteEmbedder{dim: 16}, gen, logging.Discard())
	require.NoError(t, err)

	question := "İhracat teslimleri katma değer vergisinden istisnadır."
	ans, err := svc.AnswerQuestion(context.Background(), question, 1, 128)
	require.NoError(t, err)
	assert.Equal(t, "cevap", ans.Text)
	assert.Equal(t, []string{"3065_M11_C0"}, ans.Sources)
	assert.Positive(t, ans.Elapsed)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], question+" (Source: 3065_M11_C0)")
	assert.True(t, strings.HasSuffix(gen.prompts[0], "SORU: "+question))
	assert.Equal(t, 128, gen.opts[0].MaxOutputTokens)
	assert.InDelta(t, 0.3, gen.opts[0].Temperature, 1e-6)
	assert.InDelta(t, 1.1, gen.opts[0].RepeatPenalty, 1e-6)

	ans, err = svc.AnswerQuestion(context.Background(), "vergi", 0, 0)
	require.NoError(t, err)
	assert.Len(t, ans.Sources, 3, "zero topK falls back to the configured value capped by corpus size")
	assert.Equal(t, 400, gen.opts[1].MaxOutputTokens)

	_, err = svc.AnswerQuestion(context.Background(), "   ", 1, 0)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestGenerationFailureIsolation(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeCorpus(t, dir, corpusLines))
	gen := &fakeGenerator{err: fmt.Errorf("dial tcp 127.0.0.1:11434: connection refused")}
	svc, err := Open(context.Background(), opts, &byteEmbedder{dim: 16}, gen, logging.Discard())
	require.NoError(t, err)

	ans, err := svc.AnswerQuestion(context.Background(), "gelir vergisi", 2, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGenerationFailure)
	assert.False(t, domain.IsFatal(err))
	assert.Empty(t, ans.Text)
	assert.Len(t, ans.Sources, 2)

	gen.err = nil
	ans, err = svc.AnswerQuestion(context.Background(), "gelir vergisi", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, "cevap", ans.Text)
}

func TestAnswerQuestionDeterministicRetrieval(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeCorpus(t, dir, corpusLines))
	svc, err := Open(context.Background(), opts, &byteEmbedder{dim: 16}, &fakeGenerator{}, logging.Discard())
	require.NoError(t, err)

	first, err := svc.Retrieve(context.Background(), "kazançları", 3)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := svc.Retrieve(context.Background(), "kazançları", 3)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSetLoggerRedirectsQuestionLogs(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, writeCorpus(t, dir, corpusLines))
	var startup bytes.Buffer
	startLog, err := logging.New(config.LoggingConfig{Level: "info"}, &startup)
	require.NoError(t, err)
	svc, err := Open(context.Background(), opts, &byteEmbedder{dim: 16}, &fakeGenerator{}, startLog)
	require.NoError(t, err)
	assert.Contains(t, startup.String(), "index ready")

	var questions bytes.Buffer
	qLog, err := logging.New(config.LoggingConfig{Level: "info"}, &questions)
	require.NoError(t, err)
	svc.SetLogger(qLog)
	startup.Reset()

	_, err = svc.AnswerQuestion(context.Background(), "gelir vergisi", 2, 0)
	require.NoError(t, err)
	assert.Zero(t, startup.Len(), "question logs must not reach the startup writer")
	assert.Contains(t, questions.String(), "answer generated")
}

func TestEmptyCorpusAnswersWithoutSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpus.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	opts := testOptions(dir, path)

	svc, err := Open(context.Background(), opts, tfidf.NewEmbedder(0), &fakeGenerator{}, logging.Discard())
	require.NoError(t, err)
	assert.Zero(t, svc.Len())

	res, err := svc.Retrieve(context.Background(), "soru", 3)
	require.NoError(t, err)
	assert.Empty(t, res)

	ans, err := svc.AnswerQuestion(context.Background(), "soru", 3, 0)
	require.NoError(t, err)
	assert.Empty(t, ans.Sources)
}
