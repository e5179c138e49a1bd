package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lawrag/internal/corpus"
	"lawrag/internal/domain"
	"lawrag/internal/embedding"
	"lawrag/internal/persistence"
	"lawrag/internal/retrieval"
	"lawrag/internal/vectorindex"
)

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("question is empty")

// Options configures startup and per-question behavior.
type Options struct {
	CorpusPath        string
	Paths             persistence.Paths
	BatchSize         int
	ForceRebuild      bool
	TopK              int
	Generate          domain.GenerateOptions
	GenerationTimeout time.Duration
	Progress          embedding.Progress
}

// RetrievalService owns the corpus, the index built over it and the model
// collaborators. Everything except the collaborators is read-only after Open,
// so AnswerQuestion may be called concurrently.
type RetrievalService struct {
	items     []domain.CorpusItem
	index     *vectorindex.Flat
	retriever *retrieval.Retriever
	embedder  domain.Embedder
	generator domain.Generator
	opts      Options
	log       *slog.Logger
}

// Open loads the corpus and brings up the index, reusing persisted artifacts
// when they match the corpus and rebuilding them otherwise. Errors returned
// here are startup failures.
func Open(ctx context.Context, opts Options, emb domain.Embedder, gen domain.Generator, log *slog.Logger) (*RetrievalService, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 120 * time.Second
	}

	start := time.Now()
	items, err := corpus.Load(opts.CorpusPath)
	if err != nil {
		return nil, err
	}
	log.Info("corpus loaded", "path", opts.CorpusPath, "items", len(items))
	texts := corpus.Texts(items)

	idx, err := loadIndex(opts, emb, texts, log)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		idx, err = rebuildIndex(ctx, opts, emb, texts, log)
		if err != nil {
			return nil, err
		}
	}
	log.Info("index ready", "rows", idx.Len(), "dim", idx.Dim(), "embedder", emb.Name(), "elapsed", time.Since(start))

	return &RetrievalService{
		items:     items,
		index:     idx,
		retriever: retrieval.NewRetriever(emb, idx, items),
		embedder:  emb,
		generator: gen,
		opts:      opts,
		log:       log,
	}, nil
}

// loadIndex returns nil without error when the persisted state must be rebuilt.
func loadIndex(opts Options, emb domain.Embedder, texts []string, log *slog.Logger) (*vectorindex.Flat, error) {
	if opts.ForceRebuild {
		log.Info("index rebuild forced")
		return nil, nil
	}
	idx, err := persistence.Load(opts.Paths, len(texts), emb.Name())
	if err != nil {
		log.Warn("persisted index unusable, rebuilding", "reason", err)
		return nil, nil
	}
	if len(texts) > 0 {
		if err := emb.Prepare(texts); err != nil {
			return nil, fmt.Errorf("prepare %s embedder: %w", emb.Name(), err)
		}
	}
	if d := emb.Dimension(); d > 0 && idx.Len() > 0 && d != idx.Dim() {
		log.Warn("persisted index dimension differs from embedder, rebuilding", "index_dim", idx.Dim(), "embedder_dim", d)
		return nil, nil
	}
	log.Info("persisted index loaded", "index", opts.Paths.Index, "matrix", opts.Paths.Matrix)
	return idx, nil
}

func rebuildIndex(ctx context.Context, opts Options, emb domain.Embedder, texts []string, log *slog.Logger) (*vectorindex.Flat, error) {
	start := time.Now()
	m, err := embedding.EncodeCorpus(ctx, emb, texts, opts.BatchSize, opts.Progress)
	if err != nil {
		return nil, fmt.Errorf("embed corpus: %w", err)
	}
	idx, err := vectorindex.Build(m)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	log.Info("index rebuilt", "rows", idx.Len(), "dim", idx.Dim(), "elapsed", time.Since(start))

	if err := persistence.Save(idx, opts.Paths, emb.Name()); err != nil {
		log.Error("saving index failed; it will be rebuilt on next start", "err", err)
	} else {
		log.Info("index saved", "index", opts.Paths.Index, "matrix", opts.Paths.Matrix)
	}
	return idx, nil
}

// Len returns the corpus size.
func (s *RetrievalService) Len() int { return len(s.items) }

// SetLogger replaces the logger used per question. It must be called before
// the service is shared between goroutines.
func (s *RetrievalService) SetLogger(log *slog.Logger) {
	if log != nil {
		s.log = log
	}
}

// TopK returns the configured default number of passages per question.
func (s *RetrievalService) TopK() int { return s.opts.TopK }

// Retrieve exposes nearest-passage lookup without generation.
func (s *RetrievalService) Retrieve(ctx context.Context, question string, k int) (domain.RetrievalResult, error) {
	return s.retriever.Retrieve(ctx, question, k)
}

// AnswerQuestion retrieves topK passages, builds the prompt and asks the
// generator. Zero topK or maxOutputTokens fall back to the configured values.
// On a generation failure the returned answer still lists the sources used and
// the error matches domain.ErrGenerationFailure.
func (s *RetrievalService) AnswerQuestion(ctx context.Context, question string, topK, maxOutputTokens int) (domain.Answer, error) {
	start := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Answer{}, ErrEmptyQuestion
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}
	genOpts := s.opts.Generate
	if maxOutputTokens > 0 {
		genOpts.MaxOutputTokens = maxOutputTokens
	}

	result, err := s.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		return domain.Answer{}, err
	}
	prompt := retrieval.BuildPrompt(retrieval.Assemble(result), question)
	answer := domain.Answer{Sources: result.SourceIDs()}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GenerationTimeout)
	defer cancel()
	genStart := time.Now()
	text, err := s.generator.Generate(gctx, prompt, genOpts)
	answer.Elapsed = time.Since(start)
	if err != nil {
		s.log.Warn("generation failed", "backend", s.generator.Name(), "err", err, "elapsed", time.Since(genStart))
		return answer, domain.NewGenerationError(s.generator.Name(), err)
	}
	s.log.Info("answer generated", "k", topK, "sources", len(answer.Sources), "generation", time.Since(genStart))
	answer.Text = strings.TrimSpace(text)
	return answer, nil
}
