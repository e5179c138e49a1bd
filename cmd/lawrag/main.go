package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"lawrag/internal/config"
	"lawrag/internal/domain"
	"lawrag/internal/embedding/openai"
	"lawrag/internal/embedding/tfidf"
	"lawrag/internal/generation/ollama"
	genopenai "lawrag/internal/generation/openai"
	"lawrag/internal/logging"
	"lawrag/internal/persistence"
	"lawrag/internal/progress"
	"lawrag/internal/service"
	"lawrag/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath   string
		question  string
		rebuild   bool
		topK      int
		maxTokens int
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/lawrag/config.yaml if not provided)")
	flag.StringVar(&question, "q", "", "Answer a single question and exit")
	flag.BoolVar(&rebuild, "rebuild", false, "Ignore persisted index artifacts and rebuild them")
	flag.IntVar(&topK, "top-k", 0, "Passages per question (default from config)")
	flag.IntVar(&maxTokens, "max-tokens", 0, "Maximum answer tokens (default from config)")
	flag.Parse()

	if err := run(cfgPath, question, rebuild, topK, maxTokens); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, question string, rebuild bool, topK, maxTokens int) error {
	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return err
	}
	gen, err := newGenerator(cfg.Generation)
	if err != nil {
		return err
	}
	log.Info("backends", "embedder", emb.Name(), "generator", gen.Name())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := service.Options{
		CorpusPath: cfg.Corpus.Path,
		Paths: persistence.Paths{
			Index:  cfg.Index.Path,
			Matrix: cfg.Index.MatrixPath,
		},
		BatchSize:    cfg.Embedder.BatchSize,
		ForceRebuild: rebuild,
		TopK:         cfg.Retrieval.TopK,
		Generate: domain.GenerateOptions{
			MaxOutputTokens: cfg.Generation.MaxOutputTokens,
			Temperature:     cfg.Generation.Temperature,
			RepeatPenalty:   cfg.Generation.RepeatPenalty,
		},
		GenerationTimeout: cfg.Generation.Timeout(),
	}
	if progress.DefaultEnabled() {
		opts.Progress = progress.New(true, os.Stderr, "embedding")
	}

	svc, err := service.Open(ctx, opts, emb, gen, log)
	if err != nil {
		return err
	}

	if question != "" {
		return tui.RunOnce(ctx, svc, os.Stdout, question, tui.Options{TopK: topK, MaxOutputTokens: maxTokens})
	}

	tuiLog, closer, err := logging.NewForTUI(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()
	svc.SetLogger(tuiLog)
	slog.SetDefault(tuiLog)

	header := fmt.Sprintf("%d parça yüklendi, %s ile cevaplanıyor", svc.Len(), gen.Name())
	m := tui.New(ctx, svc, tui.Options{TopK: topK, MaxOutputTokens: maxTokens}, header)
	final, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(tui.Model); ok && fm.Err() != nil {
		return fm.Err()
	}
	return nil
}

func newEmbedder(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "tfidf", "":
		maxFeatures := 0
		if cfg.TFIDF != nil {
			maxFeatures = cfg.TFIDF.MaxFeatures
		}
		return tfidf.NewEmbedder(maxFeatures), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:     cfg.OpenAI.BaseURL,
			APIKeyEnv:   cfg.OpenAI.APIKeyEnv,
			Model:       cfg.OpenAI.Model,
			Timeout:     time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			BatchSize:   cfg.BatchSize,
			Concurrency: cfg.OpenAI.Concurrency,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

func newGenerator(cfg config.GenerationConfig) (domain.Generator, error) {
	switch cfg.Type {
	case "ollama", "":
		if cfg.Ollama == nil {
			return nil, fmt.Errorf("ollama generation config missing")
		}
		return ollama.NewClient(ollama.Config{
			URL:     cfg.Ollama.URL,
			Model:   cfg.Ollama.Model,
			Timeout: cfg.Timeout(),
		}), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai generation config missing")
		}
		client, err := genopenai.NewClient(genopenai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Timeout:   cfg.Timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("openai generator init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown generator: %s", cfg.Type)
	}
}
