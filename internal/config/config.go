package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// CorpusConfig locates the JSONL corpus.
type CorpusConfig struct {
	Path string `yaml:"path"`
}

// IndexConfig locates the persisted index artifacts.
type IndexConfig struct {
	Path       string `yaml:"path"`
	MatrixPath string `yaml:"matrix_path"`
}

// TFIDFConfig configures the offline TF-IDF embedder.
type TFIDFConfig struct {
	MaxFeatures int `yaml:"max_features"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	Concurrency int    `yaml:"concurrency"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	BatchSize int                   `yaml:"batch_size"`
	TFIDF     *TFIDFConfig          `yaml:"tfidf,omitempty"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// OllamaConfig contains connection details for a local Ollama server.
type OllamaConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

// OpenAIGenerationConfig configures an OpenAI-compatible chat backend.
type OpenAIGenerationConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// GenerationConfig selects the answer backend and its sampling options.
type GenerationConfig struct {
	Type            string                  `yaml:"type"`
	MaxOutputTokens int                     `yaml:"max_output_tokens"`
	Temperature     float32                 `yaml:"temperature"`
	RepeatPenalty   float32                 `yaml:"repeat_penalty"`
	TimeoutSecs     int                     `yaml:"timeout_secs"`
	Ollama          *OllamaConfig           `yaml:"ollama,omitempty"`
	OpenAI          *OpenAIGenerationConfig `yaml:"openai,omitempty"`
}

// Timeout is the per-question generation deadline.
func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSecs) * time.Second
}

// RetrievalConfig bounds how much context reaches the model.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// LoggingConfig selects slog level and handler format. File receives the
// logs while the interactive UI owns the terminal; empty drops them.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Corpus     CorpusConfig     `yaml:"corpus"`
	Index      IndexConfig      `yaml:"index"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/lawrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/lawrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "lawrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Corpus.Path == "" {
		cfg.Corpus.Path = "mevzuat_rag_data.jsonl"
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = "lawrag_index.bin"
	}
	if cfg.Index.MatrixPath == "" {
		cfg.Index.MatrixPath = "lawrag_embeddings.bin"
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "tfidf"
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Embedder.Type == "tfidf" && cfg.Embedder.TFIDF == nil {
		cfg.Embedder.TFIDF = &TFIDFConfig{MaxFeatures: 4096}
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.Concurrency == 0 {
			o.Concurrency = 4
		}
	}

	g := &cfg.Generation
	if g.Type == "" {
		g.Type = "ollama"
	}
	if g.MaxOutputTokens == 0 {
		g.MaxOutputTokens = 400
	}
	if g.Temperature == 0 {
		g.Temperature = 0.3
	}
	if g.RepeatPenalty == 0 {
		g.RepeatPenalty = 1.1
	}
	if g.TimeoutSecs == 0 {
		g.TimeoutSecs = 120
	}
	if g.Type == "ollama" {
		if g.Ollama == nil {
			g.Ollama = &OllamaConfig{}
		}
		if g.Ollama.URL == "" {
			g.Ollama.URL = "http://localhost:11434"
		}
		if g.Ollama.Model == "" {
			g.Ollama.Model = "qwen2.5:7b-instruct-q4_K_M"
		}
	}
	if g.Type == "openai" {
		if g.OpenAI == nil {
			g.OpenAI = &OpenAIGenerationConfig{}
		}
		if g.OpenAI.BaseURL == "" {
			g.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if g.OpenAI.APIKeyEnv == "" {
			g.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if g.OpenAI.Model == "" {
			g.OpenAI.Model = "gpt-4o-mini"
		}
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
