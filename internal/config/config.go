// Package config loads DocSense configuration from YAML with
// environment-variable overrides. Retrieval constants such as the RRF
// smoothing parameter and the context token budget are configuration,
// not hard-coded behavior, so they can be tuned against retrieval-quality
// tests without a rebuild.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "5s" or
// "250ms" rather than raw nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete DocSense configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Paths     PathsConfig     `yaml:"paths"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LLM       LLMConfig       `yaml:"llm"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// PathsConfig configures on-disk storage locations.
type PathsConfig struct {
	// DataDir holds the SQLite database and the sparse index directory.
	DataDir string `yaml:"data_dir"`
}

// ChunkingConfig configures the parent/child chunk hierarchy.
type ChunkingConfig struct {
	// ParentTokens is the parent section window size in tokens.
	ParentTokens int `yaml:"parent_tokens"`
	// ParentOverlap is the token overlap between consecutive parent windows.
	ParentOverlap int `yaml:"parent_overlap"`
	// ChildTokens is the child chunk size in tokens.
	ChildTokens int `yaml:"child_tokens"`
	// ChildOverlap is the token overlap between consecutive child chunks.
	ChildOverlap int `yaml:"child_overlap"`
}

// EmbeddingConfig configures the embedding capability.
type EmbeddingConfig struct {
	// Provider selects the embedder: "openai" or "static".
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
}

// RetrievalConfig configures hybrid retrieval and context assembly.
type RetrievalConfig struct {
	// DenseTopK / SparseTopK are the per-modality candidate list sizes.
	DenseTopK  int `yaml:"dense_top_k"`
	SparseTopK int `yaml:"sparse_top_k"`

	// RRFK is the reciprocal-rank-fusion smoothing constant.
	// k=60 is the standard used by Azure AI Search and OpenSearch.
	RRFK int `yaml:"rrf_k"`

	// TopK is the number of fused candidates handed to context assembly.
	TopK int `yaml:"top_k"`

	// ModalityTimeout bounds each retrieval arm independently; a timed-out
	// modality degrades the query to partial results rather than failing it.
	ModalityTimeout Duration `yaml:"modality_timeout"`

	// ContextTokens is the generation context budget in estimated tokens.
	ContextTokens int `yaml:"context_tokens"`
}

// LLMConfig configures the generation gateway.
type LLMConfig struct {
	// BaseURL points at an OpenAI-compatible chat completions API.
	BaseURL string `yaml:"base_url"`
	// Model is the primary generation model.
	Model string `yaml:"model"`
	// FallbackModel is attempted once after the primary exhausts retries.
	FallbackModel string `yaml:"fallback_model"`
	// MaxTokens caps the generated completion length.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature is the sampling temperature.
	Temperature float64 `yaml:"temperature"`
	// MaxRetries caps retry attempts per model for transient failures.
	MaxRetries int `yaml:"max_retries"`
	// Capacity is the shared number of concurrent in-flight generations.
	Capacity int64 `yaml:"capacity"`
	// RequestsPerSecond throttles outbound LLM calls proactively.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// SummaryMaxSections caps the parent sections used for summarization.
	SummaryMaxSections int `yaml:"summary_max_sections"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info"},
		Paths:   PathsConfig{DataDir: "./data"},
		Chunking: ChunkingConfig{
			ParentTokens:  512,
			ParentOverlap: 64,
			ChildTokens:   128,
			ChildOverlap:  16,
		},
		Embedding: EmbeddingConfig{
			Provider:   "static",
			Model:      "text-embedding-3-small",
			Dimensions: 256,
			BatchSize:  32,
		},
		Retrieval: RetrievalConfig{
			DenseTopK:       20,
			SparseTopK:      20,
			RRFK:            60,
			TopK:            5,
			ModalityTimeout: Duration(5 * time.Second),
			ContextTokens:   3000,
		},
		LLM: LLMConfig{
			BaseURL:            "https://openrouter.ai/api/v1",
			Model:              "mistralai/mistral-7b-instruct",
			FallbackModel:      "google/gemma-3-27b-it",
			MaxTokens:          1024,
			Temperature:        0.1,
			MaxRetries:         2,
			Capacity:           4,
			RequestsPerSecond:  2,
			SummaryMaxSections: 10,
		},
	}
}

// Load reads configuration from path (optional) and applies environment
// overrides. A missing file is not an error; defaults are used.
func Load(path string) (Config, error) {
	// .env is optional convenience for local runs; real deployments set env vars.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	if c.Chunking.ChildTokens <= 0 || c.Chunking.ParentTokens <= 0 {
		return fmt.Errorf("chunk sizes must be positive")
	}
	if c.Chunking.ChildOverlap >= c.Chunking.ChildTokens {
		return fmt.Errorf("child_overlap %d must be smaller than child_tokens %d",
			c.Chunking.ChildOverlap, c.Chunking.ChildTokens)
	}
	if c.Chunking.ParentOverlap >= c.Chunking.ParentTokens {
		return fmt.Errorf("parent_overlap %d must be smaller than parent_tokens %d",
			c.Chunking.ParentOverlap, c.Chunking.ParentTokens)
	}
	if c.Retrieval.RRFK <= 0 {
		return fmt.Errorf("rrf_k must be positive, got %d", c.Retrieval.RRFK)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", c.Retrieval.TopK)
	}
	if c.LLM.Capacity < 1 {
		return fmt.Errorf("llm capacity must be at least 1, got %d", c.LLM.Capacity)
	}
	return nil
}

// applyEnvOverrides maps DOCSENSE_* environment variables onto the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOCSENSE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DOCSENSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DOCSENSE_DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := os.Getenv("DOCSENSE_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("DOCSENSE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("DOCSENSE_LLM_FALLBACK_MODEL"); v != "" {
		cfg.LLM.FallbackModel = v
	}
	if v := os.Getenv("DOCSENSE_RRF_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.RRFK = k
		}
	}
	if v := os.Getenv("DOCSENSE_CONTEXT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.ContextTokens = n
		}
	}
	if v := os.Getenv("DOCSENSE_LLM_CAPACITY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.LLM.Capacity = n
		}
	}
}
