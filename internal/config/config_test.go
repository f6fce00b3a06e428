package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.Equal(t, 512, cfg.Chunking.ParentTokens)
	assert.Equal(t, 128, cfg.Chunking.ChildTokens)
	assert.Equal(t, 5*time.Second, cfg.Retrieval.ModalityTimeout.Std())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
retrieval:
  rrf_k: 30
  top_k: 8
  modality_timeout: 250ms
llm:
  model: test/primary
  fallback_model: test/fallback
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Retrieval.RRFK)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 250*time.Millisecond, cfg.Retrieval.ModalityTimeout.Std())
	assert.Equal(t, "test/primary", cfg.LLM.Model)
	assert.Equal(t, "test/fallback", cfg.LLM.FallbackModel)
	// Untouched sections keep defaults.
	assert.Equal(t, 512, cfg.Chunking.ParentTokens)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	t.Setenv("DOCSENSE_RRF_K", "15")
	t.Setenv("DOCSENSE_LLM_MODEL", "env/model")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.Retrieval.RRFK)
	assert.Equal(t, "env/model", cfg.LLM.Model)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap >= child size", func(c *Config) { c.Chunking.ChildOverlap = c.Chunking.ChildTokens }},
		{"zero rrf k", func(c *Config) { c.Retrieval.RRFK = 0 }},
		{"zero top k", func(c *Config) { c.Retrieval.TopK = 0 }},
		{"zero capacity", func(c *Config) { c.LLM.Capacity = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
