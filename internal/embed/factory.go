package embed

import (
	"fmt"
	"os"

	"github.com/docsense/docsense/internal/config"
)

// NewFromConfig builds the embedder named by the configuration.
// Provider "static" needs nothing external; "openai" reads the API key
// from OPENAI_API_KEY.
func NewFromConfig(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "static":
		return NewStaticEmbedder(cfg.Dimensions), nil
	case "openai":
		return NewOpenAIEmbedder(OpenAIOptions{
			APIKey:     os.Getenv("OPENAI_API_KEY"),
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", cfg.Provider)
	}
}
