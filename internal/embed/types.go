// Package embed provides text embedding for dense retrieval. Two
// implementations exist: an OpenAI-compatible API embedder for real
// deployments and a deterministic hash-based embedder for offline use
// and tests.
package embed

import "context"

// Embedder converts text into dense vectors.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector dimensionality.
	Dimensions() int
	// ModelName identifies the embedding model, recorded on each chunk so
	// stale vectors can be detected after a model change.
	ModelName() string
}
