// Package deps defines the capability interfaces for the external services the
// pipeline coordinates. The sequencer depends only on these interfaces, never
// on a concrete provider, so providers can be swapped without touching
// orchestration logic.
package deps

import "context"

// SearchHit is one ranked result from a vector or lexical lookup.
type SearchHit struct {
	ID       string
	Source   string // source document identifier
	Text     string
	Score    float64
	Metadata map[string]any
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex performs similarity search over indexed fragments.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, k int, threshold float64, filters map[string]string) ([]SearchHit, error)
	// Count returns the number of indexed fragments in scope. Used for
	// strategy selection and as the corpus-version component of cache keys.
	Count(ctx context.Context) (uint64, error)
}

// LexicalIndex performs keyword search over indexed fragments.
type LexicalIndex interface {
	Search(ctx context.Context, text string, k int, filters map[string]string) ([]SearchHit, error)
}

// Reranker scores a candidate's relevance to the query on a 1-10 scale.
type Reranker interface {
	Score(ctx context.Context, query, candidateText string) (float64, error)
}

// GenerateRequest carries the prompt and sampling parameters for one generation.
type GenerateRequest struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Generator produces the answer text.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Verifier produces one independent quality signal in [0,1] for an answer
// against the retrieved context.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, answer string, contextTexts []string) (float64, error)
}

// HealthChecker is implemented by clients that can probe their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
