package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/a-marczewski/ragline/internal/deps"
	"github.com/a-marczewski/ragline/internal/pipecache"
	"github.com/a-marczewski/ragline/internal/resilience"
)

// Embedder adapts the client to the embedding capability, with an optional
// cache keyed by normalized text so repeated questions skip the API call.
type Embedder struct {
	client *Client
	cache  *pipecache.Cache[[]float32]
	logger *zap.Logger
}

// NewEmbedder creates an embedder. cache may be nil to disable caching.
func NewEmbedder(client *Client, cache *pipecache.Cache[[]float32], logger *zap.Logger) *Embedder {
	return &Embedder{client: client, cache: cache, logger: logger}
}

// Embed returns the embedding for text, served from cache when possible.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var key string
	if e.cache != nil {
		key = pipecache.Key("embed", text)
		if vec, ok := e.cache.Get(key); ok {
			return vec, nil
		}
	}

	vec, err := e.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.Put(key, vec)
	}
	return vec, nil
}

// Generator adapts the client to the answer generation capability.
type Generator struct {
	client *Client
}

// NewGenerator creates a generator backed by the chat completions endpoint.
func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

// Generate produces the answer text for the assembled prompt.
func (g *Generator) Generate(ctx context.Context, req deps.GenerateRequest) (string, error) {
	text, err := g.client.Complete(ctx, req.System, req.Prompt, req.MaxTokens, req.Temperature)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", resilience.Transient(fmt.Errorf("generation returned empty text"))
	}
	return text, nil
}

const rerankSystem = "You judge how relevant a passage is to a question. " +
	"Reply with a single integer from 1 (irrelevant) to 10 (directly answers it). No other text."

// Reranker scores candidate passages against the query. model may name a
// dedicated scoring model; when empty the client's chat model is used.
type Reranker struct {
	client *Client
	model  string
	logger *zap.Logger
}

// NewReranker creates a reranker backed by the chat completions endpoint.
func NewReranker(client *Client, model string, logger *zap.Logger) *Reranker {
	return &Reranker{client: client, model: model, logger: logger}
}

// Score asks the model for a 1-10 relevance rating of candidateText.
func (r *Reranker) Score(ctx context.Context, query, candidateText string) (float64, error) {
	prompt := fmt.Sprintf("Question:\n%s\n\nPassage:\n%s\n\nRelevance score (1-10):", query, candidateText)

	resp, err := r.client.Chat(ctx, ChatRequest{
		Model: r.model,
		Messages: []Message{
			{Role: "system", Content: rerankSystem},
			{Role: "user", Content: prompt},
		},
		MaxTokens: 8,
	})
	if err != nil {
		return 0, err
	}
	text := resp.Choices[0].Message.Content

	score, err := parseScore(text, 1, 10)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("unparseable rerank score", zap.String("raw", text))
		}
		return 0, resilience.Quality(err)
	}
	return score, nil
}

// firstNumber matches the first integer or decimal in a model reply.
var firstNumber = regexp.MustCompile(`-?\d+(\.\d+)?`)

// parseScore extracts the first number from a model reply and checks bounds.
func parseScore(text string, lo, hi float64) (float64, error) {
	m := firstNumber.FindString(text)
	if m == "" {
		return 0, fmt.Errorf("no number in reply %q", text)
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number in reply %q: %w", text, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("score %g outside [%g,%g]", v, lo, hi)
	}
	return v, nil
}

const groundednessSystem = "You audit answers for faithfulness to the provided context. " +
	"Rate from 0 (unsupported, fabricated) to 100 (every claim supported by the context). " +
	"Reply with a single integer. No other text."

const consistencySystem = "You audit answers for internal consistency. " +
	"Rate from 0 (self-contradictory) to 100 (fully coherent). " +
	"Reply with a single integer. No other text."

// verifier runs one LLM-judged quality check and maps it into [0,1].
type verifier struct {
	name   string
	system string
	client *Client
	logger *zap.Logger
}

// NewGroundednessVerifier judges whether the answer's claims are supported by
// the retrieved context.
func NewGroundednessVerifier(client *Client, logger *zap.Logger) deps.Verifier {
	return &verifier{name: "groundedness", system: groundednessSystem, client: client, logger: logger}
}

// NewConsistencyVerifier judges whether the answer contradicts itself.
func NewConsistencyVerifier(client *Client, logger *zap.Logger) deps.Verifier {
	return &verifier{name: "consistency", system: consistencySystem, client: client, logger: logger}
}

func (v *verifier) Name() string { return v.name }

func (v *verifier) Verify(ctx context.Context, answer string, contextTexts []string) (float64, error) {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, t := range contextTexts {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, t)
	}
	fmt.Fprintf(&b, "\nAnswer:\n%s\n\nScore (0-100):", answer)

	text, err := v.client.Complete(ctx, v.system, b.String(), 8, 0)
	if err != nil {
		return 0, err
	}

	score, err := parseScore(text, 0, 100)
	if err != nil {
		if v.logger != nil {
			v.logger.Warn("unparseable verifier score",
				zap.String("verifier", v.name),
				zap.String("raw", text),
			)
		}
		return 0, resilience.Quality(err)
	}
	return score / 100, nil
}
