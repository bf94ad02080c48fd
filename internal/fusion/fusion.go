// Package fusion runs the vector and lexical lookups concurrently and merges
// their rankings into one candidate list via Reciprocal Rank Fusion.
package fusion

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/ragline/internal/deps"
	"github.com/a-marczewski/ragline/internal/resilience"
	"github.com/a-marczewski/ragline/internal/strategy"
)

// Candidate is one retrieved fragment flowing through the pipeline.
type Candidate struct {
	ID         string
	DocumentID string
	Text       string

	SemanticScore *float64
	LexicalScore  *float64

	FusedScore float64
	FusedRank  int

	RerankScore   *float64
	CombinedScore float64

	Metadata map[string]any
}

// Engine joins both retrieval sources and fuses their rankings.
type Engine struct {
	vector   deps.VectorIndex
	lexical  deps.LexicalIndex
	vecGuard *deps.Guard
	lexGuard *deps.Guard
	rrfConst int
	timeout  time.Duration
	logger   *zap.Logger
}

// NewEngine creates a fusion engine. Each source is called through its own
// guard; timeout bounds the whole retrieval join.
func NewEngine(vector deps.VectorIndex, lexical deps.LexicalIndex, vecGuard, lexGuard *deps.Guard, rrfConst int, timeout time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		vector:   vector,
		lexical:  lexical,
		vecGuard: vecGuard,
		lexGuard: lexGuard,
		rrfConst: rrfConst,
		timeout:  timeout,
		logger:   logger,
	}
}

type sourceResult struct {
	hits []deps.SearchHit
	err  error
}

// Retrieve runs both lookups concurrently, fuses the results and returns the
// top candidates. Failure of one source is recorded as a degradation and the
// other's results are used alone; failure of both is an error, as is an
// entirely empty result set.
func (e *Engine) Retrieve(ctx context.Context, question string, vector []float32, params strategy.Params) ([]Candidate, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// Over-fetch per source so fusion and diversification have material to
	// work with.
	fetchK := params.K * 2

	vecCh := make(chan sourceResult, 1)
	lexCh := make(chan sourceResult, 1)

	go func() {
		var hits []deps.SearchHit
		err := e.vecGuard.Do(ctx, "vector.search", func(ctx context.Context) error {
			var err error
			hits, err = e.vector.Search(ctx, vector, fetchK, params.Threshold, nil)
			return err
		})
		vecCh <- sourceResult{hits: hits, err: err}
	}()

	go func() {
		var hits []deps.SearchHit
		err := e.lexGuard.Do(ctx, "lexical.search", func(ctx context.Context) error {
			var err error
			hits, err = e.lexical.Search(ctx, question, fetchK, nil)
			return err
		})
		lexCh <- sourceResult{hits: hits, err: err}
	}()

	vec := <-vecCh
	lex := <-lexCh

	var degradations []string
	if vec.err != nil {
		degradations = append(degradations, "vector_search_failed")
		if e.logger != nil {
			e.logger.Warn("vector search failed, using lexical results only", zap.Error(vec.err))
		}
	}
	if lex.err != nil {
		degradations = append(degradations, "lexical_search_failed")
		if e.logger != nil {
			e.logger.Warn("lexical search failed, using vector results only", zap.Error(lex.err))
		}
	}
	if vec.err != nil && lex.err != nil {
		return nil, degradations, fmt.Errorf("both retrieval sources failed: vector: %v; lexical: %w", vec.err, lex.err)
	}

	candidates := Fuse(vec.hits, lex.hits, e.rrfConst)
	if len(candidates) == 0 {
		return nil, degradations, resilience.Quality(fmt.Errorf("no candidates matched the question"))
	}

	if params.Diversify {
		candidates = Diversify(candidates)
	}
	if len(candidates) > params.K {
		candidates = candidates[:params.K]
	}

	if e.logger != nil {
		e.logger.Debug("retrieval fused",
			zap.Int("vector_hits", len(vec.hits)),
			zap.Int("lexical_hits", len(lex.hits)),
			zap.Int("candidates", len(candidates)),
		)
	}
	return candidates, degradations, nil
}

// Fuse merges two rank-ordered hit lists with Reciprocal Rank Fusion. A
// candidate present in both lists accumulates both rank terms, so it always
// outscores an otherwise-identical single-list candidate. Ties break by ID
// for a stable ordering.
func Fuse(vectorHits, lexicalHits []deps.SearchHit, rrfConst int) []Candidate {
	byID := make(map[string]*Candidate)

	merge := func(hits []deps.SearchHit, semantic bool) {
		for rank, hit := range hits {
			c, ok := byID[hit.ID]
			if !ok {
				c = &Candidate{
					ID:         hit.ID,
					DocumentID: hit.Source,
					Text:       hit.Text,
					Metadata:   hit.Metadata,
				}
				byID[hit.ID] = c
			}
			score := hit.Score
			if semantic {
				c.SemanticScore = &score
			} else {
				c.LexicalScore = &score
			}
			if c.Text == "" {
				c.Text = hit.Text
			}
			if c.DocumentID == "" {
				c.DocumentID = hit.Source
			}
			c.FusedScore += 1.0 / float64(rrfConst+rank+1)
		}
	}
	merge(vectorHits, true)
	merge(lexicalHits, false)

	out := make([]Candidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].ID < out[j].ID
	})
	for i := range out {
		out[i].FusedRank = i + 1
	}
	return out
}

// Diversify reorders candidates so the head of the list spreads across
// distinct source documents: one round-robin pass per document in fused
// order, repeated until all candidates are placed.
func Diversify(candidates []Candidate) []Candidate {
	byDoc := make(map[string][]Candidate)
	var docOrder []string
	for _, c := range candidates {
		if _, ok := byDoc[c.DocumentID]; !ok {
			docOrder = append(docOrder, c.DocumentID)
		}
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}

	out := make([]Candidate, 0, len(candidates))
	for len(out) < len(candidates) {
		for _, doc := range docOrder {
			if queue := byDoc[doc]; len(queue) > 0 {
				out = append(out, queue[0])
				byDoc[doc] = queue[1:]
			}
		}
	}
	return out
}
