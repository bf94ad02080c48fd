// Package rerank applies a second-pass relevance scorer to the fused
// candidate list and reorders it by a blended score.
package rerank

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/a-marczewski/ragline/internal/deps"
	"github.com/a-marczewski/ragline/internal/fusion"
)

// Stage scores every candidate against the query and reorders the list. It
// never truncates; downstream stages see every fetched candidate.
type Stage struct {
	reranker     deps.Reranker
	guard        *deps.Guard
	rerankWeight float64
	fusedWeight  float64
	logger       *zap.Logger
}

// NewStage creates a reranking stage with the given blend weights.
func NewStage(reranker deps.Reranker, guard *deps.Guard, rerankWeight, fusedWeight float64, logger *zap.Logger) *Stage {
	return &Stage{
		reranker:     reranker,
		guard:        guard,
		rerankWeight: rerankWeight,
		fusedWeight:  fusedWeight,
		logger:       logger,
	}
}

// Rerank scores each candidate on a 1-10 scale and reorders by
// rerank_weight*normalized_rerank + fused_weight*normalized_fused. The whole
// pass runs inside one guarded window so a failing reranker trips its breaker
// once, not once per candidate.
func (s *Stage) Rerank(ctx context.Context, query string, candidates []fusion.Candidate) ([]fusion.Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	scores := make([]float64, len(candidates))
	err := s.guard.Do(ctx, "rerank.score", func(ctx context.Context) error {
		for i, c := range candidates {
			score, err := s.reranker.Score(ctx, query, c.Text)
			if err != nil {
				return err
			}
			scores[i] = score
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := Blend(candidates, scores, s.rerankWeight, s.fusedWeight)
	if s.logger != nil {
		s.logger.Debug("reranking complete", zap.Int("candidates", len(out)))
	}
	return out, nil
}

// Blend normalizes both score spaces into [0,1], combines them and sorts
// descending by the combined score. Rerank scores normalize from their 1-10
// scale; fused scores normalize against the list maximum.
func Blend(candidates []fusion.Candidate, rerankScores []float64, rerankWeight, fusedWeight float64) []fusion.Candidate {
	maxFused := 0.0
	for _, c := range candidates {
		if c.FusedScore > maxFused {
			maxFused = c.FusedScore
		}
	}

	out := make([]fusion.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		score := rerankScores[i]
		out[i].RerankScore = &score

		rerankNorm := (score - 1) / 9
		fusedNorm := 0.0
		if maxFused > 0 {
			fusedNorm = out[i].FusedScore / maxFused
		}
		out[i].CombinedScore = rerankWeight*rerankNorm + fusedWeight*fusedNorm
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CombinedScore != out[j].CombinedScore {
			return out[i].CombinedScore > out[j].CombinedScore
		}
		return out[i].ID < out[j].ID
	})
	return out
}
