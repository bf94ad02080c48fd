package rerank

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/a-marczewski/ragline/internal/deps"
	"github.com/a-marczewski/ragline/internal/fusion"
	"github.com/a-marczewski/ragline/internal/resilience"
)

type fakeReranker struct {
	scores map[string]float64
	err    error
}

func (f *fakeReranker) Score(ctx context.Context, query, text string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.scores[text], nil
}

func newTestStage(r deps.Reranker) *Stage {
	retry := resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	guard := deps.NewGuard(resilience.NewBreaker("reranker", resilience.DefaultBreakerConfig()), retry, time.Second, nil)
	return NewStage(r, guard, 0.7, 0.3, nil)
}

func TestRerankReordersWithoutTruncating(t *testing.T) {
	// Fusion put "weak" first, but the reranker strongly prefers "strong".
	candidates := []fusion.Candidate{
		{ID: "weak", Text: "weak text", FusedScore: 0.04, FusedRank: 1},
		{ID: "strong", Text: "strong text", FusedScore: 0.03, FusedRank: 2},
		{ID: "middle", Text: "middle text", FusedScore: 0.02, FusedRank: 3},
	}
	r := &fakeReranker{scores: map[string]float64{
		"weak text":   2,
		"strong text": 9,
		"middle text": 5,
	}}

	out, err := newTestStage(r).Rerank(context.Background(), "q", candidates)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("reranking must not truncate, got %d", len(out))
	}
	if out[0].ID != "strong" {
		t.Errorf("first = %s, want strong", out[0].ID)
	}
	if out[0].RerankScore == nil || *out[0].RerankScore != 9 {
		t.Errorf("raw rerank score not recorded: %+v", out[0])
	}
}

func TestRerankFailurePropagates(t *testing.T) {
	candidates := []fusion.Candidate{{ID: "a", Text: "t", FusedScore: 0.1}}
	r := &fakeReranker{err: errors.New("model offline")}

	if _, err := newTestStage(r).Rerank(context.Background(), "q", candidates); err == nil {
		t.Fatal("expected error")
	}
}

func TestBlendWeights(t *testing.T) {
	candidates := []fusion.Candidate{
		{ID: "a", FusedScore: 0.05},
		{ID: "b", FusedScore: 0.025},
	}

	out := Blend(candidates, []float64{10, 10}, 0.7, 0.3)

	// a: rerank 1.0*0.7 + fused 1.0*0.3 = 1.0
	// b: rerank 1.0*0.7 + fused 0.5*0.3 = 0.85
	if out[0].ID != "a" {
		t.Fatalf("order wrong: %s first", out[0].ID)
	}
	if got := out[0].CombinedScore; got < 0.999 || got > 1.001 {
		t.Errorf("a combined = %g, want 1.0", got)
	}
	if got := out[1].CombinedScore; got < 0.849 || got > 0.851 {
		t.Errorf("b combined = %g, want 0.85", got)
	}
}

func TestBlendDoesNotMutateInput(t *testing.T) {
	candidates := []fusion.Candidate{
		{ID: "a", FusedScore: 0.01},
		{ID: "b", FusedScore: 0.05},
	}

	Blend(candidates, []float64{9, 1}, 0.7, 0.3)

	if candidates[0].ID != "a" || candidates[0].RerankScore != nil {
		t.Error("input slice must not be mutated")
	}
}
