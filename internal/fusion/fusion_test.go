package fusion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/a-marczewski/ragline/internal/deps"
	"github.com/a-marczewski/ragline/internal/resilience"
	"github.com/a-marczewski/ragline/internal/strategy"
)

func TestFuseBothListsOutscoreSingleList(t *testing.T) {
	vector := []deps.SearchHit{
		{ID: "both", Source: "doc-a", Score: 0.9},
		{ID: "vec-only", Source: "doc-b", Score: 0.9},
	}
	lexical := []deps.SearchHit{
		{ID: "both", Source: "doc-a", Score: 5.0},
		{ID: "lex-only", Source: "doc-c", Score: 5.0},
	}

	out := Fuse(vector, lexical, 60)
	if len(out) != 3 {
		t.Fatalf("got %d candidates, want 3", len(out))
	}
	if out[0].ID != "both" {
		t.Fatalf("dual-source candidate must rank first, got %s", out[0].ID)
	}
	for _, c := range out[1:] {
		if out[0].FusedScore <= c.FusedScore {
			t.Errorf("dual-source score %g must strictly exceed %s's %g", out[0].FusedScore, c.ID, c.FusedScore)
		}
	}
	if out[0].SemanticScore == nil || out[0].LexicalScore == nil {
		t.Error("dual-source candidate must carry both raw scores")
	}
}

func TestFuseAssignsSequentialRanks(t *testing.T) {
	vector := []deps.SearchHit{
		{ID: "a", Source: "d1", Score: 0.9},
		{ID: "b", Source: "d2", Score: 0.8},
		{ID: "c", Source: "d3", Score: 0.7},
	}

	out := Fuse(vector, nil, 60)
	for i, c := range out {
		if c.FusedRank != i+1 {
			t.Errorf("candidate %s rank = %d, want %d", c.ID, c.FusedRank, i+1)
		}
	}
}

func TestDiversifySpreadsDocuments(t *testing.T) {
	in := []Candidate{
		{ID: "a1", DocumentID: "doc-a"},
		{ID: "a2", DocumentID: "doc-a"},
		{ID: "a3", DocumentID: "doc-a"},
		{ID: "b1", DocumentID: "doc-b"},
		{ID: "c1", DocumentID: "doc-c"},
	}

	out := Diversify(in)
	if len(out) != 5 {
		t.Fatalf("diversify must not drop candidates, got %d", len(out))
	}
	want := []string{"a1", "b1", "c1", "a2", "a3"}
	for i, id := range want {
		if out[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, out[i].ID, id)
		}
	}
}

type fakeVector struct {
	hits []deps.SearchHit
	err  error
}

func (f *fakeVector) Search(ctx context.Context, vector []float32, k int, threshold float64, filters map[string]string) ([]deps.SearchHit, error) {
	return f.hits, f.err
}

func (f *fakeVector) Count(ctx context.Context) (uint64, error) { return uint64(len(f.hits)), nil }

type fakeLexical struct {
	hits []deps.SearchHit
	err  error
}

func (f *fakeLexical) Search(ctx context.Context, text string, k int, filters map[string]string) ([]deps.SearchHit, error) {
	return f.hits, f.err
}

func newTestEngine(vec *fakeVector, lex *fakeLexical) *Engine {
	retry := resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	bcfg := resilience.DefaultBreakerConfig()
	vg := deps.NewGuard(resilience.NewBreaker("vector", bcfg), retry, time.Second, nil)
	lg := deps.NewGuard(resilience.NewBreaker("lexical", bcfg), retry, time.Second, nil)
	return NewEngine(vec, lex, vg, lg, 60, 5*time.Second, nil)
}

func TestRetrieveSurvivesOneSourceFailure(t *testing.T) {
	vec := &fakeVector{err: errors.New("qdrant down")}
	lex := &fakeLexical{hits: []deps.SearchHit{{ID: "l1", Source: "doc-a", Score: 3.0, Text: "some text"}}}

	cands, degradations, err := newTestEngine(vec, lex).Retrieve(
		context.Background(), "q", []float32{0.1}, strategy.Params{K: 5})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(cands) != 1 || cands[0].ID != "l1" {
		t.Fatalf("expected lexical-only results, got %+v", cands)
	}
	if len(degradations) != 1 || degradations[0] != "vector_search_failed" {
		t.Errorf("degradations = %v", degradations)
	}
}

func TestRetrieveFailsWhenBothSourcesFail(t *testing.T) {
	vec := &fakeVector{err: errors.New("down")}
	lex := &fakeLexical{err: errors.New("also down")}

	_, _, err := newTestEngine(vec, lex).Retrieve(
		context.Background(), "q", []float32{0.1}, strategy.Params{K: 5})
	if err == nil {
		t.Fatal("expected error when both sources fail")
	}
}

func TestRetrieveEmptyResultsIsQualityFailure(t *testing.T) {
	_, _, err := newTestEngine(&fakeVector{}, &fakeLexical{}).Retrieve(
		context.Background(), "q", []float32{0.1}, strategy.Params{K: 5})
	if err == nil {
		t.Fatal("expected error for empty result set")
	}
	if resilience.Classify(err) != resilience.ClassQuality {
		t.Errorf("empty results should classify as quality failure, got %v", resilience.Classify(err))
	}
}

func TestRetrieveTruncatesToK(t *testing.T) {
	vec := &fakeVector{hits: []deps.SearchHit{
		{ID: "v1", Source: "d1", Score: 0.9},
		{ID: "v2", Source: "d2", Score: 0.8},
		{ID: "v3", Source: "d3", Score: 0.7},
		{ID: "v4", Source: "d4", Score: 0.6},
	}}

	cands, _, err := newTestEngine(vec, &fakeLexical{}).Retrieve(
		context.Background(), "q", []float32{0.1}, strategy.Params{K: 2})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(cands) != 2 {
		t.Errorf("got %d candidates, want 2", len(cands))
	}
}
