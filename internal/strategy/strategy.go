// Package strategy classifies incoming questions and picks retrieval
// parameters from the classification and corpus size. Both steps are pure so
// a given question and corpus always yield the same plan.
package strategy

import "strings"

// Classification is the coarse intent of a question.
type Classification string

const (
	BroadSearch    Classification = "broad-search"
	TargetedLookup Classification = "targeted-lookup"
	Comparative    Classification = "comparative"
)

// Params are the retrieval parameters for one request.
type Params struct {
	K         int
	Threshold float64
	// Diversify requires results to be spread across distinct source
	// documents rather than concentrated in one.
	Diversify bool
}

var comparativeMarkers = []string{
	"compare", "comparison", "versus", " vs ", " vs.", "difference between",
	"differences between", "better than", "worse than", "which is best",
	"which is better", "rank", "ranking", "top ",
}

var broadMarkers = []string{
	"overview", "explain", "summarize", "summary of", "tell me about",
	"what are all", "everything about", "introduction to", "how does",
	"walk me through",
}

// Classify derives the question's intent from surface keywords. Comparative
// markers win over broad ones; the fallback is a targeted lookup.
func Classify(question string) Classification {
	q := " " + strings.ToLower(strings.TrimSpace(question)) + " "

	for _, m := range comparativeMarkers {
		if strings.Contains(q, m) {
			return Comparative
		}
	}
	for _, m := range broadMarkers {
		if strings.Contains(q, m) {
			return BroadSearch
		}
	}
	return TargetedLookup
}

// Selector maps a classification and corpus size to retrieval parameters.
type Selector struct {
	DefaultK        int
	BroadK          int
	ComparativeMaxK int
	BaseThreshold   float64
	SmallCorpus     int // corpora at or below this size are searched exhaustively
	LargeCorpus     int // corpora at or above this size get a lowered threshold
}

// NewSelector creates a selector with the given tuning.
func NewSelector(defaultK, comparativeMaxK int, baseThreshold float64, smallCorpus, largeCorpus int) *Selector {
	return &Selector{
		DefaultK:        defaultK,
		BroadK:          defaultK * 2,
		ComparativeMaxK: comparativeMaxK,
		BaseThreshold:   baseThreshold,
		SmallCorpus:     smallCorpus,
		LargeCorpus:     largeCorpus,
	}
}

// Select picks k, threshold and the diversification flag.
func (s *Selector) Select(class Classification, corpusSize uint64) Params {
	corpus := int(corpusSize)

	p := Params{Threshold: s.BaseThreshold}

	// Large corpora get a lowered threshold to preserve recall.
	if corpus >= s.LargeCorpus {
		p.Threshold = s.BaseThreshold * 0.8
	}

	switch class {
	case Comparative:
		p.K = min(corpus, s.ComparativeMaxK)
		p.Diversify = true
	case TargetedLookup:
		if corpus <= s.SmallCorpus {
			p.K = corpus
			p.Diversify = true
		} else {
			p.K = s.DefaultK
		}
	default: // BroadSearch
		p.K = s.BroadK
		p.Diversify = true
	}

	if p.K < 1 {
		p.K = 1
	}
	return p
}
