// Package confidence blends independent quality signals for a generated
// answer into a single score and a final decision.
package confidence

// Signal names recognized by the aggregator.
const (
	SignalFaithfulness  = "faithfulness"
	SignalRelevance     = "relevance"
	SignalHallucination = "hallucination_risk"
	SignalCitation      = "citation_validity"
	SignalConsistency   = "consistency"
	SignalGeneration    = "generation_confidence"
)

// weights is the fixed blend table. Hallucination risk is inverted before
// weighting since a high risk means a low-quality answer.
var weights = map[string]float64{
	SignalFaithfulness:  0.30,
	SignalRelevance:     0.20,
	SignalHallucination: 0.20,
	SignalCitation:      0.15,
	SignalConsistency:   0.10,
	SignalGeneration:    0.05,
}

// Decision is the final verdict on an answer.
type Decision string

const (
	Send               Decision = "send"
	SendWithDisclaimer Decision = "send_with_disclaimer"
	Regenerate         Decision = "regenerate"
	Decline            Decision = "decline"
)

// Verdict is the aggregation result.
type Verdict struct {
	Score    float64
	Decision Decision
	Issues   []string
	Signals  map[string]float64
}

// Thresholds tunes the aggregator. All values come from configuration; none
// of them is a contract.
type Thresholds struct {
	Send       float64
	Disclaimer float64
	Regenerate float64

	FaithfulnessFloor    float64
	FaithfulnessPenalty  float64
	HallucinationCeiling float64
	HallucinationPenalty float64
}

// Aggregator scores answers from whatever signals are available.
type Aggregator struct {
	thresholds Thresholds
}

// NewAggregator creates an aggregator with the given thresholds.
func NewAggregator(thresholds Thresholds) *Aggregator {
	return &Aggregator{thresholds: thresholds}
}

// Aggregate computes the weighted score over the available signals, applies
// hard penalties and maps the result to a decision. Weights of missing
// signals are dropped and the remainder renormalized to sum to 1, so a run
// with two signals is comparable to a run with six.
func (a *Aggregator) Aggregate(signals map[string]float64) Verdict {
	v := Verdict{Signals: signals}
	if len(signals) == 0 {
		v.Decision = Decline
		v.Issues = append(v.Issues, "no_quality_signals")
		return v
	}

	var weightSum, blended float64
	for name, value := range signals {
		w, ok := weights[name]
		if !ok {
			continue
		}
		if name == SignalHallucination {
			value = 1 - value
		}
		blended += value * w
		weightSum += w
	}
	if weightSum == 0 {
		v.Decision = Decline
		v.Issues = append(v.Issues, "no_quality_signals")
		return v
	}
	v.Score = blended / weightSum

	// Hard penalties: some failure modes must dominate the blend rather
	// than average away.
	if f, ok := signals[SignalFaithfulness]; ok && f < a.thresholds.FaithfulnessFloor {
		v.Score *= a.thresholds.FaithfulnessPenalty
		v.Issues = append(v.Issues, "low_faithfulness", "hallucination_risk")
	}
	if h, ok := signals[SignalHallucination]; ok && h > a.thresholds.HallucinationCeiling {
		v.Score *= a.thresholds.HallucinationPenalty
		v.Issues = appendUnique(v.Issues, "hallucination_risk")
	}

	v.Decision = a.decide(v.Score)
	return v
}

func (a *Aggregator) decide(score float64) Decision {
	switch {
	case score >= a.thresholds.Send:
		return Send
	case score >= a.thresholds.Disclaimer:
		return SendWithDisclaimer
	case score >= a.thresholds.Regenerate:
		return Regenerate
	default:
		return Decline
	}
}

func appendUnique(list []string, item string) []string {
	for _, v := range list {
		if v == item {
			return list
		}
	}
	return append(list, item)
}
