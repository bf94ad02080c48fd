// Package pipeline contains the sequencer that drives one question through
// retrieval, generation and verification, and the types that flow through it.
package pipeline

import (
	"time"

	"github.com/a-marczewski/ragline/internal/confidence"
	"github.com/a-marczewski/ragline/internal/fusion"
	"github.com/a-marczewski/ragline/internal/strategy"
)

// Stage identifies one step of the pipeline state machine.
type Stage string

const (
	StageUnderstanding Stage = "understanding"
	StageGuardrail     Stage = "guardrail"
	StageRetrieval     Stage = "retrieval"
	StageFusion        Stage = "fusion"
	StageReranking     Stage = "reranking"
	StageGeneration    Stage = "generation"
	StageVerification  Stage = "verification"
	StageFinalized     Stage = "finalized"
)

// Outcome is the result of one stage execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// StageRecord is one line of the per-request stage trace. Every stage entry
// writes exactly one record regardless of success.
type StageRecord struct {
	Stage    Stage         `json:"stage"`
	Outcome  Outcome       `json:"outcome"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
	CacheHit bool          `json:"cache_hit,omitempty"`
}

// Turn is one prior exchange in the conversation, most recent last.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one question for the pipeline.
type Request struct {
	Question string            `json:"question"`
	History  []Turn            `json:"history,omitempty"`
	Scope    map[string]string `json:"scope,omitempty"`
}

// RunOutcome is the terminal state of a run.
type RunOutcome string

const (
	RunSent     RunOutcome = "sent"
	RunDeclined RunOutcome = "declined"
)

// Result is the well-formed response every run produces, sent or declined.
type Result struct {
	RunID          string                  `json:"run_id"`
	Outcome        RunOutcome              `json:"outcome"`
	Answer         string                  `json:"answer,omitempty"`
	DeclineReason  string                  `json:"decline_reason,omitempty"`
	Decision       confidence.Decision     `json:"decision,omitempty"`
	Confidence     float64                 `json:"confidence"`
	Issues         []string                `json:"issues,omitempty"`
	Candidates     []fusion.Candidate      `json:"candidates,omitempty"`
	Classification strategy.Classification `json:"classification,omitempty"`
	Regenerated    bool                    `json:"regenerated,omitempty"`
	Degradations   []string                `json:"degradations,omitempty"`
	CacheHit       bool                    `json:"cache_hit,omitempty"`
	Stages         []StageRecord           `json:"stages"`
	Duration       time.Duration           `json:"duration"`
}

// EventType distinguishes progress events from the terminal event.
type EventType string

const (
	EventStage  EventType = "stage"
	EventResult EventType = "result"
)

// Event is one streaming update. Stage events carry the record of a completed
// stage; the terminal event carries the full result.
type Event struct {
	Type   EventType    `json:"type"`
	Record *StageRecord `json:"record,omitempty"`
	Result *Result      `json:"result,omitempty"`
}

// pipelineContext is the per-request working state. It is owned by exactly
// one run and never shared.
type pipelineContext struct {
	runID          string
	question       string
	history        []Turn
	scope          map[string]string
	classification strategy.Classification
	params         strategy.Params
	corpusSize     uint64
	candidates     []fusion.Candidate
	answer         string
	verdict        confidence.Verdict
	regenerated    bool
	degradations   []string
	stages         []StageRecord
	started        time.Time
}

func (pc *pipelineContext) degrade(reason string) {
	for _, d := range pc.degradations {
		if d == reason {
			return
		}
	}
	pc.degradations = append(pc.degradations, reason)
}
