package pipeline

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/a-marczewski/ragline/internal/confidence"
	"github.com/a-marczewski/ragline/internal/deps"
	"github.com/a-marczewski/ragline/internal/evallog"
	"github.com/a-marczewski/ragline/internal/fusion"
	"github.com/a-marczewski/ragline/internal/guardrail"
	"github.com/a-marczewski/ragline/internal/metrics"
	"github.com/a-marczewski/ragline/internal/pipecache"
	"github.com/a-marczewski/ragline/internal/rerank"
	"github.com/a-marczewski/ragline/internal/resilience"
	"github.com/a-marczewski/ragline/internal/strategy"
)

const (
	genericFailureMessage  = "Unable to answer right now, please try again later."
	noInformationMessage   = "No relevant information was found for this question."
	lowConfidenceMessage   = "Could not produce an answer with sufficient confidence."
	defaultTemperature     = 0.2
	regenerateTemperature  = 0.7
	defaultMaxAnswerTokens = 1024
)

// signalNames maps verifier names onto aggregation signal names.
var signalNames = map[string]string{
	"groundedness": confidence.SignalFaithfulness,
	"consistency":  confidence.SignalConsistency,
}

// Options wires a Sequencer. Reranker may be nil and Verifiers empty to
// disable those stages; ResultCache, EvalLog and Metrics may be nil.
type Options struct {
	Embedder   deps.Embedder
	EmbedGuard *deps.Guard

	Corpus      deps.VectorIndex
	CorpusGuard *deps.Guard

	Engine   *fusion.Engine
	Reranker *rerank.Stage

	Generator     deps.Generator
	GenerateGuard *deps.Guard

	Verifiers   []deps.Verifier
	VerifyGuard *deps.Guard

	Aggregator *confidence.Aggregator
	Guardrail  *guardrail.Guardrail
	Selector   *strategy.Selector

	ResultCache *pipecache.Cache[Result]
	EvalLog     *evallog.Writer
	Metrics     *metrics.Metrics
	Logger      *zap.Logger

	MaxHistoryTurns int
	RequestTimeout  time.Duration
	MaxAnswerTokens int
}

// Sequencer drives one question through the pipeline state machine. It is
// safe for concurrent use; all per-request state lives in a pipelineContext.
type Sequencer struct {
	opts Options
}

// NewSequencer creates a sequencer from wired options.
func NewSequencer(opts Options) *Sequencer {
	if opts.MaxAnswerTokens <= 0 {
		opts.MaxAnswerTokens = defaultMaxAnswerTokens
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Sequencer{opts: opts}
}

// Run executes the pipeline synchronously and always returns a well-formed
// result; no fault propagates past this boundary.
func (s *Sequencer) Run(ctx context.Context, req Request) *Result {
	return s.execute(ctx, req, nil)
}

// Stream executes the pipeline and emits ordered stage events followed by one
// terminal result event, then closes the channel.
func (s *Sequencer) Stream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		result := s.execute(ctx, req, func(e Event) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		})
		select {
		case events <- Event{Type: EventResult, Result: result}:
		case <-ctx.Done():
		}
	}()
	return events
}

func (s *Sequencer) execute(ctx context.Context, req Request, emit func(Event)) *Result {
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	pc := &pipelineContext{
		runID:   uuid.NewString(),
		scope:   req.Scope,
		started: time.Now(),
	}
	logger := s.opts.Logger.With(zap.String("run_id", pc.runID))

	// Understanding: normalize the request and classify the question.
	start := time.Now()
	pc.question = req.Question
	pc.history = capHistory(req.History, s.opts.MaxHistoryTurns)
	pc.classification = strategy.Classify(pc.question)
	s.record(pc, emit, StageUnderstanding, OutcomeSuccess, start, nil, false)

	// Guardrail: rejection short-circuits straight to Finalized(Declined).
	start = time.Now()
	if err := s.opts.Guardrail.Check(pc.question); err != nil {
		s.record(pc, emit, StageGuardrail, OutcomeFailure, start, err, false)
		reason := "request rejected"
		var rej *guardrail.Rejection
		if errors.As(err, &rej) {
			reason = rej.Reason
		}
		return s.finalize(pc, emit, logger, declined(reason))
	}
	s.record(pc, emit, StageGuardrail, OutcomeSuccess, start, nil, false)

	// Corpus size feeds strategy selection and the result cache key. A
	// failed count degrades to default parameters rather than failing the
	// run.
	if err := s.opts.CorpusGuard.Do(ctx, "vector.count", func(ctx context.Context) error {
		n, err := s.opts.Corpus.Count(ctx)
		pc.corpusSize = n
		return err
	}); err != nil {
		pc.corpusSize = uint64(s.opts.Selector.LargeCorpus)
		pc.degrade("corpus_count_failed")
		logger.Warn("corpus count failed, using default retrieval parameters", zap.Error(err))
	}
	pc.params = s.opts.Selector.Select(pc.classification, pc.corpusSize)

	// Result cache: a hit skips every remote stage.
	cacheKey := s.resultKey(pc)
	if s.opts.ResultCache != nil {
		if cached, ok := s.opts.ResultCache.Get(cacheKey); ok {
			s.opts.Metrics.CountCacheHit("result")
			return s.finalizeCached(pc, emit, logger, cached)
		}
		s.opts.Metrics.CountCacheMiss("result")
	}

	// Retrieval: embedding is critical. An open circuit fails fast with no
	// retry delay.
	start = time.Now()
	var vector []float32
	err := s.opts.EmbedGuard.Do(ctx, "embed", func(ctx context.Context) error {
		v, err := s.opts.Embedder.Embed(ctx, pc.question)
		vector = v
		return err
	})
	if err != nil {
		s.record(pc, emit, StageRetrieval, OutcomeFailure, start, err, false)
		logger.Error("embedding failed", zap.Error(err))
		return s.finalize(pc, emit, logger, declined(genericFailureMessage))
	}
	s.record(pc, emit, StageRetrieval, OutcomeSuccess, start, nil, false)

	// Fusion: joins both retrieval sources.
	start = time.Now()
	candidates, degradations, err := s.opts.Engine.Retrieve(ctx, pc.question, vector, pc.params)
	for _, d := range degradations {
		pc.degrade(d)
	}
	if err != nil {
		s.record(pc, emit, StageFusion, OutcomeFailure, start, err, false)
		if resilience.Classify(err) == resilience.ClassQuality {
			return s.finalize(pc, emit, logger, declined(noInformationMessage))
		}
		logger.Error("retrieval failed", zap.Error(err))
		return s.finalize(pc, emit, logger, declined(genericFailureMessage))
	}
	pc.candidates = candidates
	s.record(pc, emit, StageFusion, OutcomeSuccess, start, nil, false)

	// Reranking: optional, degrades to fusion order on failure.
	start = time.Now()
	if s.opts.Reranker == nil {
		s.record(pc, emit, StageReranking, OutcomeSkipped, start, nil, false)
	} else if reordered, err := s.opts.Reranker.Rerank(ctx, pc.question, pc.candidates); err != nil {
		s.record(pc, emit, StageReranking, OutcomeSkipped, start, err, false)
		pc.degrade("reranker_unavailable")
		logger.Warn("reranker unavailable, keeping fusion order", zap.Error(err))
	} else {
		pc.candidates = reordered
		s.record(pc, emit, StageReranking, OutcomeSuccess, start, nil, false)
	}

	// Generation: critical.
	start = time.Now()
	if err := s.generate(ctx, pc, defaultTemperature); err != nil {
		s.record(pc, emit, StageGeneration, OutcomeFailure, start, err, false)
		logger.Error("generation failed", zap.Error(err))
		return s.finalize(pc, emit, logger, declined(genericFailureMessage))
	}
	s.record(pc, emit, StageGeneration, OutcomeSuccess, start, nil, false)

	// Verification: optional. A Regenerate verdict loops back to Generation
	// exactly once.
	start = time.Now()
	if len(s.opts.Verifiers) == 0 {
		s.record(pc, emit, StageVerification, OutcomeSkipped, start, nil, false)
		pc.verdict = confidence.Verdict{Decision: confidence.Send}
		pc.degrade("verification_skipped")
	} else {
		pc.verdict = s.opts.Aggregator.Aggregate(s.collectSignals(ctx, pc, logger))
		s.record(pc, emit, StageVerification, OutcomeSuccess, start, nil, false)

		if pc.verdict.Decision == confidence.Regenerate {
			pc.regenerated = true

			start = time.Now()
			if err := s.generate(ctx, pc, regenerateTemperature); err != nil {
				s.record(pc, emit, StageGeneration, OutcomeFailure, start, err, false)
				logger.Error("regeneration failed", zap.Error(err))
				return s.finalize(pc, emit, logger, declined(genericFailureMessage))
			}
			s.record(pc, emit, StageGeneration, OutcomeSuccess, start, nil, false)

			start = time.Now()
			pc.verdict = s.opts.Aggregator.Aggregate(s.collectSignals(ctx, pc, logger))
			s.record(pc, emit, StageVerification, OutcomeSuccess, start, nil, false)

			// The loop is bounded: a second Regenerate verdict declines.
			if pc.verdict.Decision == confidence.Regenerate {
				pc.verdict.Decision = confidence.Decline
			}
		}
	}

	if pc.verdict.Decision == confidence.Decline {
		return s.finalize(pc, emit, logger, declined(lowConfidenceMessage))
	}

	result := s.finalize(pc, emit, logger, sent())
	if s.opts.ResultCache != nil {
		s.opts.ResultCache.Put(cacheKey, *result)
	}
	return result
}

// generate assembles the prompt and calls the generator under its guard.
func (s *Sequencer) generate(ctx context.Context, pc *pipelineContext, temperature float64) error {
	return s.opts.GenerateGuard.Do(ctx, "generate", func(ctx context.Context) error {
		answer, err := s.opts.Generator.Generate(ctx, deps.GenerateRequest{
			Prompt:      buildPrompt(pc.question, pc.history, pc.candidates),
			System:      answerSystemPrompt,
			MaxTokens:   s.opts.MaxAnswerTokens,
			Temperature: temperature,
		})
		if err != nil {
			return err
		}
		pc.answer = answer
		return nil
	})
}

// collectSignals gathers whatever quality signals are available. Verifier
// failures make that signal unavailable; they never fail the run.
func (s *Sequencer) collectSignals(ctx context.Context, pc *pipelineContext, logger *zap.Logger) map[string]float64 {
	signals := make(map[string]float64)

	if validity, ok := confidence.CitationValidity(pc.answer, pc.candidates); ok {
		signals[confidence.SignalCitation] = validity
	}

	contexts := make([]string, len(pc.candidates))
	for i, c := range pc.candidates {
		contexts[i] = c.Text
	}

	for _, v := range s.opts.Verifiers {
		var score float64
		err := s.opts.VerifyGuard.Do(ctx, "verify."+v.Name(), func(ctx context.Context) error {
			var err error
			score, err = v.Verify(ctx, pc.answer, contexts)
			return err
		})
		if err != nil {
			pc.degrade("verifier_" + v.Name() + "_unavailable")
			logger.Warn("verifier unavailable", zap.String("verifier", v.Name()), zap.Error(err))
			continue
		}

		name := v.Name()
		if mapped, ok := signalNames[name]; ok {
			name = mapped
		}
		signals[name] = score
	}
	return signals
}

type terminal struct {
	outcome RunOutcome
	reason  string
}

func declined(reason string) terminal { return terminal{outcome: RunDeclined, reason: reason} }
func sent() terminal                  { return terminal{outcome: RunSent} }

// finalize builds the result, records the terminal stage and writes the
// evaluation record.
func (s *Sequencer) finalize(pc *pipelineContext, emit func(Event), logger *zap.Logger, t terminal) *Result {
	s.record(pc, emit, StageFinalized, OutcomeSuccess, time.Now(), nil, false)

	result := &Result{
		RunID:          pc.runID,
		Outcome:        t.outcome,
		DeclineReason:  t.reason,
		Decision:       pc.verdict.Decision,
		Confidence:     pc.verdict.Score,
		Issues:         pc.verdict.Issues,
		Classification: pc.classification,
		Regenerated:    pc.regenerated,
		Degradations:   pc.degradations,
		Stages:         pc.stages,
		Duration:       time.Since(pc.started),
	}
	if t.outcome == RunSent {
		result.Answer = pc.answer
		result.Candidates = pc.candidates
	}

	s.opts.Metrics.CountRun(string(result.Outcome), string(result.Decision))
	s.writeEvalRecord(pc, result)

	logger.Info("run finalized",
		zap.String("outcome", string(result.Outcome)),
		zap.String("decision", string(result.Decision)),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("duration", result.Duration),
	)
	return result
}

// finalizeCached replays a cached result under a fresh run, marking every
// skipped stage in the trace.
func (s *Sequencer) finalizeCached(pc *pipelineContext, emit func(Event), logger *zap.Logger, cached Result) *Result {
	for _, stage := range []Stage{StageRetrieval, StageFusion, StageReranking, StageGeneration, StageVerification} {
		s.record(pc, emit, stage, OutcomeSkipped, time.Now(), nil, true)
	}
	s.record(pc, emit, StageFinalized, OutcomeSuccess, time.Now(), nil, false)

	result := cached
	result.RunID = pc.runID
	result.CacheHit = true
	result.Stages = pc.stages
	result.Duration = time.Since(pc.started)

	s.opts.Metrics.CountRun(string(result.Outcome), string(result.Decision))
	s.writeEvalRecord(pc, &result)

	logger.Info("run served from cache", zap.String("decision", string(result.Decision)))
	return &result
}

func (s *Sequencer) record(pc *pipelineContext, emit func(Event), stage Stage, outcome Outcome, start time.Time, err error, cacheHit bool) {
	rec := StageRecord{
		Stage:    stage,
		Outcome:  outcome,
		Start:    start,
		Duration: time.Since(start),
		CacheHit: cacheHit,
	}
	if err != nil {
		rec.Err = err.Error()
	}
	pc.stages = append(pc.stages, rec)
	s.opts.Metrics.ObserveStage(string(stage), string(outcome), rec.Duration)
	if emit != nil {
		emit(Event{Type: EventStage, Record: &rec})
	}
}

// resultKey fingerprints the request content plus the corpus version, so any
// corpus change naturally invalidates cached answers.
func (s *Sequencer) resultKey(pc *pipelineContext) string {
	parts := []string{pc.question, strconv.FormatUint(pc.corpusSize, 10)}
	for _, turn := range pc.history {
		parts = append(parts, turn.Role, turn.Content)
	}
	scopeKeys := make([]string, 0, len(pc.scope))
	for k := range pc.scope {
		scopeKeys = append(scopeKeys, k)
	}
	sort.Strings(scopeKeys)
	for _, k := range scopeKeys {
		parts = append(parts, k, pc.scope[k])
	}
	return pipecache.Key("result", parts...)
}

func (s *Sequencer) writeEvalRecord(pc *pipelineContext, result *Result) {
	if s.opts.EvalLog == nil {
		return
	}

	stages := make([]evallog.StageEntry, len(pc.stages))
	for i, rec := range pc.stages {
		stages[i] = evallog.StageEntry{
			Stage:      string(rec.Stage),
			Outcome:    string(rec.Outcome),
			DurationMs: rec.Duration.Milliseconds(),
			Error:      rec.Err,
			CacheHit:   rec.CacheHit,
		}
	}

	s.opts.EvalLog.Write(evallog.Record{
		RunID:          pc.runID,
		Question:       pc.question,
		QuestionHash:   pipecache.Key("q", pc.question),
		Answer:         result.Answer,
		Strategy:       string(pc.classification),
		Outcome:        string(result.Outcome),
		Decision:       string(result.Decision),
		Confidence:     result.Confidence,
		Issues:         result.Issues,
		CandidateCount: len(pc.candidates),
		Regenerated:    pc.regenerated,
		Degradations:   pc.degradations,
		Stages:         stages,
		DurationMs:     result.Duration.Milliseconds(),
		CreatedAt:      time.Now(),
	})
}
