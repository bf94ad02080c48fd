// Package app wires configuration, clients and the pipeline into one
// runnable application with explicit construction and teardown.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/ragline/internal/config"
	"github.com/a-marczewski/ragline/internal/confidence"
	"github.com/a-marczewski/ragline/internal/deps"
	"github.com/a-marczewski/ragline/internal/evallog"
	"github.com/a-marczewski/ragline/internal/fusion"
	"github.com/a-marczewski/ragline/internal/guardrail"
	"github.com/a-marczewski/ragline/internal/lexical"
	"github.com/a-marczewski/ragline/internal/llm"
	"github.com/a-marczewski/ragline/internal/logging"
	"github.com/a-marczewski/ragline/internal/metrics"
	"github.com/a-marczewski/ragline/internal/pipecache"
	"github.com/a-marczewski/ragline/internal/pipeline"
	"github.com/a-marczewski/ragline/internal/rerank"
	"github.com/a-marczewski/ragline/internal/resilience"
	"github.com/a-marczewski/ragline/internal/server"
	"github.com/a-marczewski/ragline/internal/storage"
	"github.com/a-marczewski/ragline/internal/strategy"
	"github.com/a-marczewski/ragline/internal/vector"
)

// App holds the wired components of one process.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *storage.DB
	LLM       *llm.Client
	Vector    *vector.Index
	Lexical   *lexical.Index
	Sequencer *pipeline.Sequencer
	Metrics   *metrics.Metrics
	EvalLog   *evallog.Writer
	Probes    []server.HealthProbe
}

// NewApp builds the application from the config file at configPath.
func NewApp(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		logger.Error("Failed to initialize database", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.EmbeddingModel)

	vectorIndex, err := vector.NewIndex(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.QdrantCollection, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	lexicalIndex := lexical.NewIndex(db, logger)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	retryCfg := resilience.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond,
		Multiplier:  cfg.RetryMultiplier,
	}
	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.BreakerRecoveryTimeoutSecond) * time.Second,
		HalfOpenMaxCalls: cfg.BreakerHalfOpenMaxCalls,
	}

	newGuard := func(name string, timeoutSeconds int) *deps.Guard {
		b := resilience.NewBreaker(name, breakerCfg)
		if m != nil {
			b.OnTransition(m.BreakerListener())
		}
		return deps.NewGuard(b, retryCfg, time.Duration(timeoutSeconds)*time.Second, logger)
	}

	embedGuard := newGuard("embedder", cfg.EmbedTimeoutSeconds)
	corpusGuard := newGuard("corpus", cfg.SearchTimeoutSeconds)
	vecGuard := newGuard("vector", cfg.SearchTimeoutSeconds)
	lexGuard := newGuard("lexical", cfg.SearchTimeoutSeconds)
	genGuard := newGuard("generator", cfg.GenerateTimeoutSeconds)
	verifyGuard := newGuard("verifier", cfg.VerifyTimeoutSeconds)
	rerankGuard := newGuard("reranker", cfg.RerankTimeoutSeconds)

	var embedCache *pipecache.Cache[[]float32]
	var resultCache *pipecache.Cache[pipeline.Result]
	if cfg.CachingEnabled {
		ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
		embedCache = pipecache.New[[]float32](cfg.CacheCapacity, ttl)
		resultCache = pipecache.New[pipeline.Result](cfg.CacheCapacity, ttl)
	}

	engine := fusion.NewEngine(vectorIndex, lexicalIndex, vecGuard, lexGuard,
		cfg.RRFConst, time.Duration(cfg.SearchTimeoutSeconds)*time.Second, logger)

	var rerankStage *rerank.Stage
	if cfg.RerankingEnabled {
		rerankStage = rerank.NewStage(llm.NewReranker(llmClient, cfg.RerankModel, logger), rerankGuard,
			cfg.RerankWeight, cfg.FusedWeight, logger)
	}

	var verifiers []deps.Verifier
	if cfg.VerificationEnabled {
		verifiers = []deps.Verifier{
			llm.NewGroundednessVerifier(llmClient, logger),
			llm.NewConsistencyVerifier(llmClient, logger),
		}
	}

	evalWriter := evallog.NewWriter(db.GetConnection(), logger)

	sequencer := pipeline.NewSequencer(pipeline.Options{
		Embedder:      llm.NewEmbedder(llmClient, embedCache, logger),
		EmbedGuard:    embedGuard,
		Corpus:        vectorIndex,
		CorpusGuard:   corpusGuard,
		Engine:        engine,
		Reranker:      rerankStage,
		Generator:     llm.NewGenerator(llmClient),
		GenerateGuard: genGuard,
		Verifiers:     verifiers,
		VerifyGuard:   verifyGuard,
		Aggregator: confidence.NewAggregator(confidence.Thresholds{
			Send:                 cfg.SendThreshold,
			Disclaimer:           cfg.DisclaimerThreshold,
			Regenerate:           cfg.RegenerateThreshold,
			FaithfulnessFloor:    cfg.FaithfulnessFloor,
			FaithfulnessPenalty:  cfg.FaithfulnessPenalty,
			HallucinationCeiling: cfg.HallucinationCeiling,
			HallucinationPenalty: cfg.HallucinationPenalty,
		}),
		Guardrail:       guardrail.New(cfg.MaxQuestionChars),
		Selector:        strategy.NewSelector(cfg.RetrievalK, cfg.ComparativeMaxK, cfg.SimilarityThreshold, cfg.SmallCorpusThreshold, cfg.LargeCorpusThreshold),
		ResultCache:     resultCache,
		EvalLog:         evalWriter,
		Metrics:         m,
		Logger:          logger,
		MaxHistoryTurns: cfg.MaxHistoryTurns,
		RequestTimeout:  time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	})

	probes := []server.HealthProbe{
		{Name: "database", Check: func(ctx context.Context) error { return db.Ping() }},
		{Name: "llm", Check: llmClient.HealthCheck},
		{Name: "qdrant", Check: vectorIndex.HealthCheck},
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		LLM:       llmClient,
		Vector:    vectorIndex,
		Lexical:   lexicalIndex,
		Sequencer: sequencer,
		Metrics:   m,
		EvalLog:   evalWriter,
		Probes:    probes,
	}, nil
}

// Close gracefully shuts down the application resources.
func (a *App) Close() {
	if a.EvalLog != nil {
		a.EvalLog.Close()
	}
	if a.Vector != nil {
		if err := a.Vector.Close(); err != nil {
			a.Logger.Error("Failed to close qdrant connection", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error("Failed to close database connection", zap.Error(err))
		}
	}
	if a.Logger != nil {
		if err := a.Logger.Sync(); err != nil {
			if !strings.Contains(err.Error(), "sync /dev/stderr") {
				fmt.Fprintf(os.Stderr, "Error syncing logger: %v\n", err)
			}
		}
	}
}
