package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultListenAddress        = "127.0.0.1:8480"
	DefaultLLMBaseURL           = "http://localhost:11434/v1"
	DefaultEmbeddingModel       = "nomic-embed-text"
	DefaultQdrantURL            = "http://localhost:6334"
	DefaultQdrantCollection     = "fragments"
	DefaultDBPath               = "ragline.sqlite3"
	DefaultK                    = 10
	DefaultSimilarityThreshold  = 0.35
	DefaultSmallCorpusThreshold = 50
	DefaultLargeCorpusThreshold = 1000
	DefaultComparativeMaxK      = 30
	DefaultRRFConst             = 60
	DefaultMaxHistoryTurns      = 10
	DefaultMaxQuestionChars     = 8000
)

// Config holds the application configuration.
type Config struct {
	ListenAddress string
	DBPath        string
	LogLevel      string
	LogFile       string

	// Feature flags
	RerankingEnabled    bool
	VerificationEnabled bool
	CachingEnabled      bool
	MetricsEnabled      bool

	// LLM endpoint (OpenAI-compatible)
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	EmbeddingModel string
	RerankModel    string

	// Vector store
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Retrieval defaults
	RetrievalK           int
	SimilarityThreshold  float64
	SmallCorpusThreshold int
	LargeCorpusThreshold int
	ComparativeMaxK      int
	RRFConst             int

	// Rerank blend
	RerankWeight float64
	FusedWeight  float64

	// Per-stage timeouts (seconds)
	EmbedTimeoutSeconds    int
	SearchTimeoutSeconds   int
	RerankTimeoutSeconds   int
	GenerateTimeoutSeconds int
	VerifyTimeoutSeconds   int
	RequestTimeoutSeconds  int

	// Retry policy
	RetryMaxAttempts int
	RetryBaseDelayMs int
	RetryMaxDelayMs  int
	RetryMultiplier  float64

	// Circuit breaker
	BreakerFailureThreshold      int
	BreakerRecoveryTimeoutSecond int
	BreakerHalfOpenMaxCalls      int

	// Result cache
	CacheTTLSeconds int
	CacheCapacity   int

	// Confidence thresholds and penalties
	SendThreshold        float64
	DisclaimerThreshold  float64
	RegenerateThreshold  float64
	FaithfulnessFloor    float64
	FaithfulnessPenalty  float64
	HallucinationCeiling float64
	HallucinationPenalty float64

	// Guardrail
	MaxQuestionChars int
	MaxHistoryTurns  int

	ConfigPath string
}

type fileConfig struct {
	Server struct {
		Listen string `toml:"listen"`
	} `toml:"server"`
	Database struct {
		Path string `toml:"path"`
	} `toml:"database"`
	Logging struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"logging"`
	Features struct {
		Reranking    *bool `toml:"reranking"`
		Verification *bool `toml:"verification"`
		Caching      *bool `toml:"caching"`
		Metrics      *bool `toml:"metrics"`
	} `toml:"features"`
	LLM struct {
		BaseURL        string `toml:"base_url"`
		APIKey         string `toml:"api_key"`
		Model          string `toml:"model"`
		EmbeddingModel string `toml:"embedding_model"`
		RerankModel    string `toml:"rerank_model"`
	} `toml:"llm"`
	Qdrant struct {
		URL        string `toml:"url"`
		APIKey     string `toml:"api_key"`
		Collection string `toml:"collection"`
	} `toml:"qdrant"`
	Retrieval struct {
		K                    int     `toml:"k"`
		SimilarityThreshold  float64 `toml:"similarity_threshold"`
		SmallCorpusThreshold int     `toml:"small_corpus_threshold"`
		LargeCorpusThreshold int     `toml:"large_corpus_threshold"`
		ComparativeMaxK      int     `toml:"comparative_max_k"`
		RRFConst             int     `toml:"rrf_const"`
	} `toml:"retrieval"`
	Rerank struct {
		Weight      float64 `toml:"weight"`
		FusedWeight float64 `toml:"fused_weight"`
	} `toml:"rerank"`
	Timeouts struct {
		EmbedSeconds    int `toml:"embed_seconds"`
		SearchSeconds   int `toml:"search_seconds"`
		RerankSeconds   int `toml:"rerank_seconds"`
		GenerateSeconds int `toml:"generate_seconds"`
		VerifySeconds   int `toml:"verify_seconds"`
		RequestSeconds  int `toml:"request_seconds"`
	} `toml:"timeouts"`
	Retry struct {
		MaxAttempts int     `toml:"max_attempts"`
		BaseDelayMs int     `toml:"base_delay_ms"`
		MaxDelayMs  int     `toml:"max_delay_ms"`
		Multiplier  float64 `toml:"multiplier"`
	} `toml:"retry"`
	Breaker struct {
		FailureThreshold       int `toml:"failure_threshold"`
		RecoveryTimeoutSeconds int `toml:"recovery_timeout_seconds"`
		HalfOpenMaxCalls       int `toml:"half_open_max_calls"`
	} `toml:"breaker"`
	Cache struct {
		TTLSeconds int `toml:"ttl_seconds"`
		Capacity   int `toml:"capacity"`
	} `toml:"cache"`
	Confidence struct {
		SendThreshold        float64 `toml:"send_threshold"`
		DisclaimerThreshold  float64 `toml:"disclaimer_threshold"`
		RegenerateThreshold  float64 `toml:"regenerate_threshold"`
		FaithfulnessFloor    float64 `toml:"faithfulness_floor"`
		FaithfulnessPenalty  float64 `toml:"faithfulness_penalty"`
		HallucinationCeiling float64 `toml:"hallucination_ceiling"`
		HallucinationPenalty float64 `toml:"hallucination_penalty"`
	} `toml:"confidence"`
	Guardrail struct {
		MaxQuestionChars int `toml:"max_question_chars"`
		MaxHistoryTurns  int `toml:"max_history_turns"`
	} `toml:"guardrail"`
}

// LoadConfig loads configuration from file (if present), environment variables, and defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()
	cfg.ConfigPath = path

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			var fc fileConfig
			if err := toml.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			applyFile(cfg, &fc)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddress: DefaultListenAddress,
		DBPath:        DefaultDBPath,
		LogLevel:      "info",

		RerankingEnabled:    true,
		VerificationEnabled: true,
		CachingEnabled:      true,
		MetricsEnabled:      true,

		LLMBaseURL:     DefaultLLMBaseURL,
		EmbeddingModel: DefaultEmbeddingModel,

		QdrantURL:        DefaultQdrantURL,
		QdrantCollection: DefaultQdrantCollection,

		RetrievalK:           DefaultK,
		SimilarityThreshold:  DefaultSimilarityThreshold,
		SmallCorpusThreshold: DefaultSmallCorpusThreshold,
		LargeCorpusThreshold: DefaultLargeCorpusThreshold,
		ComparativeMaxK:      DefaultComparativeMaxK,
		RRFConst:             DefaultRRFConst,

		RerankWeight: 0.7,
		FusedWeight:  0.3,

		EmbedTimeoutSeconds:    10,
		SearchTimeoutSeconds:   15,
		RerankTimeoutSeconds:   30,
		GenerateTimeoutSeconds: 120,
		VerifyTimeoutSeconds:   30,
		RequestTimeoutSeconds:  240,

		RetryMaxAttempts: 3,
		RetryBaseDelayMs: 500,
		RetryMaxDelayMs:  30000,
		RetryMultiplier:  2.0,

		BreakerFailureThreshold:      5,
		BreakerRecoveryTimeoutSecond: 30,
		BreakerHalfOpenMaxCalls:      3,

		CacheTTLSeconds: 300,
		CacheCapacity:   1000,

		SendThreshold:        0.8,
		DisclaimerThreshold:  0.5,
		RegenerateThreshold:  0.3,
		FaithfulnessFloor:    0.5,
		FaithfulnessPenalty:  0.5,
		HallucinationCeiling: 0.7,
		HallucinationPenalty: 0.3,

		MaxQuestionChars: DefaultMaxQuestionChars,
		MaxHistoryTurns:  DefaultMaxHistoryTurns,
	}
}

func applyFile(cfg *Config, fc *fileConfig) {
	if fc.Server.Listen != "" {
		cfg.ListenAddress = fc.Server.Listen
	}
	if fc.Database.Path != "" {
		cfg.DBPath = fc.Database.Path
	}
	if fc.Logging.Level != "" {
		cfg.LogLevel = fc.Logging.Level
	}
	if fc.Logging.File != "" {
		cfg.LogFile = fc.Logging.File
	}
	if fc.Features.Reranking != nil {
		cfg.RerankingEnabled = *fc.Features.Reranking
	}
	if fc.Features.Verification != nil {
		cfg.VerificationEnabled = *fc.Features.Verification
	}
	if fc.Features.Caching != nil {
		cfg.CachingEnabled = *fc.Features.Caching
	}
	if fc.Features.Metrics != nil {
		cfg.MetricsEnabled = *fc.Features.Metrics
	}
	if fc.LLM.BaseURL != "" {
		cfg.LLMBaseURL = fc.LLM.BaseURL
	}
	if fc.LLM.APIKey != "" {
		cfg.LLMAPIKey = fc.LLM.APIKey
	}
	if fc.LLM.Model != "" {
		cfg.LLMModel = fc.LLM.Model
	}
	if fc.LLM.EmbeddingModel != "" {
		cfg.EmbeddingModel = fc.LLM.EmbeddingModel
	}
	if fc.LLM.RerankModel != "" {
		cfg.RerankModel = fc.LLM.RerankModel
	}
	if fc.Qdrant.URL != "" {
		cfg.QdrantURL = fc.Qdrant.URL
	}
	if fc.Qdrant.APIKey != "" {
		cfg.QdrantAPIKey = fc.Qdrant.APIKey
	}
	if fc.Qdrant.Collection != "" {
		cfg.QdrantCollection = fc.Qdrant.Collection
	}
	if fc.Retrieval.K > 0 {
		cfg.RetrievalK = fc.Retrieval.K
	}
	if fc.Retrieval.SimilarityThreshold > 0 {
		cfg.SimilarityThreshold = fc.Retrieval.SimilarityThreshold
	}
	if fc.Retrieval.SmallCorpusThreshold > 0 {
		cfg.SmallCorpusThreshold = fc.Retrieval.SmallCorpusThreshold
	}
	if fc.Retrieval.LargeCorpusThreshold > 0 {
		cfg.LargeCorpusThreshold = fc.Retrieval.LargeCorpusThreshold
	}
	if fc.Retrieval.ComparativeMaxK > 0 {
		cfg.ComparativeMaxK = fc.Retrieval.ComparativeMaxK
	}
	if fc.Retrieval.RRFConst > 0 {
		cfg.RRFConst = fc.Retrieval.RRFConst
	}
	if fc.Rerank.Weight > 0 {
		cfg.RerankWeight = fc.Rerank.Weight
	}
	if fc.Rerank.FusedWeight > 0 {
		cfg.FusedWeight = fc.Rerank.FusedWeight
	}
	if fc.Timeouts.EmbedSeconds > 0 {
		cfg.EmbedTimeoutSeconds = fc.Timeouts.EmbedSeconds
	}
	if fc.Timeouts.SearchSeconds > 0 {
		cfg.SearchTimeoutSeconds = fc.Timeouts.SearchSeconds
	}
	if fc.Timeouts.RerankSeconds > 0 {
		cfg.RerankTimeoutSeconds = fc.Timeouts.RerankSeconds
	}
	if fc.Timeouts.GenerateSeconds > 0 {
		cfg.GenerateTimeoutSeconds = fc.Timeouts.GenerateSeconds
	}
	if fc.Timeouts.VerifySeconds > 0 {
		cfg.VerifyTimeoutSeconds = fc.Timeouts.VerifySeconds
	}
	if fc.Timeouts.RequestSeconds > 0 {
		cfg.RequestTimeoutSeconds = fc.Timeouts.RequestSeconds
	}
	if fc.Retry.MaxAttempts > 0 {
		cfg.RetryMaxAttempts = fc.Retry.MaxAttempts
	}
	if fc.Retry.BaseDelayMs > 0 {
		cfg.RetryBaseDelayMs = fc.Retry.BaseDelayMs
	}
	if fc.Retry.MaxDelayMs > 0 {
		cfg.RetryMaxDelayMs = fc.Retry.MaxDelayMs
	}
	if fc.Retry.Multiplier > 0 {
		cfg.RetryMultiplier = fc.Retry.Multiplier
	}
	if fc.Breaker.FailureThreshold > 0 {
		cfg.BreakerFailureThreshold = fc.Breaker.FailureThreshold
	}
	if fc.Breaker.RecoveryTimeoutSeconds > 0 {
		cfg.BreakerRecoveryTimeoutSecond = fc.Breaker.RecoveryTimeoutSeconds
	}
	if fc.Breaker.HalfOpenMaxCalls > 0 {
		cfg.BreakerHalfOpenMaxCalls = fc.Breaker.HalfOpenMaxCalls
	}
	if fc.Cache.TTLSeconds > 0 {
		cfg.CacheTTLSeconds = fc.Cache.TTLSeconds
	}
	if fc.Cache.Capacity > 0 {
		cfg.CacheCapacity = fc.Cache.Capacity
	}
	if fc.Confidence.SendThreshold > 0 {
		cfg.SendThreshold = fc.Confidence.SendThreshold
	}
	if fc.Confidence.DisclaimerThreshold > 0 {
		cfg.DisclaimerThreshold = fc.Confidence.DisclaimerThreshold
	}
	if fc.Confidence.RegenerateThreshold > 0 {
		cfg.RegenerateThreshold = fc.Confidence.RegenerateThreshold
	}
	if fc.Confidence.FaithfulnessFloor > 0 {
		cfg.FaithfulnessFloor = fc.Confidence.FaithfulnessFloor
	}
	if fc.Confidence.FaithfulnessPenalty > 0 {
		cfg.FaithfulnessPenalty = fc.Confidence.FaithfulnessPenalty
	}
	if fc.Confidence.HallucinationCeiling > 0 {
		cfg.HallucinationCeiling = fc.Confidence.HallucinationCeiling
	}
	if fc.Confidence.HallucinationPenalty > 0 {
		cfg.HallucinationPenalty = fc.Confidence.HallucinationPenalty
	}
	if fc.Guardrail.MaxQuestionChars > 0 {
		cfg.MaxQuestionChars = fc.Guardrail.MaxQuestionChars
	}
	if fc.Guardrail.MaxHistoryTurns > 0 {
		cfg.MaxHistoryTurns = fc.Guardrail.MaxHistoryTurns
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func applyEnv(cfg *Config) {
	envString("RAGLINE_LISTEN", &cfg.ListenAddress)
	envString("RAGLINE_DB_PATH", &cfg.DBPath)
	envString("RAGLINE_LOG_LEVEL", &cfg.LogLevel)
	envString("RAGLINE_LOG_FILE", &cfg.LogFile)

	envString("RAGLINE_LLM_BASE_URL", &cfg.LLMBaseURL)
	envString("RAGLINE_LLM_API_KEY", &cfg.LLMAPIKey)
	envString("RAGLINE_LLM_MODEL", &cfg.LLMModel)
	envString("RAGLINE_EMBEDDING_MODEL", &cfg.EmbeddingModel)
	envString("RAGLINE_RERANK_MODEL", &cfg.RerankModel)
	envString("RAGLINE_QDRANT_URL", &cfg.QdrantURL)
	envString("RAGLINE_QDRANT_API_KEY", &cfg.QdrantAPIKey)
	envString("RAGLINE_QDRANT_COLLECTION", &cfg.QdrantCollection)

	envBool("RAGLINE_RERANKING_ENABLED", &cfg.RerankingEnabled)
	envBool("RAGLINE_VERIFICATION_ENABLED", &cfg.VerificationEnabled)
	envBool("RAGLINE_CACHING_ENABLED", &cfg.CachingEnabled)
	envBool("RAGLINE_METRICS_ENABLED", &cfg.MetricsEnabled)

	envInt("RAGLINE_RETRIEVAL_K", &cfg.RetrievalK)
	envFloat("RAGLINE_SIMILARITY_THRESHOLD", &cfg.SimilarityThreshold)

	envInt("RAGLINE_EMBED_TIMEOUT_SECONDS", &cfg.EmbedTimeoutSeconds)
	envInt("RAGLINE_SEARCH_TIMEOUT_SECONDS", &cfg.SearchTimeoutSeconds)
	envInt("RAGLINE_RERANK_TIMEOUT_SECONDS", &cfg.RerankTimeoutSeconds)
	envInt("RAGLINE_GENERATE_TIMEOUT_SECONDS", &cfg.GenerateTimeoutSeconds)
	envInt("RAGLINE_VERIFY_TIMEOUT_SECONDS", &cfg.VerifyTimeoutSeconds)
	envInt("RAGLINE_REQUEST_TIMEOUT_SECONDS", &cfg.RequestTimeoutSeconds)

	envInt("RAGLINE_RETRY_MAX_ATTEMPTS", &cfg.RetryMaxAttempts)
	envInt("RAGLINE_RETRY_BASE_DELAY_MS", &cfg.RetryBaseDelayMs)
	envInt("RAGLINE_RETRY_MAX_DELAY_MS", &cfg.RetryMaxDelayMs)
	envFloat("RAGLINE_RETRY_MULTIPLIER", &cfg.RetryMultiplier)

	envInt("RAGLINE_BREAKER_FAILURE_THRESHOLD", &cfg.BreakerFailureThreshold)
	envInt("RAGLINE_BREAKER_RECOVERY_TIMEOUT_SECONDS", &cfg.BreakerRecoveryTimeoutSecond)
	envInt("RAGLINE_BREAKER_HALF_OPEN_MAX_CALLS", &cfg.BreakerHalfOpenMaxCalls)

	envInt("RAGLINE_CACHE_TTL_SECONDS", &cfg.CacheTTLSeconds)
	envInt("RAGLINE_CACHE_CAPACITY", &cfg.CacheCapacity)

	envFloat("RAGLINE_SEND_THRESHOLD", &cfg.SendThreshold)
	envFloat("RAGLINE_DISCLAIMER_THRESHOLD", &cfg.DisclaimerThreshold)
	envFloat("RAGLINE_REGENERATE_THRESHOLD", &cfg.RegenerateThreshold)
	envFloat("RAGLINE_FAITHFULNESS_FLOOR", &cfg.FaithfulnessFloor)
	envFloat("RAGLINE_FAITHFULNESS_PENALTY", &cfg.FaithfulnessPenalty)
	envFloat("RAGLINE_HALLUCINATION_CEILING", &cfg.HallucinationCeiling)
	envFloat("RAGLINE_HALLUCINATION_PENALTY", &cfg.HallucinationPenalty)

	envInt("RAGLINE_MAX_QUESTION_CHARS", &cfg.MaxQuestionChars)
	envInt("RAGLINE_MAX_HISTORY_TURNS", &cfg.MaxHistoryTurns)
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.LLMBaseURL == "" {
		return fmt.Errorf("llm base_url is required")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.RetryMultiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1")
	}
	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("breaker failure_threshold must be at least 1")
	}
	if c.BreakerHalfOpenMaxCalls < 1 {
		return fmt.Errorf("breaker half_open_max_calls must be at least 1")
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("cache capacity must be at least 1")
	}
	if c.RerankWeight+c.FusedWeight <= 0 {
		return fmt.Errorf("rerank weights must sum to a positive value")
	}
	if !(c.SendThreshold > c.DisclaimerThreshold && c.DisclaimerThreshold > c.RegenerateThreshold) {
		return fmt.Errorf("confidence thresholds must be strictly ordered: send > disclaimer > regenerate")
	}
	return nil
}
