package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err, "a missing config file must fall back to defaults")

	assert.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	assert.Equal(t, DefaultK, cfg.RetrievalK)
	assert.Equal(t, DefaultSimilarityThreshold, cfg.SimilarityThreshold)
	assert.True(t, cfg.RerankingEnabled)
	assert.True(t, cfg.CachingEnabled)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragline.toml")
	content := `
[server]
listen = "0.0.0.0:9999"

[features]
reranking = false

[retrieval]
k = 25

[confidence]
send_threshold = 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9999", cfg.ListenAddress)
	assert.False(t, cfg.RerankingEnabled)
	assert.Equal(t, 25, cfg.RetrievalK)
	assert.Equal(t, 0.9, cfg.SendThreshold)
	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultSimilarityThreshold, cfg.SimilarityThreshold)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragline.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nlisten = \"0.0.0.0:9999\"\n"), 0644))

	t.Setenv("RAGLINE_LISTEN", "127.0.0.1:7777")
	t.Setenv("RAGLINE_CACHING_ENABLED", "false")
	t.Setenv("RAGLINE_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("RAGLINE_SEND_THRESHOLD", "0.85")
	t.Setenv("RAGLINE_GENERATE_TIMEOUT_SECONDS", "60")
	t.Setenv("RAGLINE_RERANK_MODEL", "bge-reranker")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", cfg.ListenAddress)
	assert.False(t, cfg.CachingEnabled)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, 0.85, cfg.SendThreshold)
	assert.Equal(t, 60, cfg.GenerateTimeoutSeconds)
	assert.Equal(t, "bge-reranker", cfg.RerankModel)
}

func TestLoadConfigIgnoresMalformedEnvNumbers(t *testing.T) {
	t.Setenv("RAGLINE_RETRY_MAX_ATTEMPTS", "lots")
	t.Setenv("RAGLINE_SEND_THRESHOLD", "high")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 0.8, cfg.SendThreshold)
}

func TestLoadConfigRejectsBadThresholdOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragline.toml")
	content := `
[confidence]
send_threshold = 0.4
disclaimer_threshold = 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence thresholds")
}

func TestLoadConfigRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragline.toml")
	require.NoError(t, os.WriteFile(path, []byte("not toml = = ="), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}
