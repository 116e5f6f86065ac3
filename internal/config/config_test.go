package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/risk")
	t.Setenv("NVD_API_KEY", "")
	t.Setenv("QUEUE_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "analysis_tasks", cfg.QueueKey)
	assert.Equal(t, "analysis_tasks:failed", cfg.DLQKey())
	assert.Equal(t, "pipeline", cfg.CacheNamespace)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 2*time.Second, cfg.QueuePollTimeout)
	assert.Equal(t, 6*time.Second, cfg.NVDMinInterval)
	assert.Equal(t, "claude", cfg.PrimaryAI.Provider)
	assert.Equal(t, "openai", cfg.SecondaryAI.Provider)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestGetDurationAcceptsSeconds(t *testing.T) {
	t.Setenv("THREAT_TIMEOUT", "20")
	assert.Equal(t, 20*time.Second, getDuration("THREAT_TIMEOUT", time.Second))

	t.Setenv("THREAT_TIMEOUT", "1500ms")
	assert.Equal(t, 1500*time.Millisecond, getDuration("THREAT_TIMEOUT", time.Second))

	t.Setenv("THREAT_TIMEOUT", "soon")
	assert.Equal(t, time.Second, getDuration("THREAT_TIMEOUT", time.Second))
}

func TestAIKeyFallsBackToProviderKey(t *testing.T) {
	t.Setenv("PRIMARY_AI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	ai := loadAI("PRIMARY_AI", "claude")
	assert.Equal(t, "sk-ant", ai.APIKey)
	assert.True(t, ai.Enabled())
}
