package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 2000, cfg.TurnBudgetMs)
	assert.Equal(t, 1500, cfg.LLMTimeoutMs)
	assert.Equal(t, 2.0, cfg.AmbiguityBandLow)
	assert.Equal(t, 3.0, cfg.AmbiguityBandHigh)
	assert.Equal(t, 0.25, cfg.ScamThreshold)
	assert.Equal(t, 0.4, cfg.RuleWeight)
	assert.Equal(t, 0.6, cfg.LLMWeight)
	assert.Equal(t, 60, cfg.CompletenessTarget)
	assert.Equal(t, 18, cfg.MaxTurns)
	assert.Equal(t, 2, cfg.ClosingTurns)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5000, cfg.MaxMessageLength)
	assert.False(t, cfg.SemanticEnabled)

	require.NoError(t, cfg.Validate())
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("TRAPLINE_ADDR", ":9999")
	t.Setenv("TRAPLINE_MAX_TURNS", "24")
	t.Setenv("TRAPLINE_SCAM_THRESHOLD", "0.4")
	t.Setenv("TRAPLINE_SEMANTIC_ENABLED", "true")
	t.Setenv("TRAPLINE_SESSION_TTL_SECONDS", "120")

	cfg := NewDefaultConfig()

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, 24, cfg.MaxTurns)
	assert.Equal(t, 0.4, cfg.ScamThreshold)
	assert.True(t, cfg.SemanticEnabled)
	assert.Equal(t, 2*time.Minute, cfg.SessionTTL)
}

func TestDetectLLMProvider(t *testing.T) {
	t.Run("explicit wins", func(t *testing.T) {
		t.Setenv("TRAPLINE_LLM_PROVIDER", "groq")
		t.Setenv("OPENAI_API_KEY", "sk-something")
		cfg := NewDefaultConfig()
		assert.Equal(t, ProviderGroq, cfg.LLMProvider)
	})

	t.Run("openai key implies openai", func(t *testing.T) {
		t.Setenv("TRAPLINE_LLM_PROVIDER", "")
		t.Setenv("OPENAI_API_KEY", "sk-something")
		cfg := NewDefaultConfig()
		assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	})

	t.Run("no keys means none", func(t *testing.T) {
		t.Setenv("TRAPLINE_LLM_PROVIDER", "")
		t.Setenv("TRAPLINE_LLM_API_KEY", "")
		t.Setenv("OPENAI_API_KEY", "")
		t.Setenv("GROQ_API_KEY", "")
		t.Setenv("OPENROUTER_API_KEY", "")
		cfg := NewDefaultConfig()
		assert.Equal(t, ProviderNone, cfg.LLMProvider)
		assert.False(t, cfg.LLMConfigured())
	})
}

func TestLLMConfigured(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.LLMProvider = ProviderOpenAI
	cfg.LLMAPIKey = ""
	assert.False(t, cfg.LLMConfigured(), "cloud provider without key")

	cfg.LLMAPIKey = "sk-test"
	assert.True(t, cfg.LLMConfigured())

	cfg.LLMProvider = ProviderOllama
	cfg.LLMAPIKey = ""
	assert.True(t, cfg.LLMConfigured(), "local provider needs no key")
}

func TestValidateRejectsBadTunables(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted band", func(c *Config) { c.AmbiguityBandLow = 5.0; c.AmbiguityBandHigh = 2.0 }},
		{"band outside raw range", func(c *Config) { c.AmbiguityBandHigh = 12.0 }},
		{"threshold too high", func(c *Config) { c.ScamThreshold = 1.5 }},
		{"weights do not sum", func(c *Config) { c.RuleWeight = 0.8; c.LLMWeight = 0.8 }},
		{"completeness target zero", func(c *Config) { c.CompletenessTarget = 0 }},
		{"turn budget below llm timeout", func(c *Config) { c.TurnBudgetMs = 1000; c.LLMTimeoutMs = 1500 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPresets(t *testing.T) {
	offline := NewOfflineConfig()
	assert.Equal(t, ProviderNone, offline.LLMProvider)
	assert.False(t, offline.SemanticEnabled)
	assert.True(t, offline.EnableLocalModel)
	require.NoError(t, offline.Validate())

	deep := NewDeepEngagementConfig()
	assert.Equal(t, 30, deep.MaxTurns)
	assert.Equal(t, 90, deep.CompletenessTarget)
	require.NoError(t, deep.Validate())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TRAPLINE_TEST_STR", "hello")
	t.Setenv("TRAPLINE_TEST_INT", "42")
	t.Setenv("TRAPLINE_TEST_FLOAT", "0.75")
	t.Setenv("TRAPLINE_TEST_BOOL", "true")
	t.Setenv("TRAPLINE_TEST_SLICE", "a, b ,c")
	t.Setenv("TRAPLINE_TEST_BAD_INT", "not-a-number")

	assert.Equal(t, "hello", GetEnv("TRAPLINE_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", GetEnv("TRAPLINE_TEST_MISSING", "fallback"))
	assert.Equal(t, 42, GetEnvInt("TRAPLINE_TEST_INT", 0))
	assert.Equal(t, 7, GetEnvInt("TRAPLINE_TEST_BAD_INT", 7))
	assert.Equal(t, 0.75, GetEnvFloat("TRAPLINE_TEST_FLOAT", 0))
	assert.True(t, GetEnvBool("TRAPLINE_TEST_BOOL", false))
	assert.Equal(t, []string{"a", "b", "c"}, GetEnvSlice("TRAPLINE_TEST_SLICE", nil))
}
