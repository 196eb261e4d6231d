package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv 把相关变量置空，避免宿主环境干扰。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "AUTH_TRUSTED_TOKENS", "JWT_SECRET",
		"ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "ARK_MODEL", "Model", "ARK_MODELS",
		"ARK_TEMPERATURE", "ARK_TOP_P", "ARK_MAX_TOKENS",
		"GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_MODELS", "GEMINI_MAX_OUTPUT_TOKENS", "GEMINI_TRANSCRIBE_MODEL",
		"SPEECH_APP_ID", "SPEECH_ACCESS_TOKEN", "SPEECH_API_KEY", "SPEECH_ACCESS_KEY", "SPEECH_SECRET_KEY",
		"SPEECH_TIMEOUT", "SPEECH_SEGMENT_BYTES", "SPEECH_MOCK",
		"RATE_LIMIT_ARK_MINUTE", "RATE_LIMIT_ARK_HOUR", "RATE_LIMIT_GEMINI_MINUTE", "RATE_LIMIT_GEMINI_HOUR",
		"CACHE_TTL_SECONDS", "REDIS_ADDR", "REDIS_DB", "CACHE_KEY_PREFIX",
		"SESSION_HISTORY_CAPACITY", "SESSION_AUDIO_BUFFER_LIMIT", "AI_RETRY_ATTEMPTS",
		"DOCUMENT_TIMEOUT", "AI_RETRY_BASE_DELAY", "AI_RETRY_MAX_DELAY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, defaultTrustedTokens, cfg.Auth.TrustedTokens)
	assert.False(t, cfg.AI.Enabled())
	assert.False(t, cfg.Gemini.Enabled())
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.Model)
	assert.Equal(t, 10, cfg.Session.HistoryCapacity)
	assert.Equal(t, 60*time.Second, cfg.Session.DocumentTimeout)
	assert.Equal(t, 3, cfg.Session.RetryAttempts)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, ProviderLimit{PerMinute: 30, PerHour: 500}, cfg.Limits.Providers["ark"])
	assert.Equal(t, 96000, cfg.Speech.SegmentBytes)
	assert.False(t, cfg.Speech.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("AUTH_TRUSTED_TOKENS", "a, b")
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("ARK_MODEL", "doubao-pro")
	t.Setenv("RATE_LIMIT_ARK_MINUTE", "5")
	t.Setenv("DOCUMENT_TIMEOUT", "15s")
	t.Setenv("CACHE_TTL_SECONDS", "120")
	t.Setenv("SPEECH_MOCK", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"a", "b"}, cfg.Auth.TrustedTokens)
	assert.True(t, cfg.AI.Enabled())
	assert.Equal(t, []string{"doubao-pro"}, cfg.AI.Models)
	assert.Equal(t, 5, cfg.Limits.Providers["ark"].PerMinute)
	assert.Equal(t, 500, cfg.Limits.Providers["ark"].PerHour)
	assert.Equal(t, 15*time.Second, cfg.Session.DocumentTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Speech.Mock)

	general, ok := cfg.Mode(" General ")
	require.True(t, ok)
	assert.Equal(t, ModeDefault{Provider: "ark", Model: "doubao-pro"}, general)
}

func TestModesFallBackToGemini(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := Load()
	require.NoError(t, err)

	for _, name := range []string{"general", "coding", "document"} {
		mode, ok := cfg.Mode(name)
		require.True(t, ok, name)
		assert.Equal(t, "gemini", mode.Provider, name)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                     "80 80",
		"RATE_LIMIT_GEMINI_HOUR":   "0",
		"SESSION_HISTORY_CAPACITY": "zero",
		"AI_RETRY_MAX_DELAY":       "-1s",
		"SPEECH_MOCK":              "maybe",
		"CACHE_TTL_SECONDS":        "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
