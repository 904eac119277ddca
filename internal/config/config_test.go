package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LLM_API_KEY", "llm-key")
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("REPLICATE_API_TOKEN", "replicate-token")
	t.Setenv("REPLICATE_TRELLIS_VERSION", "firtoz/trellis:abc123")
	t.Setenv("R2_ENDPOINT", "account.r2.cloudflarestorage.com")
	t.Setenv("R2_ACCESS_KEY_ID", "ak")
	t.Setenv("R2_SECRET_ACCESS_KEY", "sk")
	t.Setenv("R2_PUBLIC_BASE_URL", "https://pub-test.r2.dev")
}

func TestNewFromEnv_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 3, cfg.Jobs.ItemConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.Retention)
	assert.Equal(t, time.Hour, cfg.Jobs.SweepInterval)
	assert.Equal(t, "gpt-5.2", cfg.LLM.Model)
	assert.Equal(t, "gemini-2.5-flash-image", cfg.Gemini.ImageModel)
	assert.Equal(t, "deja-view", cfg.R2.Bucket)
	assert.Empty(t, cfg.Watcher.Boards)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JOB_MAX_CONCURRENT", "8")
	t.Setenv("JOB_RETENTION_HOURS", "2")
	t.Setenv("WATCH_BOARDS", "https://pinterest.com/a/b/, https://pinterest.com/c/d/ ,")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 2*time.Hour, cfg.Jobs.Retention)
	assert.Equal(t, []string{
		"https://pinterest.com/a/b/",
		"https://pinterest.com/c/d/",
	}, cfg.Watcher.Boards)
}

func TestNewFromEnv_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GEMINI_API_KEY", "")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestNewFromEnv_RejectsNonPositiveConcurrency(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JOB_MAX_CONCURRENT", "0")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JOB_MAX_CONCURRENT")
}
