package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/redloop")
	t.Setenv("LLM_PROVIDERS", "ollama")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "ollama", cfg.DefaultProvider)
	assert.Equal(t, 3, cfg.Gateway.RetryAttempts)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Breaker.SuccessThreshold)
	assert.Equal(t, 90, cfg.AuditLogRetentionDays)
	assert.Equal(t, 1, cfg.VerbosityDefault)
	assert.False(t, cfg.DemoMode)

	p, err := cfg.Providers.Get("ollama")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/v1", p.APIBase)
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DEMO_MODE", "false")

	_, err := Load()
	require.ErrorIs(t, err, ErrMissingDatabaseURL)
}

func TestLoadDemoModeSkipsDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DEMO_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.DemoMode)
}

func TestLoadProviderOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/redloop")
	t.Setenv("LLM_PROVIDERS", "ollama,azure")
	t.Setenv("DEFAULT_LLM_PROVIDER", "azure")
	t.Setenv("AZURE_API_BASE", "https://example.openai.azure.com/v1")
	t.Setenv("AZURE_API_KEY", "secret")
	t.Setenv("AZURE_MODEL_TARGET", "gpt-4o")

	cfg, err := Load()
	require.NoError(t, err)

	p, err := cfg.Providers.Get("azure")
	require.NoError(t, err)
	assert.Equal(t, "https://example.openai.azure.com/v1", p.APIBase)
	assert.Equal(t, "secret", p.APIKey)
	assert.Equal(t, "gpt-4o", p.ModelTarget)
}

func TestLoadRejectsUnknownDefaultProvider(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/redloop")
	t.Setenv("LLM_PROVIDERS", "ollama")
	t.Setenv("DEFAULT_LLM_PROVIDER", "anthropic")

	_, err := Load()
	require.ErrorIs(t, err, ErrProviderNotFound)
}

func TestLoadRejectsProviderWithoutAPIBase(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/redloop")
	t.Setenv("LLM_PROVIDERS", "custom")

	_, err := Load()
	require.ErrorIs(t, err, ErrProviderInvalid)
}

func TestLoadRejectsBadVerbosity(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/redloop")
	t.Setenv("VERBOSITY_DEFAULT", "4")

	_, err := Load()
	require.Error(t, err)
}
