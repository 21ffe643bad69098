package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
providers:
  bedrock:
    base_url: https://bedrock-runtime.us-east-1.amazonaws.com
    auth: sigv4
max_entries: 50
`), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 50, cfg.MaxEntries)
	assert.Equal(t, "sigv4", cfg.Providers["bedrock"].Auth)
	// Unset file fields keep their defaults.
	assert.Equal(t, DefaultHost, cfg.Server.Host)
	// A providers key replaces the default set; the default routes must not
	// survive alongside the file's.
	assert.Len(t, cfg.Providers, 1)
	assert.NotContains(t, cfg.Providers, "anthropic")
	assert.NotContains(t, cfg.Providers, "openai")
}

func TestLoadFileWithoutProvidersKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_entries: 10\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Providers, "anthropic")
	assert.Contains(t, cfg.Providers, "openai")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TOKENLENS_PORT", "7001")
	t.Setenv("TOKENLENS_LOG_LEVEL", "debug")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateRejectsSelfProxy(t *testing.T) {
	cfg := Default()
	cfg.Providers["loop"] = ProviderConfig{BaseURL: "http://localhost:8790/v1"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "points at the proxy itself")
}

func TestValidateAllowsSamePortOtherHost(t *testing.T) {
	cfg := Default()
	cfg.Providers["remote"] = ProviderConfig{BaseURL: "http://gateway.internal:8790/v1"}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownAuth(t *testing.T) {
	cfg := Default()
	cfg.Providers["p"] = ProviderConfig{BaseURL: "https://example.com", Auth: "oauth"}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadProviderName(t *testing.T) {
	cfg := Default()
	cfg.Providers["a/b"] = ProviderConfig{BaseURL: "https://example.com"}
	assert.Error(t, cfg.Validate())
}

func TestAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8790}
	assert.Equal(t, "127.0.0.1:8790", s.Addr())
}
