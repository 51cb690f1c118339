package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLResolvesEnvAndDefaults(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-resolved")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
default_model: gpt4
models:
  gpt4:
    provider: openai
    model: gpt-4o-mini
    api_key: "${TEST_OPENAI_KEY}"
    api_base: "https://api.openai.com/v1"
  placeholder:
    provider: openai
    model: gpt-4o
    api_key: "YOUR_API_KEY_HERE"
agent:
  max_working_memory: 5
web:
  host: "0.0.0.0"
  port: 8080
grpc:
  host: "127.0.0.1"
  port: 50051
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt4", cfg.DefaultModel)
	assert.Equal(t, "sk-resolved", cfg.Models["gpt4"].APIKey)
	assert.Equal(t, 0.7, cfg.Models["gpt4"].Temperature)
	assert.Equal(t, 2000, cfg.Models["gpt4"].MaxTokens)
	assert.Equal(t, 5, cfg.Agent.MaxWorkingMemory)
	assert.False(t, cfg.Models["gpt4"].Hidden())
	assert.True(t, cfg.Models["placeholder"].Hidden())

	visible := cfg.VisibleModels()
	assert.Len(t, visible, 1)
	_, ok := visible["placeholder"]
	assert.False(t, ok)
}

func TestLoadUnresolvedPlaceholderIsPreserved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  m:
    provider: openai
    model: gpt-4o
    api_key: "${NEVER_SET_ENV_VAR}"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "${NEVER_SET_ENV_VAR}", cfg.Models["m"].APIKey)
	assert.True(t, cfg.Models["m"].Hidden())
}

func TestLoadUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}
