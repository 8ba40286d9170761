package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 12000, cfg.LLM.ContextBudget())
	assert.Len(t, cfg.Personas, 4)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"min limit", func(c *Config) { c.Delivery.MinLimit = 0 }, "delivery.min_limit"},
		{"soft cap below min", func(c *Config) { c.Delivery.SoftCap = 2 }, "delivery.soft_cap"},
		{"max delay below base", func(c *Config) { c.Delivery.MaxDelay = time.Millisecond }, "delivery.max_delay"},
		{"reserved exceeds budget", func(c *Config) { c.LLM.ReservedTokens = c.LLM.TokenBudget }, "llm.reserved_tokens"},
		{"similarity range", func(c *Config) { c.Retrieval.MinSimilarity = 1.5 }, "retrieval.min_similarity"},
		{"empty deny list", func(c *Config) { c.Sanitize.Deny = nil }, "sanitize.deny"},
		{"web endpoint", func(c *Config) { c.WebSearch.Enabled = true }, "websearch.endpoint"},
		{"duplicate persona", func(c *Config) { c.Personas = append(c.Personas, c.Personas[0]) }, "duplicate persona"},
		{"no personas", func(c *Config) { c.Personas = nil }, "at least one persona"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fusionrag.yaml")
	yml := `
database:
  path: /tmp/from-file.db
delivery:
  soft_cap: 12
  min_limit: 3
  base_delay: 250ms
  max_delay: 2s
llm:
  model: file-model
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path, envMap(map[string]string{
		"FUSIONRAG_LLM_MODEL": "env-model",
		"OPENAI_API_KEY":      "sk-test",
		"FUSIONRAG_LLM_RPS":   "5.5",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/from-file.db", cfg.Database.Path)
	assert.Equal(t, 12, cfg.Delivery.SoftCap)
	assert.Equal(t, 3, cfg.Delivery.MinLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Delivery.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Delivery.MaxDelay)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.InDelta(t, 5.5, cfg.LLM.RequestsPerSecond, 1e-9)
	// untouched defaults survive the overlay
	assert.Equal(t, 20, cfg.Retrieval.TopK)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  top_k: 7\n"), 0o600))

	cfg, err := Load("", envMap(map[string]string{EnvConfigPath: path}))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
}

func TestLoad_BadEnvValue(t *testing.T) {
	_, err := Load("", envMap(map[string]string{"FUSIONRAG_WEBSEARCH_ENABLED": "perhaps"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBSEARCH_ENABLED")
}

func TestLoad_InvalidResult(t *testing.T) {
	_, err := Load("", envMap(map[string]string{"FUSIONRAG_TOKEN_BUDGET": "-1"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/fusionrag.yaml", envMap(nil))
	assert.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".fusionrag", "x.db"), expandHome("~/.fusionrag/x.db"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
}
