package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmclient "extract-core/llm-client"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0
	cfg.Mode = "xml"
	cfg.Repair.MaxAttempts = 7
	cfg.Provider.Name = "acme"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"workers", "mode", "repair.max_attempts", "provider.name"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateStructuredNeedsSchema(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeStructured
	assert.ErrorContains(t, cfg.Validate(), "schema_file")
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
input_dir: docs
workers: 8
samples: 5
provider:
  name: anthropic
  response_timeout: 45s
fallback:
  name: mistral
  transport: http
retry:
  delay: 250ms
consensus:
  anomaly_threshold: 0.4
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "docs", cfg.InputDir)
	assert.Equal(t, "output", cfg.OutputDir, "unset keys keep their defaults")
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, llmclient.ProviderAnthropic, cfg.Provider.Name)
	assert.Equal(t, 45*time.Second, cfg.Provider.Timeouts().Response)
	assert.Equal(t, 10*time.Second, cfg.Provider.Timeouts().Connect)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Policy().Delay)
	assert.InDelta(t, 0.4, cfg.Consensus.AnomalyThreshold, 1e-9)
	assert.InDelta(t, 0.4, cfg.Consensus.Weights.Format, 1e-9)
	require.NotNil(t, cfg.Fallback)
	assert.Equal(t, llmclient.TransportHTTP, cfg.Fallback.Transport)
}

func TestLoadConfigReadsPromptFile(t *testing.T) {
	dir := t.TempDir()
	prompt := filepath.Join(dir, "prompt.txt")
	require.NoError(t, os.WriteFile(prompt, []byte("  Custom prompt.\n"), 0o644))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prompt:\n  file: "+prompt+"\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Custom prompt.", cfg.Prompt.System)
}

func TestProviderAPIKeyFromEnv(t *testing.T) {
	t.Setenv("CUSTOM_KEY", "secret")
	t.Setenv("ANTHROPIC_API_KEY", "default-secret")

	assert.Equal(t, "secret", ProviderConfig{Name: llmclient.ProviderOpenAI, APIKeyEnv: "CUSTOM_KEY"}.APIKey())
	assert.Equal(t, "default-secret", ProviderConfig{Name: llmclient.ProviderAnthropic}.APIKey())
}

func TestSamplesPerInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Samples = 4
	assert.Equal(t, 4, cfg.SamplesPerInput())
	cfg.Mode = ModeStructured
	assert.Equal(t, 1, cfg.SamplesPerInput())
}
