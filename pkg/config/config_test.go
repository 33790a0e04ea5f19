package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foamagent.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxIterations, cfg.Orchestrator.MaxIterations)
	assert.Equal(t, DefaultMaxConsistencyRetries, cfg.Writer.MaxConsistencyRetries)
	assert.Equal(t, []string{"bash", "./Allrun"}, cfg.Runner.Command)
	assert.Equal(t, EmbeddingHash, cfg.Embedding.Provider)
	assert.Equal(t, time.Hour, cfg.RunnerTimeout())
	assert.Equal(t, cfg.Models.Architect, cfg.Models.Writer)
}

func TestLoadSubstitutesEnvironment(t *testing.T) {
	t.Setenv("TEST_FOAM_CORPUS", "/data/tutorials")
	path := writeConfig(t, `{"index": {"corpus_dir": "${TEST_FOAM_CORPUS}"}, "runner": {"timeout_sec": 90}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/tutorials", cfg.Index.CorpusDir)
	assert.Equal(t, 90, cfg.Runner.TimeoutSec)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("FOAMAGENT_ORCHESTRATOR_MAX_ITERATIONS", "2")
	t.Setenv("FOAMAGENT_REVIEWER_USE_LLM_ADVICE", "true")
	t.Setenv("FOAMAGENT_RUNNER_COMMAND", "sh ./Allrun")
	t.Setenv("FOAMAGENT_LLM_REQUESTS_PER_SECOND", "0.5")
	path := writeConfig(t, `{"orchestrator": {"max_iterations": 7}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Orchestrator.MaxIterations)
	assert.True(t, cfg.Reviewer.UseLLMAdvice)
	assert.Equal(t, []string{"sh", "./Allrun"}, cfg.Runner.Command)
	assert.InDelta(t, 0.5, cfg.LLM.RequestsPerSecond, 1e-9)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"models":`},
		{"negative k", `{"retrieval": {"file_k": -1}}`},
		{"unknown embedder", `{"embedding": {"provider": "word2vec"}}`},
		{"unknown model", `{"models": {"architect": "mystery-model"}}`},
		{"negative iterations", `{"orchestrator": {"max_iterations": -3}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestGetModelProvider(t *testing.T) {
	tests := map[string]string{
		"claude-sonnet-4-5": ProviderAnthropic,
		"gpt-4.1":           ProviderOpenAI,
		"o4-mini":           ProviderOpenAI,
		"gemini-2.0-pro":    ProviderGoogle,
		"llama3.1:8b":       ProviderOllama,
	}
	for model, want := range tests {
		got, err := GetModelProvider(model)
		require.NoError(t, err, model)
		assert.Equal(t, want, got, model)
	}

	_, err := GetModelProvider("unknown")
	assert.Error(t, err)
}

func TestCalculateCost(t *testing.T) {
	assert.InDelta(t, 3.0+15.0, CalculateCost("claude-sonnet-4-5", 1_000_000, 1_000_000), 1e-9)
	assert.Zero(t, CalculateCost("llama3.1:8b", 1000, 1000))
}
