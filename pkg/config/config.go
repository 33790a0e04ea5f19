// Package config loads the foamagent JSON configuration with environment
// substitution, FOAMAGENT_* overrides, defaults and validation.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultConfigFile is read when no path is given on the command line.
	DefaultConfigFile = "foamagent.json"

	// EnvPrefix prefixes every environment override, e.g. FOAMAGENT_RUNNER_TIMEOUT_SEC.
	EnvPrefix = "FOAMAGENT_"

	DefaultMaxIterations         = 5
	DefaultMaxConsistencyRetries = 3
	DefaultRunnerTimeoutSec      = 3600
	DefaultEmbeddingDimension    = 256
)

// Embedding providers.
const (
	EmbeddingHash   = "hash"
	EmbeddingOpenAI = "openai"
	EmbeddingOllama = "ollama"
	EmbeddingGemini = "gemini"
)

// ModelsConfig selects the backing model for each LLM-driven component.
type ModelsConfig struct {
	Architect   string  `json:"architect"`
	Writer      string  `json:"writer"`
	Reviewer    string  `json:"reviewer"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// EmbeddingConfig selects the embedder used at index and query time.
type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	BaseURL   string `json:"base_url"`
	BatchSize int    `json:"batch_size"`
}

// IndexConfig locates the reference corpus and the persisted index.
type IndexConfig struct {
	CorpusDir string `json:"corpus_dir"`
	DBPath    string `json:"db_path"`
}

// RetrievalConfig holds the per-granularity result caps.
type RetrievalConfig struct {
	CaseK       int `json:"case_k"`
	FileK       int `json:"file_k"`
	DependencyK int `json:"dependency_k"`
	CommandK    int `json:"command_k"`
	CacheSize   int `json:"cache_size"`
}

// WriterConfig bounds local regeneration and prompt size.
type WriterConfig struct {
	MaxConsistencyRetries int `json:"max_consistency_retries"`
	ContextTokenBudget    int `json:"context_token_budget"`
}

// RunnerConfig describes how the external solver is invoked.
type RunnerConfig struct {
	Command    []string          `json:"command"`
	Env        map[string]string `json:"env"`
	TimeoutSec int               `json:"timeout_sec"`
	WorkRoot   string            `json:"work_root"`
	MeshDir    string            `json:"mesh_dir"`
	Bashrc     string            `json:"bashrc"`
}

// ReviewerConfig configures the failure signature library.
type ReviewerConfig struct {
	SignaturesFile string `json:"signatures_file"`
	UseLLMAdvice   bool   `json:"use_llm_advice"`
}

// OrchestratorConfig holds the run-level iteration budget.
type OrchestratorConfig struct {
	MaxIterations int `json:"max_iterations"`
}

// PersistenceConfig locates run record storage.
type PersistenceConfig struct {
	DBPath    string `json:"db_path"`
	RecordDir string `json:"record_dir"`
}

// LLMConfig configures the resilience middleware around every model client.
type LLMConfig struct {
	MaxAttempts       int     `json:"max_attempts"`
	InitialDelayMs    int     `json:"initial_delay_ms"`
	MaxDelayMs        int     `json:"max_delay_ms"`
	RequestTimeoutSec int     `json:"request_timeout_sec"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// Config is the complete foamagent configuration. It is passed explicitly to
// every component constructor.
type Config struct {
	Models       ModelsConfig       `json:"models"`
	Embedding    EmbeddingConfig    `json:"embedding"`
	Index        IndexConfig        `json:"index"`
	Retrieval    RetrievalConfig    `json:"retrieval"`
	Writer       WriterConfig       `json:"writer"`
	Runner       RunnerConfig       `json:"runner"`
	Reviewer     ReviewerConfig     `json:"reviewer"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Persistence  PersistenceConfig  `json:"persistence"`
	LLM          LLMConfig          `json:"llm"`
	Metrics      MetricsConfig      `json:"metrics"`
}

// RunnerTimeout returns the solver wall-clock limit.
func (c *Config) RunnerTimeout() time.Duration {
	return time.Duration(c.Runner.TimeoutSec) * time.Second
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the JSON config at path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults + env only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		expanded := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
			if value := os.Getenv(match[2 : len(match)-1]); value != "" {
				return value
			}
			return match
		})
		if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

func applyEnvOverrides(cfg *Config) {
	v := reflect.ValueOf(cfg).Elem()
	applyEnvOverridesRecursive(v, v.Type(), EnvPrefix)
}

func applyEnvOverridesRecursive(v reflect.Value, t reflect.Type, prefix string) {
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		jsonTag := t.Field(i).Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		envKey := strings.ToUpper(prefix + strings.Split(jsonTag, ",")[0])

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, field.Type(), envKey+"_")
			continue
		}
		if envValue := os.Getenv(envKey); envValue != "" {
			setFieldFromEnv(field, envValue)
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int:
		if val, err := strconv.Atoi(envValue); err == nil {
			field.SetInt(int64(val))
		}
	case reflect.Float64:
		if val, err := strconv.ParseFloat(envValue, 64); err == nil {
			field.SetFloat(val)
		}
	case reflect.Bool:
		if val, err := strconv.ParseBool(envValue); err == nil {
			field.SetBool(val)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			field.Set(reflect.ValueOf(strings.Fields(envValue)))
		}
	}
}

// ApplyDefaults fills every unset field.
func ApplyDefaults(cfg *Config) {
	if cfg.Models.Architect == "" {
		cfg.Models.Architect = "claude-sonnet-4-5"
	}
	if cfg.Models.Writer == "" {
		cfg.Models.Writer = cfg.Models.Architect
	}
	if cfg.Models.Reviewer == "" {
		cfg.Models.Reviewer = cfg.Models.Architect
	}
	if cfg.Models.Temperature == 0 {
		cfg.Models.Temperature = 0.6
	}
	if cfg.Models.MaxTokens == 0 {
		cfg.Models.MaxTokens = 8192
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = EmbeddingHash
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = DefaultEmbeddingDimension
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}

	if cfg.Index.CorpusDir == "" {
		cfg.Index.CorpusDir = "corpus"
	}
	if cfg.Index.DBPath == "" {
		cfg.Index.DBPath = ".foamagent/index.db"
	}

	if cfg.Retrieval.CaseK == 0 {
		cfg.Retrieval.CaseK = 2
	}
	if cfg.Retrieval.FileK == 0 {
		cfg.Retrieval.FileK = 2
	}
	if cfg.Retrieval.DependencyK == 0 {
		cfg.Retrieval.DependencyK = 16
	}
	if cfg.Retrieval.CommandK == 0 {
		cfg.Retrieval.CommandK = 4
	}
	if cfg.Retrieval.CacheSize == 0 {
		cfg.Retrieval.CacheSize = 256
	}

	if cfg.Writer.MaxConsistencyRetries == 0 {
		cfg.Writer.MaxConsistencyRetries = DefaultMaxConsistencyRetries
	}
	if cfg.Writer.ContextTokenBudget == 0 {
		cfg.Writer.ContextTokenBudget = 12000
	}

	if len(cfg.Runner.Command) == 0 {
		cfg.Runner.Command = []string{"bash", "./Allrun"}
	}
	if cfg.Runner.Env == nil {
		cfg.Runner.Env = map[string]string{}
	}
	if cfg.Runner.TimeoutSec == 0 {
		cfg.Runner.TimeoutSec = DefaultRunnerTimeoutSec
	}
	if cfg.Runner.WorkRoot == "" {
		cfg.Runner.WorkRoot = "runs"
	}

	if cfg.Orchestrator.MaxIterations == 0 {
		cfg.Orchestrator.MaxIterations = DefaultMaxIterations
	}

	if cfg.Persistence.DBPath == "" {
		cfg.Persistence.DBPath = ".foamagent/runs.db"
	}
	if cfg.Persistence.RecordDir == "" {
		cfg.Persistence.RecordDir = ".foamagent/records"
	}

	if cfg.LLM.MaxAttempts == 0 {
		cfg.LLM.MaxAttempts = 3
	}
	if cfg.LLM.InitialDelayMs == 0 {
		cfg.LLM.InitialDelayMs = 500
	}
	if cfg.LLM.MaxDelayMs == 0 {
		cfg.LLM.MaxDelayMs = 10000
	}
	if cfg.LLM.RequestTimeoutSec == 0 {
		cfg.LLM.RequestTimeoutSec = 300
	}
}

// Validate rejects configurations no component can run with.
func Validate(cfg *Config) error {
	switch cfg.Embedding.Provider {
	case EmbeddingHash, EmbeddingOpenAI, EmbeddingOllama, EmbeddingGemini:
	default:
		return fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Dimension < 0 {
		return fmt.Errorf("embedding dimension cannot be negative")
	}
	for name, k := range map[string]int{
		"case_k":       cfg.Retrieval.CaseK,
		"file_k":       cfg.Retrieval.FileK,
		"dependency_k": cfg.Retrieval.DependencyK,
		"command_k":    cfg.Retrieval.CommandK,
	} {
		if k < 1 {
			return fmt.Errorf("retrieval %s must be at least 1, got %d", name, k)
		}
	}
	if cfg.Writer.MaxConsistencyRetries < 1 {
		return fmt.Errorf("writer max_consistency_retries must be at least 1")
	}
	if cfg.Runner.TimeoutSec < 1 {
		return fmt.Errorf("runner timeout_sec must be positive")
	}
	if cfg.Orchestrator.MaxIterations < 1 {
		return fmt.Errorf("orchestrator max_iterations must be at least 1")
	}
	if cfg.Models.Temperature < 0 || cfg.Models.Temperature > 2 {
		return fmt.Errorf("models temperature must be between 0.0 and 2.0")
	}
	for _, model := range []string{cfg.Models.Architect, cfg.Models.Writer, cfg.Models.Reviewer} {
		if _, err := GetModelProvider(model); err != nil {
			return err
		}
	}
	return nil
}
