package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"extract-core/consensus"
	"extract-core/format"
	llmclient "extract-core/llm-client"
	"extract-core/repair"
)

// Mode selects how raw responses become rows.
type Mode string

const (
	// ModeCSV asks for CSV directly and reconciles samples by consensus.
	ModeCSV Mode = "csv"
	// ModeStructured asks for JSON and runs the schema repair loop.
	ModeStructured Mode = "structured"
)

// ProviderConfig describes one backend.
type ProviderConfig struct {
	Name            llmclient.Provider  `yaml:"name"`
	Model           string              `yaml:"model"`
	BaseURL         string              `yaml:"base_url"`
	Transport       llmclient.Transport `yaml:"transport"`
	APIKeyEnv       string              `yaml:"api_key_env"`
	ConnectTimeout  Duration            `yaml:"connect_timeout"`
	ResponseTimeout Duration            `yaml:"response_timeout"`
	MaxTokens       int                 `yaml:"max_tokens"`
}

// APIKey reads the provider key from the environment.
func (p ProviderConfig) APIKey() string {
	env := p.APIKeyEnv
	if env == "" {
		env = llmclient.DefaultAPIKeyEnv(p.Name)
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// Timeouts converts the configured durations.
func (p ProviderConfig) Timeouts() llmclient.Timeouts {
	return llmclient.Timeouts{
		Connect:  p.ConnectTimeout.ToDuration(),
		Response: p.ResponseTimeout.ToDuration(),
	}
}

// Options builds client options for this provider.
func (p ProviderConfig) Options() llmclient.Options {
	return llmclient.Options{
		Provider:  p.Name,
		Model:     p.Model,
		APIKey:    p.APIKey(),
		BaseURL:   p.BaseURL,
		Transport: p.Transport,
		Timeouts:  p.Timeouts(),
	}
}

type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Delay       Duration `yaml:"delay"`
}

func (r RetryConfig) Policy() llmclient.RetryPolicy {
	return llmclient.RetryPolicy{MaxAttempts: r.MaxAttempts, Delay: r.Delay.ToDuration()}
}

type RepairConfig struct {
	SchemaFile  string `yaml:"schema_file"`
	MaxAttempts int    `yaml:"max_attempts"`
	RowsKey     string `yaml:"rows_key"`
}

type ArchiveConfig struct {
	Dir        string `yaml:"dir"`
	CopyInputs bool   `yaml:"copy_inputs"`
}

// ConverterConfig names an external binary that turns non-text inputs into
// markdown on stdout. The input path is appended to Args.
type ConverterConfig struct {
	Binary  string   `yaml:"binary"`
	Args    []string `yaml:"args"`
	Timeout Duration `yaml:"timeout"`
}

type ServerConfig struct {
	APIAddr    string `yaml:"api_addr"`
	HealthAddr string `yaml:"health_addr"`
}

type PromptConfig struct {
	// System replaces the built-in system prompt when set.
	System string `yaml:"system"`
	// File is read into System when System is empty.
	File string `yaml:"file"`
}

// Config is the full run configuration.
type Config struct {
	InputDir   string   `yaml:"input_dir"`
	OutputDir  string   `yaml:"output_dir"`
	Extensions []string `yaml:"extensions"`
	Mode       Mode     `yaml:"mode"`
	Workers    int      `yaml:"workers"`
	Samples    int      `yaml:"samples"`

	Provider ProviderConfig  `yaml:"provider"`
	Fallback *ProviderConfig `yaml:"fallback"`
	Retry    RetryConfig     `yaml:"retry"`

	Validation format.Config     `yaml:"validation"`
	RulesFile  string            `yaml:"rules_file"`
	Consensus  consensus.Options `yaml:"consensus"`
	Repair     RepairConfig      `yaml:"repair"`
	Archive    ArchiveConfig     `yaml:"archive"`
	Converter  ConverterConfig   `yaml:"converter"`
	Server     ServerConfig      `yaml:"server"`
	Prompt     PromptConfig      `yaml:"prompt"`
}

// DefaultConfig returns a configuration with every threshold set.
func DefaultConfig() Config {
	return Config{
		InputDir:   "input",
		OutputDir:  "output",
		Extensions: []string{".md", ".txt", ".csv"},
		Mode:       ModeCSV,
		Workers:    4,
		Samples:    3,
		Provider: ProviderConfig{
			Name:            llmclient.ProviderOpenAI,
			Transport:       llmclient.TransportSDK,
			ConnectTimeout:  Duration(10 * time.Second),
			ResponseTimeout: Duration(120 * time.Second),
		},
		Retry:      RetryConfig{MaxAttempts: 3, Delay: Duration(2 * time.Second)},
		Validation: format.DefaultConfig(),
		Consensus:  consensus.DefaultOptions(),
		Repair:     RepairConfig{MaxAttempts: 2, RowsKey: repair.DefaultRowsKey},
		Archive:    ArchiveConfig{CopyInputs: true},
		Converter:  ConverterConfig{Timeout: Duration(60 * time.Second)},
	}
}

// ArchiveDir returns the archive root, defaulting to output_dir/errors.
func (c Config) ArchiveDir() string {
	if c.Archive.Dir != "" {
		return c.Archive.Dir
	}
	return filepath.Join(c.OutputDir, "errors")
}

// SamplesPerInput is 1 in structured mode.
func (c Config) SamplesPerInput() int {
	if c.Mode == ModeStructured {
		return 1
	}
	return max(c.Samples, 1)
}

// LoadConfig loads .env (when present) and then the YAML file at path over
// DefaultConfig. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, eris.Wrap(err, "load .env")
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, eris.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, eris.Wrapf(err, "parse config %s", path)
		}
	}

	if cfg.Prompt.System == "" && cfg.Prompt.File != "" {
		data, err := os.ReadFile(cfg.Prompt.File)
		if err != nil {
			return Config{}, eris.Wrapf(err, "read prompt %s", cfg.Prompt.File)
		}
		cfg.Prompt.System = strings.TrimSpace(string(data))
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	add := func(msg string, args ...any) {
		errs = append(errs, eris.Errorf(msg, args...))
	}

	if c.InputDir == "" {
		add("input_dir is required")
	}
	if c.OutputDir == "" {
		add("output_dir is required")
	}
	if c.Mode != ModeCSV && c.Mode != ModeStructured {
		add("mode must be %q or %q, got %q", ModeCSV, ModeStructured, c.Mode)
	}
	if c.Workers < 1 {
		add("workers must be at least 1, got %d", c.Workers)
	}
	if c.Samples < 1 {
		add("samples must be at least 1, got %d", c.Samples)
	}
	if c.Mode == ModeStructured && c.Repair.SchemaFile == "" {
		add("repair.schema_file is required in structured mode")
	}
	if c.Repair.MaxAttempts < 0 || c.Repair.MaxAttempts > repair.MaxRepairAttempts {
		add("repair.max_attempts must be between 0 and %d, got %d", repair.MaxRepairAttempts, c.Repair.MaxAttempts)
	}
	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Delay < 0 {
		add("retry.delay must not be negative")
	}
	errs = append(errs, validateProvider("provider", c.Provider)...)
	if c.Fallback != nil {
		errs = append(errs, validateProvider("fallback", *c.Fallback)...)
	}

	w := c.Consensus.Weights
	if w.Format < 0 || w.Completeness < 0 || w.Semantic < 0 || w.Length < 0 {
		add("consensus.weights must not be negative")
	}
	if c.Consensus.MinSamples < 1 {
		add("consensus.min_samples must be at least 1, got %d", c.Consensus.MinSamples)
	}
	if t := c.Consensus.AnomalyThreshold; t < 0 || t > 1 {
		add("consensus.anomaly_threshold must be within [0,1], got %v", t)
	}
	if v := c.Validation.MinValidConfidence; v < 0 || v > 1 {
		add("validation.min_valid_confidence must be within [0,1], got %v", v)
	}
	return errors.Join(errs...)
}

func validateProvider(name string, p ProviderConfig) []error {
	var errs []error
	if p.Name != "" && !p.Name.Known() {
		errs = append(errs, eris.Errorf("%s.name: unsupported provider %q", name, p.Name))
	}
	switch p.Transport {
	case "", llmclient.TransportSDK, llmclient.TransportHTTP:
	default:
		errs = append(errs, eris.Errorf("%s.transport: unsupported transport %q", name, p.Transport))
	}
	if p.ConnectTimeout < 0 || p.ResponseTimeout < 0 {
		errs = append(errs, eris.Errorf("%s: timeouts must not be negative", name))
	}
	return errs
}
