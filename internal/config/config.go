package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all usagesynth configuration.
type Config struct {
	// Evaluation engine
	Engine EngineConfig `yaml:"engine"`

	// Candidate enumeration
	Synthesis SynthesisConfig `yaml:"synthesis"`

	// Evaluation and selection
	Evaluation EvaluationConfig `yaml:"evaluation"`

	// Artifacts and ledger
	Storage StorageConfig `yaml:"storage"`

	// Fact extraction tool
	Extraction ExtractionConfig `yaml:"extraction"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// Engine backends.
const (
	BackendSouffle = "souffle"
	BackendMangle  = "mangle"
)

// EngineConfig selects and configures the evaluation engine.
type EngineConfig struct {
	Backend        string   `yaml:"backend"` // souffle, mangle
	SouffleBinary  string   `yaml:"souffle_binary"`
	ExtraArgs      []string `yaml:"extra_args"`
	Timeout        string   `yaml:"timeout"`
	MaxOutputBytes int64    `yaml:"max_output_bytes"`
	AllowedEnv     []string `yaml:"allowed_env"`
}

// SynthesisConfig configures enumeration.
type SynthesisConfig struct {
	// RolesPath is a role catalog file; empty uses the built-in catalog.
	RolesPath string `yaml:"roles_path"`
	// LibraryPath is a component library; empty uses the built-in library.
	LibraryPath string `yaml:"library_path"`
	// MaxCandidates aborts enumeration beyond this many programs. 0 means
	// unlimited.
	MaxCandidates int `yaml:"max_candidates"`
}

// EvaluationConfig configures evaluation and selection.
type EvaluationConfig struct {
	PassRatio     float64 `yaml:"pass_ratio"`
	PassPredicate string  `yaml:"pass_predicate"` // labeled, incorrect_nonempty, correct_only
	Workers       int     `yaml:"workers"`
	WorkDir       string  `yaml:"work_dir"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	// CacheRoot receives the .dl artifacts. Empty derives it from the
	// corpus.
	CacheRoot string `yaml:"cache_root"`
	// LedgerPath is the SQLite run ledger; empty disables it.
	LedgerPath        string `yaml:"ledger_path"`
	PersistCandidates bool   `yaml:"persist_candidates"`
}

// ExtractionConfig configures the fact-extraction tool.
type ExtractionConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	Timeout string   `yaml:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Backend:        BackendSouffle,
			SouffleBinary:  "souffle",
			ExtraArgs:      []string{"-w"},
			Timeout:        "5m",
			MaxOutputBytes: 1024 * 1024,
			AllowedEnv:     []string{"PATH", "HOME", "TMPDIR", "LD_LIBRARY_PATH"},
		},

		Synthesis: SynthesisConfig{
			MaxCandidates: 100000,
		},

		Evaluation: EvaluationConfig{
			PassRatio:     0.2,
			PassPredicate: "labeled",
			Workers:       runtime.NumCPU(),
		},

		Storage: StorageConfig{
			PersistCandidates: true,
		},

		Extraction: ExtractionConfig{
			Timeout: "2m",
		},

		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			SlowThreshold: "1s",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies USAGESYNTH_* environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("USAGESYNTH_ENGINE"); v != "" {
		c.Engine.Backend = v
	}
	if v := os.Getenv("USAGESYNTH_SOUFFLE"); v != "" {
		c.Engine.SouffleBinary = v
	}
	if v := os.Getenv("USAGESYNTH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("USAGESYNTH_WORKERS: %w", err)
		}
		c.Evaluation.Workers = n
	}
	if v := os.Getenv("USAGESYNTH_PASS_RATIO"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("USAGESYNTH_PASS_RATIO: %w", err)
		}
		c.Evaluation.PassRatio = r
	}
	if v := os.Getenv("USAGESYNTH_CACHE_ROOT"); v != "" {
		c.Storage.CacheRoot = v
	}
	if v := os.Getenv("USAGESYNTH_LEDGER"); v != "" {
		c.Storage.LedgerPath = v
	}
	if v := os.Getenv("USAGESYNTH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// GetEngineTimeout returns the per-evaluation timeout.
func (c *Config) GetEngineTimeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.Timeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetExtractionTimeout returns the per-sample extraction timeout.
func (c *Config) GetExtractionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Extraction.Timeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// ValidPassPredicates lists the supported pass predicates.
var ValidPassPredicates = []string{"labeled", "incorrect_nonempty", "correct_only"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Engine.Backend {
	case BackendSouffle:
		if c.Engine.SouffleBinary == "" {
			return fmt.Errorf("engine.souffle_binary is required for the souffle backend")
		}
	case BackendMangle:
	default:
		return fmt.Errorf("invalid engine backend: %s (valid: [%s %s])", c.Engine.Backend, BackendSouffle, BackendMangle)
	}
	if c.Engine.Timeout != "" {
		if d, err := time.ParseDuration(c.Engine.Timeout); err != nil || d <= 0 {
			return fmt.Errorf("invalid engine timeout: %q", c.Engine.Timeout)
		}
	}

	if c.Evaluation.PassRatio < 0 || c.Evaluation.PassRatio > 1 {
		return fmt.Errorf("pass_ratio must be within [0, 1], got %v", c.Evaluation.PassRatio)
	}
	valid := false
	for _, p := range ValidPassPredicates {
		if c.Evaluation.PassPredicate == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid pass predicate: %s (valid: %v)", c.Evaluation.PassPredicate, ValidPassPredicates)
	}
	if c.Evaluation.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.Synthesis.MaxCandidates < 0 {
		return fmt.Errorf("max_candidates must not be negative")
	}

	return c.Logging.Validate()
}
