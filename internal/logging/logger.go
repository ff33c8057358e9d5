// Package logging builds the zap loggers used throughout usagesynth.
// Every component receives a named child logger for its category; library
// packages never log through global state.
package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and configuration
	CategorySynth     Category = "synth"     // Library and template loading
	CategoryEnumerate Category = "enumerate" // Candidate enumeration
	CategoryOracle    Category = "oracle"    // Evaluation and selection
	CategoryEngine    Category = "engine"    // Evaluation engine runs
	CategoryTactile   Category = "tactile"   // Process execution
	CategoryStore     Category = "store"     // Artifacts and ledger
	CategoryExtract   Category = "extract"   // Fact extraction
	CategoryPipeline  Category = "pipeline"  // End-to-end synthesis
	CategoryTrace     Category = "trace"     // Finished spans
)

// Config configures the root logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	// File receives logs in addition to stderr.
	File string
	// Categories switched off map to false.
	Categories map[string]bool
	// Verbose forces debug level.
	Verbose bool
}

// New builds the root logger.
func New(cfg Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	if cfg.Verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	zc.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		zc.OutputPaths = append(zc.OutputPaths, cfg.File)
	}
	return zc.Build()
}

// Loggers hands out category loggers derived from one root.
type Loggers struct {
	root       *zap.Logger
	categories map[string]bool
}

// NewLoggers wraps root. A nil root logs nothing.
func NewLoggers(root *zap.Logger, categories map[string]bool) *Loggers {
	if root == nil {
		root = zap.NewNop()
	}
	return &Loggers{root: root, categories: categories}
}

// Root returns the root logger.
func (l *Loggers) Root() *zap.Logger { return l.root }

// Enabled reports whether cat logs.
func (l *Loggers) Enabled(cat Category) bool {
	enabled, ok := l.categories[string(cat)]
	return !ok || enabled
}

// Get returns the logger for cat, or a no-op logger when cat is disabled.
func (l *Loggers) Get(cat Category) *zap.Logger {
	if !l.Enabled(cat) {
		return zap.NewNop()
	}
	return l.root.Named(string(cat))
}

// Timer measures one operation.
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer begins timing op.
func StartTimer(logger *zap.Logger, op string) *Timer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timer{logger: logger, op: op, start: time.Now()}
}

// Stop logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs at warn level when the operation took longer
// than threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if threshold > 0 && elapsed > threshold {
		t.logger.Warn(t.op+" was slow",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", threshold))
	} else {
		t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
