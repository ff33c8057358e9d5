package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"usagesynth/internal/facts"
	"usagesynth/internal/tactile"
)

// SouffleConfig configures the Soufflé process backend.
type SouffleConfig struct {
	Binary    string
	ExtraArgs []string
	Timeout   time.Duration
	// MaxOutputBytes caps captured diagnostics. Zero uses the executor
	// default.
	MaxOutputBytes int64
}

// DefaultSouffleConfig returns the reference invocation: `souffle prog -F
// in -D out -w`.
func DefaultSouffleConfig() SouffleConfig {
	return SouffleConfig{
		Binary:    "souffle",
		ExtraArgs: []string{"-w"},
		Timeout:   5 * time.Minute,
	}
}

// Souffle runs programs with the souffle interpreter, one process per
// invocation.
type Souffle struct {
	cfg    SouffleConfig
	exec   tactile.Executor
	logger *zap.Logger
}

// NewSouffle creates the backend. A nil logger disables logging.
func NewSouffle(cfg SouffleConfig, exec tactile.Executor, logger *zap.Logger) *Souffle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Binary == "" {
		cfg.Binary = "souffle"
	}
	return &Souffle{cfg: cfg, exec: exec, logger: logger}
}

func (s *Souffle) Name() string { return "souffle" }

// Command returns the process invocation for inv.
func (s *Souffle) Command(inv Invocation) tactile.Command {
	args := []string{inv.ProgramPath, "-F", inv.FactDir, "-D", inv.OutputDir}
	args = append(args, s.cfg.ExtraArgs...)
	return tactile.Command{
		Binary:    s.cfg.Binary,
		Arguments: args,
		Limits: &tactile.ResourceLimits{
			TimeoutMs:      s.cfg.Timeout.Milliseconds(),
			MaxOutputBytes: s.cfg.MaxOutputBytes,
		},
		Tags: inv.Tags,
	}
}

// Run evaluates inv. Soufflé only reads <rel>.facts and refuses to run when
// one is missing, so FactDir gets a .facts file for every input: a copy of
// a .csv relation, or an empty file.
func (s *Souffle) Run(ctx context.Context, inv Invocation) error {
	if err := facts.EnsureRelations(inv.FactDir, inv.Inputs); err != nil {
		return fmt.Errorf("failed to prepare fact dir: %w", err)
	}
	if err := os.MkdirAll(inv.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	res, err := s.exec.Execute(ctx, s.Command(inv))
	if err != nil {
		return &Failure{Kind: KindStart, Err: err}
	}
	return s.interpret(ctx, res)
}

func (s *Souffle) interpret(ctx context.Context, res *tactile.ExecutionResult) error {
	switch {
	case res.IsError():
		return &Failure{Kind: KindStart, Err: errors.New(res.Error)}
	case res.Killed:
		if err := ctx.Err(); err != nil {
			return &Failure{Kind: KindCanceled, Err: err}
		}
		return &Failure{Kind: KindTimeout, Err: errors.New(res.KillReason)}
	case res.ExitCode != 0:
		f := &Failure{
			Kind:     Classify(res.Output()),
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			Line:     extractLine(res.Output()),
		}
		s.logger.Debug("souffle failed",
			zap.String("kind", string(f.Kind)),
			zap.Int("exit_code", f.ExitCode),
			zap.String("stderr", firstLine(res.Stderr)))
		return f
	}
	return nil
}
