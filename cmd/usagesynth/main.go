// Command usagesynth synthesizes API-misuse detectors from usage templates
// and labeled sample corpora.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"usagesynth/internal/config"
	"usagesynth/internal/logging"
	"usagesynth/internal/pipeline"
)

// app holds the state shared by all subcommands of one invocation.
type app struct {
	// Global flags
	verbose    bool
	configPath string
	envFile    string
	timeout    time.Duration
	trace      bool

	cfg     *config.Config
	logger  *zap.Logger
	loggers *logging.Loggers
	tracer  *sdktrace.TracerProvider
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "usagesynth",
		Short: "Synthesize API-misuse detectors from usage templates",
		Long: `usagesynth enumerates candidate Datalog detector programs for a usage
template, evaluates each candidate on a corpus of sample fact directories with
an external Datalog engine, and keeps the most specific program that covers
every sample.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.tracer != nil {
				_ = a.tracer.Shutdown(context.Background())
			}
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "usagesynth.yaml", "Configuration file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before configuration")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "Overall operation timeout (0 = none)")
	root.PersistentFlags().BoolVar(&a.trace, "trace", false, "Log a line for every finished span (synthesis, enumeration, evaluation units)")

	root.AddCommand(
		newSynthesizeCmd(a),
		newEnumerateCmd(a),
		newEvaluateCmd(a),
		newCheckCmd(a),
	)
	return root
}

// setup loads the environment file, the configuration and the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger, err = logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		Categories: cfg.Logging.Categories,
		Verbose:    a.verbose,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.loggers = logging.NewLoggers(a.logger, cfg.Logging.Categories)
	if a.trace {
		a.tracer = logging.NewTracerProvider(a.loggers.Get(logging.CategoryTrace))
		otel.SetTracerProvider(a.tracer)
	}
	a.loggers.Get(logging.CategoryBoot).Debug("configuration loaded",
		zap.String("path", a.configPath),
		zap.String("engine", cfg.Engine.Backend))
	return nil
}

// context returns the command context, canceled on SIGINT/SIGTERM and after
// the --timeout.
func (a *app) context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if a.timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func (a *app) synthesizer() (*pipeline.Synthesizer, error) {
	return pipeline.New(pipeline.Options{Config: a.cfg, Loggers: a.loggers})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
