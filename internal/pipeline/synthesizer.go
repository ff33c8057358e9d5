// Package pipeline wires the synthesizer together: role catalog, component
// library, enumeration, fact extraction, evaluation, selection and
// persistence. It is the only package that knows about every other one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"usagesynth/internal/config"
	"usagesynth/internal/datalog"
	"usagesynth/internal/engine"
	"usagesynth/internal/extract"
	"usagesynth/internal/logging"
	"usagesynth/internal/mangle"
	"usagesynth/internal/oracle"
	"usagesynth/internal/roles"
	"usagesynth/internal/store"
	"usagesynth/internal/synth"
	"usagesynth/internal/tactile"
)

// includeCacheSize bounds the parsed include fragments kept in memory.
const includeCacheSize = 64

// Options configures New.
type Options struct {
	Config *config.Config
	// Loggers defaults to no-op loggers.
	Loggers *logging.Loggers
	// Engine replaces the configured backend.
	Engine engine.Engine
	// Extractor replaces the configured extraction tool.
	Extractor extract.Extractor
}

// Synthesizer runs synthesis requests. It is safe to reuse across requests
// but not for concurrent ones.
type Synthesizer struct {
	cfg       *config.Config
	loggers   *logging.Loggers
	logger    *zap.Logger
	mapper    *roles.Mapper
	resolver  *datalog.IncludeResolver
	engine    engine.Engine
	extractor extract.Extractor
	ledger    *store.Ledger
	predicate oracle.PassPredicate
}

// New builds a synthesizer from configuration.
func New(opts Options) (*Synthesizer, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	loggers := opts.Loggers
	if loggers == nil {
		loggers = logging.NewLoggers(nil, nil)
	}
	boot := loggers.Get(logging.CategoryBoot)

	catalog, err := roles.LoadCatalog(cfg.Synthesis.RolesPath)
	if err != nil {
		return nil, err
	}
	mapper, err := roles.NewMapper(catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to build role map: %w", err)
	}
	predicate, err := oracle.ParsePassPredicate(cfg.Evaluation.PassPredicate)
	if err != nil {
		return nil, err
	}
	resolver, err := datalog.NewIncludeResolver(includeCacheSize)
	if err != nil {
		return nil, err
	}

	s := &Synthesizer{
		cfg:       cfg,
		loggers:   loggers,
		logger:    loggers.Get(logging.CategoryPipeline),
		mapper:    mapper,
		resolver:  resolver,
		engine:    opts.Engine,
		extractor: opts.Extractor,
		predicate: predicate,
	}

	if s.engine == nil {
		if s.engine, err = NewEngine(cfg, resolver, loggers); err != nil {
			return nil, err
		}
	}
	if s.extractor == nil && cfg.Extraction.Command != "" {
		exec := tactile.NewDirectExecutor(executorConfig(cfg), loggers.Get(logging.CategoryTactile))
		s.extractor = extract.NewProcessExtractor(extract.ProcessConfig{
			Command: cfg.Extraction.Command,
			Args:    cfg.Extraction.Args,
			Timeout: cfg.GetExtractionTimeout(),
		}, exec, loggers.Get(logging.CategoryExtract))
	}
	if cfg.Storage.LedgerPath != "" {
		if s.ledger, err = store.OpenLedger(cfg.Storage.LedgerPath); err != nil {
			return nil, err
		}
	}

	boot.Info("synthesizer ready",
		zap.String("engine", s.engine.Name()),
		zap.Int("components", len(mapper.Components())),
		zap.String("pass_predicate", string(predicate)),
		zap.Bool("ledger", s.ledger != nil),
		zap.Bool("extraction", s.extractor != nil))
	return s, nil
}

func executorConfig(cfg *config.Config) tactile.ExecutorConfig {
	ec := tactile.DefaultExecutorConfig()
	ec.DefaultTimeout = cfg.GetEngineTimeout()
	if cfg.Engine.MaxOutputBytes > 0 {
		ec.MaxOutputBytes = cfg.Engine.MaxOutputBytes
	}
	if len(cfg.Engine.AllowedEnv) > 0 {
		ec.AllowedEnvironment = cfg.Engine.AllowedEnv
	}
	return ec
}

// NewEngine creates the configured evaluation backend.
func NewEngine(cfg *config.Config, resolver *datalog.IncludeResolver, loggers *logging.Loggers) (engine.Engine, error) {
	if loggers == nil {
		loggers = logging.NewLoggers(nil, nil)
	}
	switch cfg.Engine.Backend {
	case config.BackendMangle:
		if timeout := cfg.GetEngineTimeout(); timeout > 0 {
			loggers.Get(logging.CategoryEngine).Warn("mangle backend cannot interrupt a running evaluation, engine timeout is not enforced",
				zap.Duration("timeout", timeout))
		}
		return mangle.NewBackend(resolver, loggers.Get(logging.CategoryEngine))
	case config.BackendSouffle, "":
		exec := tactile.NewDirectExecutor(executorConfig(cfg), loggers.Get(logging.CategoryTactile))
		return engine.NewSouffle(engine.SouffleConfig{
			Binary:         cfg.Engine.SouffleBinary,
			ExtraArgs:      cfg.Engine.ExtraArgs,
			Timeout:        cfg.GetEngineTimeout(),
			MaxOutputBytes: cfg.Engine.MaxOutputBytes,
		}, exec, loggers.Get(logging.CategoryEngine)), nil
	}
	return nil, fmt.Errorf("unknown engine backend %q", cfg.Engine.Backend)
}

// Mapper returns the role mapper.
func (s *Synthesizer) Mapper() *roles.Mapper { return s.mapper }

// Engine returns the evaluation backend.
func (s *Synthesizer) Engine() engine.Engine { return s.engine }

// Close releases the ledger.
func (s *Synthesizer) Close() error {
	if s == nil || s.ledger == nil {
		return nil
	}
	err := s.ledger.Close()
	s.ledger = nil
	return err
}

// Request is one synthesis request.
type Request struct {
	API       string
	Templates []synth.Template
	Corpus    *oracle.Corpus
}

// Result is the outcome of a synthesis run. A run that finds no program is
// not an error; Outcome.Status tells why.
type Result struct {
	RunID      string
	CacheRoot  string
	Candidates []synth.Candidate
	Samples    []oracle.Sample
	// Skipped are samples whose facts could not be extracted.
	Skipped []string
	Report  oracle.Report
	Outcome oracle.Outcome
	// FinalPath is set when a program was selected.
	FinalPath string
}

// Program returns the selected program, if any.
func (r Result) Program() (datalog.Program, bool) {
	if r.Outcome.Status != oracle.Found {
		return datalog.Program{}, false
	}
	return r.Outcome.Selected.Program, true
}

// Synthesize enumerates the candidates of req's templates, evaluates them on
// the corpus samples of req.API and persists the retained and selected
// programs under the cache root.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	ctx, span := otel.Tracer("usagesynth/pipeline").Start(ctx, "pipeline.Synthesize",
		trace.WithAttributes(
			attribute.String("api", req.API),
			attribute.Int("templates", len(req.Templates))))
	defer span.End()

	res, err := s.synthesize(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return res, err
	}
	span.SetAttributes(attribute.String("status", string(res.Outcome.Status)))
	return res, nil
}

func (s *Synthesizer) synthesize(ctx context.Context, req Request) (Result, error) {
	timer := logging.StartTimer(s.logger, "synthesis")
	defer timer.StopWithThreshold(s.cfg.Logging.GetSlowThreshold())

	if len(req.Templates) == 0 {
		return Result{}, errors.New("no usage templates given")
	}
	samples, skipped, err := s.ResolveSamples(ctx, req.API, req.Corpus)
	if err != nil {
		return Result{}, err
	}
	if len(samples) == 0 {
		return Result{}, fmt.Errorf("api %s: no usable samples", req.API)
	}
	cacheRoot := s.cacheRoot(req.Corpus, samples)
	res := Result{CacheRoot: cacheRoot, Samples: samples, Skipped: skipped}

	cands, err := s.Enumerate(ctx, req.Templates, cacheRoot)
	if err != nil {
		return res, err
	}
	res.Candidates = cands

	artifacts, err := store.NewArtifacts(cacheRoot)
	if err != nil {
		return res, err
	}
	if err := artifacts.Reset(); err != nil {
		return res, err
	}
	if s.cfg.Storage.PersistCandidates {
		for _, c := range cands {
			if _, err := artifacts.WriteCandidate(c.Index, c.Program); err != nil {
				return res, err
			}
		}
	}

	if res.RunID, err = s.beginRun(ctx, req, cands, len(samples), len(skipped)); err != nil {
		return res, err
	}

	ev := oracle.NewEvaluator(s.engine, s.resolver, oracle.EvaluatorOptions{
		Workers:   s.cfg.Evaluation.Workers,
		Predicate: s.predicate,
		WorkDir:   s.cfg.Evaluation.WorkDir,
		Logger:    s.loggers.Get(logging.CategoryOracle),
		OnUnit:    s.recordUnit(ctx, res.RunID),
	})
	evalTimer := logging.StartTimer(s.logger, "evaluation")
	res.Report, err = ev.Evaluate(ctx, cands, samples)
	evalTimer.StopWithThreshold(s.cfg.Logging.GetSlowThreshold())
	if err != nil {
		s.finishRun(ctx, res.RunID, "aborted", len(cands), -1, err.Error())
		return res, err
	}

	sel := oracle.Selector{
		PassRatio:   s.cfg.Evaluation.PassRatio,
		IsComponent: s.mapper.IsComponent,
		Logger:      s.loggers.Get(logging.CategoryOracle),
	}
	res.Outcome = sel.Select(cands, res.Report)

	for _, c := range res.Outcome.Retained {
		if _, err := artifacts.WriteSat(c.Index, c.Program); err != nil {
			return res, err
		}
	}

	selected, reason := -1, ""
	if res.Outcome.Status == oracle.Found {
		if res.FinalPath, err = artifacts.WriteFinal(res.Outcome.Selected.Program); err != nil {
			return res, err
		}
		selected = res.Outcome.Selected.Index
		s.logger.Info("wrote final program", zap.String("path", res.FinalPath))
	} else {
		reason = res.Outcome.Err().Error()
	}
	s.finishRun(ctx, res.RunID, string(res.Outcome.Status), len(cands), selected, reason)
	return res, nil
}

// Enumerate loads the component library and produces the candidates of
// templates. The bundled library is materialised under cacheRoot unless a
// library path is configured.
func (s *Synthesizer) Enumerate(ctx context.Context, templates []synth.Template, cacheRoot string) ([]synth.Candidate, error) {
	lib, err := s.library(cacheRoot)
	if err != nil {
		return nil, err
	}
	en := synth.NewEnumerator(s.mapper, lib, synth.Options{
		MaxCandidates: s.cfg.Synthesis.MaxCandidates,
		Logger:        s.loggers.Get(logging.CategoryEnumerate),
	})
	timer := logging.StartTimer(s.logger, "enumeration")
	cands, err := en.Enumerate(ctx, templates)
	timer.StopWithThreshold(s.cfg.Logging.GetSlowThreshold())
	if err != nil {
		return nil, err
	}
	s.logger.Info("enumerated candidates", zap.Int("templates", len(templates)), zap.Int("candidates", len(cands)))
	return cands, nil
}

func (s *Synthesizer) library(cacheRoot string) (synth.Library, error) {
	path := s.cfg.Synthesis.LibraryPath
	if path == "" {
		var err error
		if path, err = synth.MaterializeDefaultLibrary(filepath.Join(cacheRoot, "lib")); err != nil {
			return synth.Library{}, err
		}
	}
	lib, err := synth.LoadLibrary(path, s.mapper)
	if err != nil {
		return synth.Library{}, err
	}
	s.loggers.Get(logging.CategorySynth).Debug("loaded component library",
		zap.String("path", lib.Path),
		zap.Int("components", len(lib.Components)))
	return lib, nil
}

// cacheRoot is the configured root, else the corpus root, else the
// grandparent of the first sample's fact directory.
func (s *Synthesizer) cacheRoot(corpus *oracle.Corpus, samples []oracle.Sample) string {
	switch {
	case s.cfg.Storage.CacheRoot != "":
		return s.cfg.Storage.CacheRoot
	case corpus != nil && corpus.CacheRoot != "":
		return corpus.CacheRoot
	}
	return filepath.Dir(filepath.Dir(filepath.Clean(samples[0].FactDir)))
}

func (s *Synthesizer) beginRun(ctx context.Context, req Request, cands []synth.Candidate, samples, skipped int) (string, error) {
	if s.ledger == nil {
		return "", nil
	}
	runID, err := s.ledger.BeginRun(ctx, store.RunInfo{
		API:       req.API,
		Engine:    s.engine.Name(),
		Templates: len(req.Templates),
		Samples:   samples,
		Skipped:   skipped,
	})
	if err != nil {
		return "", err
	}
	records := make([]store.CandidateRecord, len(cands))
	for i, c := range cands {
		names := make([]string, len(c.Chosen))
		for j, inst := range c.Chosen {
			names[j] = inst.Component.Name
		}
		records[i] = store.CandidateRecord{
			Index:             c.Index,
			Template:          c.Template,
			Text:              c.Text(),
			Components:        names,
			ComponentLiterals: synth.CountComponentLiterals(c.Program, s.mapper.IsComponent),
		}
	}
	if err := s.ledger.RecordCandidates(ctx, runID, records); err != nil {
		return "", err
	}
	return runID, nil
}

func (s *Synthesizer) recordUnit(ctx context.Context, runID string) func(oracle.UnitResult) {
	if s.ledger == nil {
		return nil
	}
	logger := s.loggers.Get(logging.CategoryStore)
	return func(u oracle.UnitResult) {
		rec := store.EvaluationRecord{
			Candidate:   u.Candidate,
			Sample:      u.Sample,
			Status:      string(u.Status),
			FailureKind: string(u.Kind),
			Duration:    u.Duration,
		}
		if u.Err != nil {
			rec.Error = u.Err.Error()
			rec.ExitCode = -1
			var f *engine.Failure
			if errors.As(u.Err, &f) {
				rec.ExitCode = f.ExitCode
			}
		}
		if err := s.ledger.RecordEvaluation(ctx, runID, rec); err != nil {
			logger.Warn("failed to record evaluation", zap.Error(err))
		}
	}
}

func (s *Synthesizer) finishRun(ctx context.Context, runID, status string, candidates, selected int, reason string) {
	if s.ledger == nil {
		return
	}
	// The run context may already be canceled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := s.ledger.FinishRun(ctx, runID, store.RunResult{
		Status:     status,
		Candidates: candidates,
		Selected:   selected,
		Reason:     reason,
	})
	if err != nil {
		s.loggers.Get(logging.CategoryStore).Warn("failed to finish run", zap.String("run", runID), zap.Error(err))
	}
}
