package oracle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"usagesynth/internal/datalog"
	"usagesynth/internal/engine"
	"usagesynth/internal/facts"
	"usagesynth/internal/synth"
)

// UnitStatus is the outcome of one (candidate, sample) evaluation.
type UnitStatus string

const (
	UnitPassed UnitStatus = "passed"
	UnitFailed UnitStatus = "failed"
	// UnitError means the engine could not evaluate the candidate.
	UnitError UnitStatus = "error"
)

// UnitResult records one evaluation.
type UnitResult struct {
	Candidate int
	Sample    string
	Status    UnitStatus
	// Kind is set for UnitError.
	Kind     engine.FailureKind
	Err      error
	Duration time.Duration
}

// CandidateResult aggregates the evaluations of one candidate.
type CandidateResult struct {
	Candidate int
	// Passed are the IDs of the passed samples, in sample order.
	Passed []string
	Total  int
	// Units are in sample order.
	Units []UnitResult
}

// Ratio is the share of samples passed.
func (r CandidateResult) Ratio() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(len(r.Passed)) / float64(r.Total)
}

// Report is the result of evaluating candidates against samples.
type Report struct {
	Samples []Sample
	// Results are in candidate order.
	Results []CandidateResult
}

// EvaluatorOptions tunes an Evaluator.
type EvaluatorOptions struct {
	// Workers bounds concurrent engine runs. Zero means runtime.NumCPU().
	Workers   int
	Predicate PassPredicate
	// WorkDir holds the temporary workspaces. Empty means os.TempDir().
	WorkDir string
	// IncludeDir resolves relative includes of the candidates.
	IncludeDir string
	Logger     *zap.Logger
	// OnUnit, when set, observes every finished unit. Calls are
	// serialised.
	OnUnit func(UnitResult)
}

// Evaluator runs candidates through an engine.
type Evaluator struct {
	eng      engine.Engine
	resolver *datalog.IncludeResolver
	opts     EvaluatorOptions
	logger   *zap.Logger
}

// NewEvaluator creates an evaluator. Candidates are made self-contained
// with resolver before they are handed to the engine.
func NewEvaluator(eng engine.Engine, resolver *datalog.IncludeResolver, opts EvaluatorOptions) *Evaluator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Predicate == "" {
		opts.Predicate = PassLabeled
	}
	if resolver == nil {
		// Only a non-positive size can fail, and 0 selects the default.
		resolver, _ = datalog.NewIncludeResolver(0)
	}
	return &Evaluator{eng: eng, resolver: resolver, opts: opts, logger: logger}
}

type preparedCandidate struct {
	index  int
	path   string
	inputs []string
}

// Evaluate runs every candidate against every sample. Engine failures mark
// the unit as errored and do not stop the run; only cancellation and
// workspace I/O errors do.
func (ev *Evaluator) Evaluate(ctx context.Context, cands []synth.Candidate, samples []Sample) (Report, error) {
	ctx, span := otel.Tracer("usagesynth/oracle").Start(ctx, "oracle.Evaluate",
		trace.WithAttributes(
			attribute.Int("candidates", len(cands)),
			attribute.Int("samples", len(samples)),
			attribute.String("engine", ev.eng.Name())))
	defer span.End()

	report, err := ev.evaluate(ctx, cands, samples)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation aborted")
	}
	return report, err
}

func (ev *Evaluator) evaluate(ctx context.Context, cands []synth.Candidate, samples []Sample) (Report, error) {
	if err := os.MkdirAll(ev.workDir(), 0o755); err != nil {
		return Report{}, fmt.Errorf("failed to create work dir: %w", err)
	}
	runDir, err := os.MkdirTemp(ev.workDir(), "usagesynth-eval-")
	if err != nil {
		return Report{}, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer os.RemoveAll(runDir)

	prepared := make([]preparedCandidate, len(cands))
	for i, c := range cands {
		p, err := ev.prepare(runDir, i, c)
		if err != nil {
			return Report{}, err
		}
		prepared[i] = p
	}

	results := make([]CandidateResult, len(cands))
	units := make([][]UnitResult, len(cands))
	for i := range cands {
		results[i] = CandidateResult{Candidate: cands[i].Index, Total: len(samples)}
		units[i] = make([]UnitResult, len(samples))
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ev.opts.Workers)
	for ci := range cands {
		for si := range samples {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				res, err := ev.runUnit(gctx, runDir, cands[ci], prepared[ci], samples[si])
				if err != nil {
					return err
				}
				mu.Lock()
				units[ci][si] = res
				if ev.opts.OnUnit != nil {
					ev.opts.OnUnit(res)
				}
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	for ci := range results {
		results[ci].Units = units[ci]
		for si, u := range units[ci] {
			if u.Status == UnitPassed {
				results[ci].Passed = append(results[ci].Passed, samples[si].ID)
			}
		}
	}
	return Report{Samples: samples, Results: results}, nil
}

func (ev *Evaluator) workDir() string {
	if ev.opts.WorkDir != "" {
		return ev.opts.WorkDir
	}
	return os.TempDir()
}

// prepare writes the self-contained program of c and records the input
// relations it reads.
func (ev *Evaluator) prepare(runDir string, pos int, c synth.Candidate) (preparedCandidate, error) {
	prog, err := ev.resolver.Resolve(c.Program, ev.opts.IncludeDir)
	if err != nil {
		return preparedCandidate{}, fmt.Errorf("candidate %d: %w", c.Index, err)
	}
	path := filepath.Join(runDir, fmt.Sprintf("candidate_%d.dl", pos))
	if err := os.WriteFile(path, []byte(datalog.Render(prog)), 0o644); err != nil {
		return preparedCandidate{}, fmt.Errorf("failed to write candidate %d: %w", c.Index, err)
	}
	return preparedCandidate{index: c.Index, path: path, inputs: prog.Inputs}, nil
}

// runUnit evaluates one candidate on one sample in a private workspace that
// is removed on every path.
func (ev *Evaluator) runUnit(ctx context.Context, runDir string, c synth.Candidate, p preparedCandidate, s Sample) (UnitResult, error) {
	ctx, span := otel.Tracer("usagesynth/oracle").Start(ctx, "oracle.unit",
		trace.WithAttributes(attribute.Int("candidate", c.Index), attribute.String("sample", s.ID)))
	defer span.End()

	start := time.Now()
	res := UnitResult{Candidate: c.Index, Sample: s.ID}

	unitDir, err := os.MkdirTemp(runDir, "unit-")
	if err != nil {
		return res, fmt.Errorf("failed to create unit workspace: %w", err)
	}
	defer os.RemoveAll(unitDir)

	in := filepath.Join(unitDir, "in")
	out := filepath.Join(unitDir, "out")
	for _, d := range []string{in, out} {
		if err := os.Mkdir(d, 0o755); err != nil {
			return res, fmt.Errorf("failed to create unit workspace: %w", err)
		}
	}
	if err := facts.CopyDir(s.FactDir, in); err != nil {
		return res, fmt.Errorf("sample %s: %w", s.ID, err)
	}

	err = ev.eng.Run(ctx, engine.Invocation{
		ProgramPath: p.path,
		FactDir:     in,
		OutputDir:   out,
		Inputs:      p.inputs,
		Tags: map[string]string{
			"candidate": strconv.Itoa(c.Index),
			"sample":    s.ID,
		},
	})
	res.Duration = time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if errors.Is(err, context.Canceled) {
			return res, err
		}
		res.Status = UnitError
		res.Kind = engine.KindOf(err)
		res.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, string(res.Kind))
		ev.logger.Warn("engine failure",
			zap.Int("candidate", c.Index),
			zap.String("sample", s.ID),
			zap.String("kind", string(res.Kind)),
			zap.Error(err))
		return res, nil
	}

	passed, err := ev.opts.Predicate.Passes(s.Label, out)
	if err != nil {
		return res, fmt.Errorf("candidate %d sample %s: %w", c.Index, s.ID, err)
	}
	if passed {
		res.Status = UnitPassed
	} else {
		res.Status = UnitFailed
		ev.logger.Info("failed to pass",
			zap.Int("candidate", c.Index),
			zap.String("sample", s.ID),
			zap.String("label", string(s.Label)))
	}
	span.SetAttributes(attribute.String("status", string(res.Status)))
	return res, nil
}
