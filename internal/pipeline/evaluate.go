package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"usagesynth/internal/datalog"
	"usagesynth/internal/logging"
	"usagesynth/internal/oracle"
	"usagesynth/internal/synth"
)

// Evaluation is the result of evaluating a single existing program.
type Evaluation struct {
	Samples []oracle.Sample
	Skipped []string
	Result  oracle.CandidateResult
}

// Evaluate runs the program at path against the corpus samples of api.
// Relative includes resolve against the program's directory.
func (s *Synthesizer) Evaluate(ctx context.Context, path, api string, corpus *oracle.Corpus) (Evaluation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Evaluation{}, fmt.Errorf("failed to read program: %w", err)
	}
	prog, err := datalog.Parse(string(data))
	if err != nil {
		return Evaluation{}, fmt.Errorf("%s: %w", path, err)
	}
	samples, skipped, err := s.ResolveSamples(ctx, api, corpus)
	if err != nil {
		return Evaluation{}, err
	}

	ev := oracle.NewEvaluator(s.engine, s.resolver, oracle.EvaluatorOptions{
		Workers:    s.cfg.Evaluation.Workers,
		Predicate:  s.predicate,
		WorkDir:    s.cfg.Evaluation.WorkDir,
		IncludeDir: filepath.Dir(path),
		Logger:     s.loggers.Get(logging.CategoryOracle),
	})
	report, err := ev.Evaluate(ctx, []synth.Candidate{{Template: filepath.Base(path), Program: prog}}, samples)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{Samples: samples, Skipped: skipped, Result: report.Results[0]}, nil
}
