package oracle

import (
	"errors"

	"go.uber.org/zap"

	"usagesynth/internal/synth"
)

var (
	// ErrNoSatProgram means no candidate met the pass ratio.
	ErrNoSatProgram = errors.New("no candidate met the pass ratio")
	// ErrCoverageFailure means the retained candidates leave some sample
	// unpassed.
	ErrCoverageFailure = errors.New("retained candidates do not cover every sample")
)

// Status is the kind of selection outcome.
type Status string

const (
	Found           Status = "found"
	NoSatProgram    Status = "no_sat_program"
	CoverageFailure Status = "coverage_failure"
)

// Outcome is the result of selection. Only a Found outcome carries a
// program.
type Outcome struct {
	Status   Status
	Selected synth.Candidate
	// Retained are the candidates that met the pass ratio, in candidate
	// order.
	Retained []synth.Candidate
	// Covered and Uncovered partition the sample IDs.
	Covered   []string
	Uncovered []string
}

// Err returns nil for Found and the matching sentinel otherwise.
func (o Outcome) Err() error {
	switch o.Status {
	case Found:
		return nil
	case CoverageFailure:
		return ErrCoverageFailure
	}
	return ErrNoSatProgram
}

// Retained reports whether a candidate meets the pass ratio.
func Retained(r CandidateResult, ratio float64) bool {
	return r.Total > 0 && r.Ratio() >= ratio
}

// Selector applies retention, coverage and specificity ranking.
type Selector struct {
	PassRatio float64
	// IsComponent tells component predicates apart for ranking.
	IsComponent func(pred string) bool
	Logger      *zap.Logger
}

// Select picks the retained candidate whose correct_usage rule has the most
// component literals, the first produced winning ties. cands and
// report.Results must be in the same order.
func (s Selector) Select(cands []synth.Candidate, report Report) Outcome {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var out Outcome
	covered := make(map[string]bool)
	for i, r := range report.Results {
		if !Retained(r, s.PassRatio) {
			continue
		}
		out.Retained = append(out.Retained, cands[i])
		for _, id := range r.Passed {
			covered[id] = true
		}
	}
	for _, smp := range report.Samples {
		if covered[smp.ID] {
			out.Covered = append(out.Covered, smp.ID)
		} else {
			out.Uncovered = append(out.Uncovered, smp.ID)
		}
	}

	if len(out.Retained) == 0 {
		out.Status = NoSatProgram
		logger.Error("no sat program found",
			zap.Int("candidates", len(cands)),
			zap.Int("samples", len(report.Samples)),
			zap.Float64("pass_ratio", s.PassRatio))
		return out
	}
	if len(out.Uncovered) > 0 {
		out.Status = CoverageFailure
		logger.Error("retained candidates do not cover all samples",
			zap.Int("retained", len(out.Retained)),
			zap.Strings("covered", out.Covered),
			zap.Strings("uncovered", out.Uncovered))
		return out
	}

	isComponent := s.IsComponent
	if isComponent == nil {
		isComponent = func(string) bool { return false }
	}
	best, bestCount := 0, -2
	for i, c := range out.Retained {
		if n := synth.CountComponentLiterals(c.Program, isComponent); n > bestCount {
			best, bestCount = i, n
		}
	}
	out.Status = Found
	out.Selected = out.Retained[best]
	logger.Info("selected detector",
		zap.Int("candidate", out.Selected.Index),
		zap.Int("component_literals", bestCount),
		zap.Int("retained", len(out.Retained)))
	return out
}
