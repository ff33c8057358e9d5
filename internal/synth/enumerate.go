// Package synth enumerates candidate detector programs. Each adjacent pair
// of template elements is connected by every subset of the applicable
// component relations, and the per-pair choices are combined by Cartesian
// product into complete programs.
package synth

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"usagesynth/internal/datalog"
	"usagesynth/internal/roles"
)

// ErrTooManyCandidates is returned when enumeration exceeds the configured
// candidate limit.
var ErrTooManyCandidates = errors.New("candidate limit exceeded")

// Options tunes an Enumerator.
type Options struct {
	// MaxCandidates bounds the number of programs produced before
	// deduplication. Zero means unlimited.
	MaxCandidates int
	Logger        *zap.Logger
}

// Enumerator turns usage templates into candidate programs. It holds no
// mutable state and may be shared.
type Enumerator struct {
	mapper        *roles.Mapper
	lib           Library
	header        datalog.Program
	maxCandidates int
	logger        *zap.Logger
}

// NewEnumerator creates an enumerator over the library's components.
func NewEnumerator(mapper *roles.Mapper, lib Library, opts Options) *Enumerator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enumerator{
		mapper: mapper,
		lib:    lib,
		header: datalog.Program{
			Includes: []string{lib.Path},
			Decls:    UsageDeclarations(),
			Outputs:  []string{CorrectUsage, IncorrectUsage},
		},
		maxCandidates: opts.MaxCandidates,
		logger:        logger,
	}
}

// Mapper returns the role mapper the enumerator was built with.
func (en *Enumerator) Mapper() *roles.Mapper { return en.mapper }

// Library returns the component library.
func (en *Enumerator) Library() Library { return en.lib }

// Subsets returns, in power-set order, every subset of the component
// catalog instantiated against (e1, e2). Subsets containing a component that
// is not applicable to the pair are left out. The empty subset is always
// first.
func (en *Enumerator) Subsets(e1, e2 datalog.Literal, pair int) [][]Instantiation {
	var applicable []Instantiation
	var total int
	for _, cl := range en.lib.Components {
		total++
		if inst, ok := en.Instantiate(cl, e1, e2, pair); ok {
			applicable = append(applicable, inst)
		}
	}
	en.logger.Debug("instantiated components for pair",
		zap.Int("pair", pair),
		zap.Int("applicable", len(applicable)),
		zap.Int("catalog", total))
	return combinations(applicable)
}

// combinations lists the subsets of items by increasing size, each size in
// lexicographic index order.
func combinations(items []Instantiation) [][]Instantiation {
	out := [][]Instantiation{nil}
	idx := make([]int, 0, len(items))
	for size := 1; size <= len(items); size++ {
		idx = idx[:0]
		for i := 0; i < size; i++ {
			idx = append(idx, i)
		}
		for {
			subset := make([]Instantiation, size)
			for i, j := range idx {
				subset[i] = items[j]
			}
			out = append(out, subset)

			i := size - 1
			for i >= 0 && idx[i] == len(items)-size+i {
				i--
			}
			if i < 0 {
				break
			}
			idx[i]++
			for j := i + 1; j < size; j++ {
				idx[j] = idx[j-1] + 1
			}
		}
	}
	return out
}

// Enumerate produces the deduplicated candidates of all templates, in
// template order and then product order. Invalid templates are
// configuration errors.
func (en *Enumerator) Enumerate(ctx context.Context, templates []Template) ([]Candidate, error) {
	ctx, span := otel.Tracer("usagesynth/synth").Start(ctx, "synth.Enumerate",
		trace.WithAttributes(attribute.Int("templates", len(templates))))
	defer span.End()

	for _, t := range templates {
		if err := t.Validate(en.mapper); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid template")
			return nil, err
		}
	}

	seen := make(map[string]bool)
	var out []Candidate
	produced := 0
	for _, t := range templates {
		before := len(out)
		err := en.enumerateTemplate(ctx, t, func(c Candidate) error {
			produced++
			if en.maxCandidates > 0 && produced > en.maxCandidates {
				return fmt.Errorf("%w: more than %d programs", ErrTooManyCandidates, en.maxCandidates)
			}
			if seen[c.key] {
				return nil
			}
			seen[c.key] = true
			c.Index = len(out)
			out = append(out, c)
			return nil
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "enumeration failed")
			return nil, err
		}
		en.logger.Info("enumerated candidates",
			zap.String("template", t.Name),
			zap.Int("candidates", len(out)-before))
	}

	span.SetAttributes(attribute.Int("produced", produced), attribute.Int("candidates", len(out)))
	return out, nil
}

func (en *Enumerator) enumerateTemplate(ctx context.Context, t Template, emit func(Candidate) error) error {
	var options [][][]Instantiation
	for i := 0; i+1 < len(t.Elements); i++ {
		e1, e2 := t.Elements[i], t.Elements[i+1]
		if en.samePoint(e1, e2) {
			en.logger.Debug("skipping same-point pair", zap.String("template", t.Name), zap.Int("pair", i))
			continue
		}
		options = append(options, en.Subsets(e1, e2, i))
	}

	var walk func(depth int, chosen *chain) error
	walk = func(depth int, chosen *chain) error {
		if depth == len(options) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return emit(en.build(t, chosen.slice()))
		}
		for _, subset := range options[depth] {
			next := chosen
			for _, inst := range subset {
				next = next.push(inst)
			}
			if err := walk(depth+1, next); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(0, nil)
}

// Build assembles the candidate program for a template and a chosen set.
func (en *Enumerator) Build(t Template, chosen []Instantiation) Candidate {
	return en.build(t, chosen)
}

func (en *Enumerator) build(t Template, chosen []Instantiation) Candidate {
	prog := en.header.WithRules(buildRules(t, chosen))
	return Candidate{
		Template: t.Name,
		Program:  prog,
		Chosen:   chosen,
		key:      datalog.CanonicalKey(prog),
	}
}
