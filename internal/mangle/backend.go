// Package mangle evaluates candidate programs in process on Google Mangle.
// It implements the same engine contract as the Soufflé backend: a program
// file, an input fact directory and an output directory receiving one .csv
// file per output relation.
package mangle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"

	"usagesynth/internal/datalog"
	"usagesynth/internal/engine"
	"usagesynth/internal/facts"
)

// Backend is the embedded evaluation engine.
type Backend struct {
	resolver *datalog.IncludeResolver
	logger   *zap.Logger
}

// NewBackend creates the backend. Includes left in a program are resolved
// through resolver; a nil resolver gets a private one.
func NewBackend(resolver *datalog.IncludeResolver, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		r, err := datalog.NewIncludeResolver(0)
		if err != nil {
			return nil, err
		}
		resolver = r
	}
	return &Backend{resolver: resolver, logger: logger}, nil
}

func (b *Backend) Name() string { return "mangle" }

// Run evaluates the program at inv.ProgramPath. Mangle evaluation cannot be
// interrupted, so ctx is only checked before and after the fixpoint.
func (b *Backend) Run(ctx context.Context, inv engine.Invocation) error {
	if err := ctx.Err(); err != nil {
		return &engine.Failure{Kind: engine.KindCanceled, Err: err}
	}
	start := time.Now()

	data, err := os.ReadFile(inv.ProgramPath)
	if err != nil {
		return &engine.Failure{Kind: engine.KindMissingInput, Err: err}
	}
	prog, err := datalog.Parse(string(data))
	if err != nil {
		f := &engine.Failure{Kind: engine.KindSyntax, Err: err}
		var se *datalog.SyntaxError
		if errors.As(err, &se) {
			f.Line = se.Line
		}
		return f
	}
	if len(prog.Includes) > 0 {
		prog, err = b.resolver.Resolve(prog, filepath.Dir(inv.ProgramPath))
		if err != nil {
			return &engine.Failure{Kind: engine.KindMissingInput, Err: err}
		}
	}

	tr, err := Translate(prog)
	if err != nil {
		return &engine.Failure{Kind: engine.KindTypeMismatch, Err: err}
	}
	unit, err := parse.Unit(strings.NewReader(tr.Source))
	if err != nil {
		return &engine.Failure{Kind: engine.KindSyntax, Err: fmt.Errorf("mangle parse: %w", err)}
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return &engine.Failure{Kind: engine.Classify(err.Error()), Err: fmt.Errorf("mangle analysis: %w", err)}
	}

	store := factstore.NewSimpleInMemoryStore()
	loaded := 0
	for _, name := range prog.Inputs {
		n, err := loadRelation(store, prog, name, tr.Arities[name], inv.FactDir)
		if err != nil {
			return &engine.Failure{Kind: engine.KindTypeMismatch, Err: err}
		}
		loaded += n
	}

	if err := ctx.Err(); err != nil {
		return &engine.Failure{Kind: engine.KindCanceled, Err: err}
	}
	stats, err := mengine.EvalProgramWithStats(info, store)
	if err != nil {
		return &engine.Failure{Kind: engine.Classify(err.Error()), Err: fmt.Errorf("mangle eval: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		return &engine.Failure{Kind: engine.KindCanceled, Err: err}
	}

	if err := os.MkdirAll(inv.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	for _, name := range prog.Outputs {
		if err := writeRelation(store, name, tr.Arities[name], inv.OutputDir); err != nil {
			return err
		}
	}

	b.logger.Debug("mangle evaluation complete",
		zap.Int("input_facts", loaded),
		zap.Any("stats", stats),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// loadRelation adds the facts of one input relation, typed by its
// declaration. A missing fact file is an empty relation.
func loadRelation(store factstore.FactStore, prog datalog.Program, name string, arity int, dir string) (int, error) {
	tuples, err := facts.ReadRelation(dir, name)
	if err != nil {
		return 0, err
	}
	var types []datalog.Type
	if d, ok := prog.Decl(name); ok {
		types = d.Types()
	}
	for i, t := range tuples {
		if len(t) != arity {
			return 0, fmt.Errorf("%s tuple %d has %d fields, want %d", name, i+1, len(t), arity)
		}
		args := make([]ast.BaseTerm, len(t))
		for j, field := range t {
			if j < len(types) && types[j] == datalog.TypeNumber {
				n, err := strconv.ParseInt(field, 10, 64)
				if err != nil {
					return 0, fmt.Errorf("%s tuple %d field %d: %q is not a number", name, i+1, j+1, field)
				}
				args[j] = ast.Number(n)
				continue
			}
			args[j] = ast.String(field)
		}
		store.Add(ast.NewAtom(name, args...))
	}
	return len(tuples), nil
}

// writeRelation writes the derived tuples of name as a sorted .csv file.
func writeRelation(store factstore.FactStore, name string, arity int, dir string) error {
	var tuples []facts.Tuple
	err := store.GetFacts(ast.NewQuery(ast.PredicateSym{Symbol: name, Arity: arity}), func(a ast.Atom) error {
		t := make(facts.Tuple, len(a.Args))
		for i, arg := range a.Args {
			t[i] = constantText(arg)
		}
		tuples = append(tuples, t)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	sort.Slice(tuples, func(i, j int) bool {
		return strings.Join(tuples[i], "\t") < strings.Join(tuples[j], "\t")
	})
	return facts.WriteRelation(dir, name, ".csv", tuples)
}

func constantText(t ast.BaseTerm) string {
	c, ok := t.(ast.Constant)
	if !ok {
		return t.String()
	}
	switch c.Type {
	case ast.NumberType:
		return strconv.FormatInt(c.NumValue, 10)
	case ast.StringType:
		return c.Symbol
	}
	return c.String()
}
