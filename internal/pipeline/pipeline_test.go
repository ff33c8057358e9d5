package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"usagesynth/internal/config"
	"usagesynth/internal/datalog"
	"usagesynth/internal/extract"
	"usagesynth/internal/logging"
	"usagesynth/internal/oracle"
	"usagesynth/internal/store"
	"usagesynth/internal/synth"
)

const api = "Foo.A"

const orderingRoles = `
predicates:
  - name: call
    roles: [call_signature, label, variable, in_method]
  - name: precedes
    roles: [call_signature, label, in_method, call_signature, label]
  - name: follows
    roles: [call_signature, label, in_method, call_signature, label]
components:
  - name: precedes
    side1: [0, 1, 2]
    side2: [3, 4]
  - name: follows
    side1: [0, 1, 2]
    side2: [3, 4]
`

const orderingLibrary = `
.decl call(sig:symbol, label:number, var:symbol, meth:symbol)
.decl flow(from:number, to:number, meth:symbol)
.input call
.input flow
.decl precedes(s1:symbol, l1:number, m:symbol, s2:symbol, l2:number)
.decl follows(s1:symbol, l1:number, m:symbol, s2:symbol, l2:number)
precedes(S1, L1, M, S2, L2) :- call(S1, L1, _, M), call(S2, L2, _, M), flow(L1, L2, M).
follows(S1, L1, M, S2, L2) :- call(S1, L1, _, M), call(S2, L2, _, M), flow(L2, L1, M).
`

const orderedCorpus = `
apis:
  Foo.A:
    - id: s1
      facts: samples/s1
      label: correct
    - id: s2
      facts: samples/s2
`

type workspace struct {
	root string
	cfg  *config.Config
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	root := t.TempDir()
	write(t, filepath.Join(root, "roles.yaml"), orderingRoles)
	write(t, filepath.Join(root, "ordering.dl"), orderingLibrary)
	write(t, filepath.Join(root, "samples", "s1", "call.facts"), "A\t1\tv\tm\nB\t2\tv\tm\n")
	write(t, filepath.Join(root, "samples", "s1", "flow.facts"), "1\t2\tm\n")
	write(t, filepath.Join(root, "samples", "s2", "call.facts"), "A\t5\tw\tn\nB\t9\tw\tn\n")
	write(t, filepath.Join(root, "samples", "s2", "flow.facts"), "5\t7\tn\n7\t9\tn\n5\t9\tn\n")

	cfg := config.DefaultConfig()
	cfg.Engine.Backend = config.BackendMangle
	cfg.Synthesis.RolesPath = filepath.Join(root, "roles.yaml")
	cfg.Synthesis.LibraryPath = filepath.Join(root, "ordering.dl")
	cfg.Evaluation.Workers = 2
	cfg.Evaluation.WorkDir = filepath.Join(root, "work")
	cfg.Storage.LedgerPath = filepath.Join(root, "ledger.db")
	return workspace{root: root, cfg: cfg}
}

func (w workspace) corpus(t *testing.T, text string) *oracle.Corpus {
	t.Helper()
	c, err := oracle.ParseCorpus([]byte(text), w.root)
	require.NoError(t, err)
	return c
}

func orderTemplate(t *testing.T) []synth.Template {
	t.Helper()
	e1, err := datalog.ParseLiteral(`call("A", L1, V, M)`)
	require.NoError(t, err)
	e2, err := datalog.ParseLiteral(`call("B", L2, V, M)`)
	require.NoError(t, err)
	return []synth.Template{{Name: "a-b", Elements: []datalog.Literal{e1, e2}}}
}

func newSynthesizer(t *testing.T, opts Options) *Synthesizer {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSynthesizeSelectsPrecedes(t *testing.T) {
	w := newWorkspace(t)
	core, logs := observer.New(zapcore.InfoLevel)
	s := newSynthesizer(t, Options{Config: w.cfg, Loggers: logging.NewLoggers(zap.New(core), nil)})
	assert.Equal(t, "mangle", s.Engine().Name())

	res, err := s.Synthesize(context.Background(), Request{
		API:       api,
		Templates: orderTemplate(t),
		Corpus:    w.corpus(t, orderedCorpus),
	})
	require.NoError(t, err)
	assert.Equal(t, w.root, res.CacheRoot)
	require.Len(t, res.Candidates, 4)
	require.Equal(t, oracle.Found, res.Outcome.Status)

	prog, ok := res.Program()
	require.True(t, ok)
	require.Len(t, res.Outcome.Selected.Chosen, 1)
	assert.Equal(t, "precedes", res.Outcome.Selected.Chosen[0].Component.Name)

	final, err := os.ReadFile(filepath.Join(w.root, store.FinalProgramFile))
	require.NoError(t, err)
	assert.Equal(t, datalog.Render(prog), string(final))
	assert.Equal(t, filepath.Join(w.root, store.FinalProgramFile), res.FinalPath)

	for i := range res.Candidates {
		assert.FileExists(t, filepath.Join(w.root, fmt.Sprintf("synthe_program_%d.dl", i)))
	}
	assert.FileExists(t, filepath.Join(w.root, "sat_program_0.dl"))
	assert.FileExists(t, filepath.Join(w.root, "sat_program_1.dl"))
	assert.NoFileExists(t, filepath.Join(w.root, "sat_program_2.dl"))

	ledger, err := store.OpenLedger(w.cfg.Storage.LedgerPath)
	require.NoError(t, err)
	defer ledger.Close()
	run, err := ledger.Run(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "found", run.Status)
	assert.Equal(t, 1, run.Selected)
	evals, err := ledger.Evaluations(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Len(t, evals, 8)

	assert.NotEmpty(t, logs.FilterMessage("wrote final program").All())
	assert.NotEmpty(t, logs.FilterLoggerName("enumerate").FilterMessage("enumerated candidates").All())
}

func TestSynthesizeDeterministic(t *testing.T) {
	w := newWorkspace(t)
	w.cfg.Storage.LedgerPath = ""
	s := newSynthesizer(t, Options{Config: w.cfg})
	req := Request{API: api, Templates: orderTemplate(t), Corpus: w.corpus(t, orderedCorpus)}

	first, err := s.Synthesize(context.Background(), req)
	require.NoError(t, err)
	second, err := s.Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Outcome.Selected.Text(), second.Outcome.Selected.Text())
}

func TestSynthesizeCoverageFailureWritesNoFinal(t *testing.T) {
	w := newWorkspace(t)
	write(t, filepath.Join(w.root, "samples", "lonely", "call.facts"), "A\t1\tv\tm\n")
	corpus := w.corpus(t, orderedCorpus+`    - id: lonely
      facts: samples/lonely
      label: correct
`)
	s := newSynthesizer(t, Options{Config: w.cfg})

	res, err := s.Synthesize(context.Background(), Request{API: api, Templates: orderTemplate(t), Corpus: corpus})
	require.NoError(t, err)
	assert.Equal(t, oracle.CoverageFailure, res.Outcome.Status)
	assert.ErrorIs(t, res.Outcome.Err(), oracle.ErrCoverageFailure)
	assert.Equal(t, []string{"lonely"}, res.Outcome.Uncovered)
	_, ok := res.Program()
	assert.False(t, ok)
	assert.Empty(t, res.FinalPath)
	assert.NoFileExists(t, filepath.Join(w.root, store.FinalProgramFile))
	assert.FileExists(t, filepath.Join(w.root, "sat_program_1.dl"))

	ledger, err := store.OpenLedger(w.cfg.Storage.LedgerPath)
	require.NoError(t, err)
	defer ledger.Close()
	run, err := ledger.Run(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "coverage_failure", run.Status)
	assert.Equal(t, -1, run.Selected)
	assert.Equal(t, oracle.ErrCoverageFailure.Error(), run.Reason)
}

func TestSynthesizeFailureRemovesEarlierFinal(t *testing.T) {
	w := newWorkspace(t)
	s := newSynthesizer(t, Options{Config: w.cfg})

	res, err := s.Synthesize(context.Background(), Request{API: api, Templates: orderTemplate(t), Corpus: w.corpus(t, orderedCorpus)})
	require.NoError(t, err)
	require.Equal(t, oracle.Found, res.Outcome.Status)
	require.FileExists(t, filepath.Join(w.root, store.FinalProgramFile))

	write(t, filepath.Join(w.root, "samples", "lonely", "call.facts"), "A\t1\tv\tm\n")
	corpus := w.corpus(t, orderedCorpus+`    - id: lonely
      facts: samples/lonely
      label: correct
`)
	res, err = s.Synthesize(context.Background(), Request{API: api, Templates: orderTemplate(t), Corpus: corpus})
	require.NoError(t, err)
	assert.Equal(t, oracle.CoverageFailure, res.Outcome.Status)
	assert.NoFileExists(t, filepath.Join(w.root, store.FinalProgramFile))
	for _, c := range res.Outcome.Retained {
		assert.FileExists(t, filepath.Join(w.root, fmt.Sprintf("sat_program_%d.dl", c.Index)))
	}
}

func TestSynthesizeErrors(t *testing.T) {
	w := newWorkspace(t)
	s := newSynthesizer(t, Options{Config: w.cfg})
	corpus := w.corpus(t, orderedCorpus)

	_, err := s.Synthesize(context.Background(), Request{API: api, Corpus: corpus})
	assert.ErrorContains(t, err, "no usage templates")

	_, err = s.Synthesize(context.Background(), Request{API: "Bar.B", Templates: orderTemplate(t), Corpus: corpus})
	assert.ErrorIs(t, err, oracle.ErrUnknownAPI)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Synthesize(ctx, Request{API: api, Templates: orderTemplate(t), Corpus: corpus})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, filepath.Join(w.root, store.FinalProgramFile))
}

type fakeExtractor struct {
	records map[string][]extract.Record
	calls   int
}

func (f *fakeExtractor) Extract(_ context.Context, req extract.Request) ([]extract.Record, error) {
	f.calls++
	recs, ok := f.records[filepath.Base(req.Source)]
	if !ok {
		return nil, errors.New("parse error")
	}
	return recs, nil
}

func TestResolveSamplesExtracts(t *testing.T) {
	w := newWorkspace(t)
	fx := &fakeExtractor{records: map[string][]extract.Record{
		"Good.java": {
			{Relation: "call", Args: []any{"A", int64(1), "v", "m"}},
			{Relation: "flow", Args: []any{int64(1), int64(2), "m"}},
		},
	}}
	corpus := w.corpus(t, `
cache_root: cache
apis:
  Foo.A:
    - id: good
      source: src/Good.java
      line: 3
    - id: bad
      source: src/Bad.java
      line: 7
`)
	core, logs := observer.New(zapcore.InfoLevel)
	s := newSynthesizer(t, Options{Config: w.cfg, Extractor: fx, Loggers: logging.NewLoggers(zap.New(core), nil)})

	samples, skipped, err := s.ResolveSamples(context.Background(), api, corpus)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, skipped)
	require.Len(t, samples, 1)
	want := filepath.Join(w.root, "cache", "Foo.A", "good", "facts")
	assert.Equal(t, want, samples[0].FactDir)
	assert.FileExists(t, filepath.Join(want, "call.facts"))
	assert.Len(t, logs.FilterMessage("failed to extract sample facts, skipping sample").All(), 1)

	// Extracted facts are reused.
	_, _, err = s.ResolveSamples(context.Background(), api, corpus)
	require.NoError(t, err)
	assert.Equal(t, 3, fx.calls)
}

func TestResolveSamplesWithoutExtractor(t *testing.T) {
	w := newWorkspace(t)
	corpus := w.corpus(t, `
cache_root: cache
apis:
  Foo.A:
    - source: src/Good.java
      line: 3
`)
	s := newSynthesizer(t, Options{Config: w.cfg})
	samples, skipped, err := s.ResolveSamples(context.Background(), api, corpus)
	require.NoError(t, err)
	assert.Empty(t, samples)
	assert.Equal(t, []string{"sample_0"}, skipped)

	_, err = s.Synthesize(context.Background(), Request{API: api, Templates: orderTemplate(t), Corpus: corpus})
	assert.ErrorContains(t, err, "no usable samples")
}

func TestEvaluateProgram(t *testing.T) {
	w := newWorkspace(t)
	s := newSynthesizer(t, Options{Config: w.cfg})
	path := filepath.Join(w.root, "detector.dl")
	write(t, path, `#include "ordering.dl"
.decl correct_usage(sig:symbol, label:number, var:symbol, meth:symbol)
.decl incorrect_usage(sig:symbol, label:number, var:symbol, meth:symbol)
.output correct_usage
.output incorrect_usage
correct_usage("A", L1, V, M) :- call("A", L1, V, M), call("B", L2, V, M), precedes("A", L1, M, "B", L2).
incorrect_usage("A", L1, V, M) :- call("A", L1, V, M), !precedes("A", L1, M, "B", _).
`)

	ev, err := s.Evaluate(context.Background(), path, api, w.corpus(t, orderedCorpus))
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Result.Total)
	assert.Equal(t, []string{"s1", "s2"}, ev.Result.Passed)

	_, err = s.Evaluate(context.Background(), filepath.Join(w.root, "missing.dl"), api, w.corpus(t, orderedCorpus))
	assert.Error(t, err)
}

func TestEnumerateMaterializesDefaultLibrary(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.Backend = config.BackendMangle
	s := newSynthesizer(t, Options{Config: cfg})
	e1, err := datalog.ParseLiteral(`call("java.io.Writer.write", L1, V, M)`)
	require.NoError(t, err)
	e2, err := datalog.ParseLiteral(`call("java.io.Writer.flush", L2, V, M)`)
	require.NoError(t, err)

	root := t.TempDir()
	cands, err := s.Enumerate(context.Background(), []synth.Template{{Name: "w", Elements: []datalog.Literal{e1, e2}}}, root)
	require.NoError(t, err)
	assert.NotEmpty(t, cands)
	assert.FileExists(t, filepath.Join(root, "lib", synth.DefaultLibraryFile))
}

func TestNewEngine(t *testing.T) {
	cfg := config.DefaultConfig()
	eng, err := NewEngine(cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "souffle", eng.Name())

	cfg.Engine.Backend = "prolog"
	_, err = NewEngine(cfg, nil, nil)
	assert.Error(t, err)
	_, err = New(Options{Config: cfg})
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestNewEngineWarnsOnMangleTimeout(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	loggers := logging.NewLoggers(zap.New(core), nil)

	cfg := config.DefaultConfig()
	cfg.Engine.Backend = config.BackendMangle
	eng, err := NewEngine(cfg, nil, loggers)
	require.NoError(t, err)
	assert.Equal(t, "mangle", eng.Name())
	warned := logs.FilterMessageSnippet("timeout is not enforced")
	require.Equal(t, 1, warned.Len())
	assert.Equal(t, "engine", warned.All()[0].LoggerName)
	assert.Equal(t, 5*time.Minute, warned.All()[0].ContextMap()["timeout"])

	cfg.Engine.Backend = config.BackendSouffle
	_, err = NewEngine(cfg, nil, loggers)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Len(), "souffle enforces the timeout itself")
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "java.io.Writer.write_int_", sanitize("java.io.Writer.write(int)"))
	assert.Equal(t, "a_b", sanitize("a/b"))
}

func TestSynthesizeSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	w := newWorkspace(t)
	w.cfg.Storage.LedgerPath = ""
	s := newSynthesizer(t, Options{Config: w.cfg})
	_, err := s.Synthesize(context.Background(), Request{API: api, Templates: orderTemplate(t), Corpus: w.corpus(t, orderedCorpus)})
	require.NoError(t, err)

	counts := make(map[string]int)
	for _, span := range sr.Ended() {
		counts[span.Name()]++
	}
	assert.Equal(t, 1, counts["pipeline.Synthesize"])
	assert.Equal(t, 1, counts["synth.Enumerate"])
	assert.Equal(t, 1, counts["oracle.Evaluate"])
	assert.Equal(t, 8, counts["oracle.unit"])
}
