package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagesynth/internal/datalog"
)

func TestArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	a, err := NewArtifacts(dir)
	require.NoError(t, err)

	prog, err := datalog.Parse(`p(X) :- q(X).`)
	require.NoError(t, err)

	path, err := a.WriteCandidate(3, prog)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "synthe_program_3.dl"), path)

	path, err = a.WriteSat(3, prog)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sat_program_3.dl"), path)

	path, err = a.WriteFinal(prog)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FinalProgramFile), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, datalog.Render(prog), string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temporary files are left behind")
}

func TestArtifactsReset(t *testing.T) {
	dir := t.TempDir()
	a, err := NewArtifacts(dir)
	require.NoError(t, err)
	prog, err := datalog.Parse(`p(X) :- q(X).`)
	require.NoError(t, err)

	_, err = a.WriteCandidate(0, prog)
	require.NoError(t, err)
	_, err = a.WriteSat(0, prog)
	require.NoError(t, err)
	_, err = a.WriteFinal(prog)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.db"), nil, 0o644))

	require.NoError(t, a.Reset())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ledger.db", entries[0].Name())

	require.NoError(t, a.Reset(), "resetting an empty directory is a no-op")
}

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	id, err := l.BeginRun(ctx, RunInfo{API: "java.io.Writer.write", Engine: "mangle", Templates: 1, Samples: 2})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := l.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "running", run.Status)
	assert.Equal(t, -1, run.Selected)
	assert.False(t, run.StartedAt.IsZero())
	assert.True(t, run.FinishedAt.IsZero())

	require.NoError(t, l.RecordCandidates(ctx, id, []CandidateRecord{
		{Index: 0, Template: "t", Text: "a."},
		{Index: 1, Template: "t", Text: "b.", Components: []string{"precedes"}, ComponentLiterals: 1},
	}))
	hashes, err := l.CandidateHashes(ctx, id)
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	assert.NotEqual(t, hashes[0], hashes[1])

	require.NoError(t, l.RecordEvaluation(ctx, id, EvaluationRecord{Candidate: 1, Sample: "s2", Status: "passed", Duration: 15 * time.Millisecond}))
	require.NoError(t, l.RecordEvaluation(ctx, id, EvaluationRecord{Candidate: 1, Sample: "s1", Status: "error", FailureKind: "syntax", Error: "boom"}))

	evals, err := l.Evaluations(ctx, id)
	require.NoError(t, err)
	require.Len(t, evals, 2)
	assert.Equal(t, "s1", evals[0].Sample)
	assert.Equal(t, "syntax", evals[0].FailureKind)
	assert.Equal(t, 15*time.Millisecond, evals[1].Duration)

	require.NoError(t, l.FinishRun(ctx, id, RunResult{Status: "found", Candidates: 2, Selected: 1}))
	run, err = l.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "found", run.Status)
	assert.Equal(t, 1, run.Selected)
	assert.Equal(t, 2, run.Candidates)
	assert.False(t, run.FinishedAt.IsZero())
}

func TestLedgerUnknownRun(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	_, err := l.Run(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, l.FinishRun(ctx, "nope", RunResult{Status: "found"}), ErrRunNotFound)
}

func TestLedgerReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	l, err := OpenLedger(path)
	require.NoError(t, err)
	id, err := l.BeginRun(ctx, RunInfo{API: "a", Engine: "souffle"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = OpenLedger(path)
	require.NoError(t, err)
	defer l.Close()
	run, err := l.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "souffle", run.Engine)
}

func TestLedgerMigratesOldSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`
	CREATE TABLE runs (
		id TEXT PRIMARY KEY,
		api TEXT NOT NULL,
		engine TEXT NOT NULL,
		templates INTEGER NOT NULL,
		samples INTEGER NOT NULL,
		candidates INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		selected INTEGER NOT NULL DEFAULT -1,
		reason TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE evaluations (
		run_id TEXT NOT NULL,
		candidate INTEGER NOT NULL,
		sample TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_kind TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	l, err := OpenLedger(path)
	require.NoError(t, err)
	defer l.Close()

	for _, m := range ledgerMigrations {
		ok, err := columnExists(l.db, m.Table, m.Column)
		require.NoError(t, err)
		assert.True(t, ok, "%s.%s", m.Table, m.Column)
	}

	id, err := l.BeginRun(ctx, RunInfo{API: "a", Engine: "souffle", Templates: 1, Samples: 3, Skipped: 1})
	require.NoError(t, err)
	require.NoError(t, l.RecordEvaluation(ctx, id, EvaluationRecord{Candidate: 0, Sample: "s", Status: "error", FailureKind: "syntax", ExitCode: 1}))

	run, err := l.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Skipped)
	evals, err := l.Evaluations(ctx, id)
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, 1, evals[0].ExitCode)

	// A second open finds nothing to migrate.
	n, err := runMigrations(l.db)
	require.NoError(t, err)
	assert.Zero(t, n)
}
