package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Ledger records synthesis runs, their candidates and every evaluation in
// SQLite.
type Ledger struct {
	db   *sql.DB
	path string
}

// RunInfo describes a run when it starts.
type RunInfo struct {
	API       string
	Engine    string
	Templates int
	Samples   int
	Skipped   int // samples whose facts could not be extracted
}

// RunRecord is a stored run.
type RunRecord struct {
	ID         string
	API        string
	Engine     string
	Templates  int
	Samples    int
	Skipped    int
	Candidates int
	Status     string
	// Selected is the selected candidate index, or -1.
	Selected   int
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// CandidateRecord is one enumerated candidate.
type CandidateRecord struct {
	Index      int
	Template   string
	Text       string
	Components []string
	// ComponentLiterals is the specificity used for ranking.
	ComponentLiterals int
}

// EvaluationRecord is one (candidate, sample) evaluation.
type EvaluationRecord struct {
	Candidate   int
	Sample      string
	Status      string
	FailureKind string
	ExitCode    int // engine exit status, -1 when no process ran
	Duration    time.Duration
	Error       string
}

// RunResult closes a run.
type RunResult struct {
	Status     string
	Candidates int
	Selected   int
	Reason     string
}

// OpenLedger opens or creates the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, path: path}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// Path returns the database file path.
func (l *Ledger) Path() string { return l.path }

func (l *Ledger) initSchema() error {
	schema := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		api TEXT NOT NULL,
		engine TEXT NOT NULL,
		templates INTEGER NOT NULL,
		samples INTEGER NOT NULL,
		skipped INTEGER NOT NULL DEFAULT 0,
		candidates INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		selected INTEGER NOT NULL DEFAULT -1,
		reason TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS candidates (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		template TEXT NOT NULL,
		hash TEXT NOT NULL,
		components TEXT NOT NULL,
		component_literals INTEGER NOT NULL,
		PRIMARY KEY (run_id, idx),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS evaluations (
		run_id TEXT NOT NULL,
		candidate INTEGER NOT NULL,
		sample TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_kind TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT -1,
		error TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_run ON evaluations(run_id, candidate);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}
	_, err := runMigrations(l.db)
	return err
}

// BeginRun records a new run and returns its ID.
func (l *Ledger) BeginRun(ctx context.Context, info RunInfo) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, api, engine, templates, samples, skipped, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, info.API, info.Engine, info.Templates, info.Samples, info.Skipped, "running", formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// RecordCandidates stores the enumerated candidates of a run.
func (l *Ledger) RecordCandidates(ctx context.Context, runID string, cands []CandidateRecord) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO candidates (run_id, idx, template, hash, components, component_literals) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range cands {
		sum := sha256.Sum256([]byte(c.Text))
		if _, err := stmt.ExecContext(ctx, runID, c.Index, c.Template, hex.EncodeToString(sum[:]),
			strings.Join(c.Components, ","), c.ComponentLiterals); err != nil {
			return fmt.Errorf("failed to record candidate %d: %w", c.Index, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET candidates = ? WHERE id = ?`, len(cands), runID); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordEvaluation stores one evaluation.
func (l *Ledger) RecordEvaluation(ctx context.Context, runID string, e EvaluationRecord) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO evaluations (run_id, candidate, sample, status, failure_kind, exit_code, duration_ms, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, e.Candidate, e.Sample, e.Status, e.FailureKind, e.ExitCode, e.Duration.Milliseconds(), e.Error)
	if err != nil {
		return fmt.Errorf("failed to record evaluation: %w", err)
	}
	return nil
}

// FinishRun closes a run with its outcome.
func (l *Ledger) FinishRun(ctx context.Context, runID string, r RunResult) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, candidates = ?, selected = ?, reason = ?, finished_at = ? WHERE id = ?`,
		r.Status, r.Candidates, r.Selected, r.Reason, formatTime(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Run loads a run.
func (l *Ledger) Run(ctx context.Context, runID string) (RunRecord, error) {
	var r RunRecord
	var started, finished string
	err := l.db.QueryRowContext(ctx,
		`SELECT id, api, engine, templates, samples, skipped, candidates, status, selected, reason, started_at, finished_at FROM runs WHERE id = ?`,
		runID).Scan(&r.ID, &r.API, &r.Engine, &r.Templates, &r.Samples, &r.Skipped, &r.Candidates, &r.Status, &r.Selected, &r.Reason, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return RunRecord{}, err
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	return r, nil
}

// Evaluations lists the evaluations of a run ordered by candidate and
// sample.
func (l *Ledger) Evaluations(ctx context.Context, runID string) ([]EvaluationRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT candidate, sample, status, failure_kind, exit_code, duration_ms, error FROM evaluations WHERE run_id = ? ORDER BY candidate, sample`,
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EvaluationRecord
	for rows.Next() {
		var e EvaluationRecord
		var ms int64
		if err := rows.Scan(&e.Candidate, &e.Sample, &e.Status, &e.FailureKind, &e.ExitCode, &ms, &e.Error); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// CandidateHashes returns the content hash of every candidate of a run, in
// index order.
func (l *Ledger) CandidateHashes(ctx context.Context, runID string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT hash FROM candidates WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
