// Package store persists synthesis results: the .dl artifacts written under
// the corpus cache root and an SQLite ledger of runs for auditing.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"usagesynth/internal/datalog"
)

const (
	// FinalProgramFile is the name of the selected detector.
	FinalProgramFile = "final_sat_program.dl"

	candidateFormat = "synthe_program_%d.dl"
	satFormat       = "sat_program_%d.dl"
)

var resultPatterns = []string{"synthe_program_*.dl", "sat_program_*.dl", FinalProgramFile}

// Artifacts writes program files into one directory.
type Artifacts struct {
	dir string
}

// NewArtifacts creates dir if needed.
func NewArtifacts(dir string) (*Artifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &Artifacts{dir: dir}, nil
}

// Dir returns the artifact directory.
func (a *Artifacts) Dir() string { return a.dir }

// CandidatePath is where candidate index is written.
func (a *Artifacts) CandidatePath(index int) string {
	return filepath.Join(a.dir, fmt.Sprintf(candidateFormat, index))
}

// SatPath is where retained candidate index is written.
func (a *Artifacts) SatPath(index int) string {
	return filepath.Join(a.dir, fmt.Sprintf(satFormat, index))
}

// FinalPath is where the selected detector is written.
func (a *Artifacts) FinalPath() string {
	return filepath.Join(a.dir, FinalProgramFile)
}

// Reset removes the programs of an earlier run so that the directory only
// ever shows the results of the current one.
func (a *Artifacts) Reset() error {
	for _, pattern := range resultPatterns {
		matches, err := filepath.Glob(filepath.Join(a.dir, pattern))
		if err != nil {
			return err
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove stale artifact: %w", err)
			}
		}
	}
	return nil
}

// WriteCandidate persists an enumerated candidate.
func (a *Artifacts) WriteCandidate(index int, p datalog.Program) (string, error) {
	return a.write(a.CandidatePath(index), p)
}

// WriteSat persists a candidate that met the pass ratio.
func (a *Artifacts) WriteSat(index int, p datalog.Program) (string, error) {
	return a.write(a.SatPath(index), p)
}

// WriteFinal persists the selected detector.
func (a *Artifacts) WriteFinal(p datalog.Program) (string, error) {
	return a.write(a.FinalPath(), p)
}

// write replaces path atomically so that readers never see a partial
// program.
func (a *Artifacts) write(path string, p datalog.Program) (string, error) {
	tmp, err := os.CreateTemp(a.dir, ".tmp-*.dl")
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(datalog.Render(p)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
