package oracle

import (
	"fmt"

	"usagesynth/internal/facts"
	"usagesynth/internal/synth"
)

// PassPredicate decides from a detector's outputs whether it passed a
// sample.
type PassPredicate string

const (
	// PassLabeled: a correct (or unlabeled) sample passes when
	// correct_usage is non-empty and incorrect_usage is empty; an incorrect
	// sample passes when incorrect_usage is non-empty.
	PassLabeled PassPredicate = "labeled"
	// PassIncorrectNonEmpty passes any sample with a non-empty
	// incorrect_usage.
	PassIncorrectNonEmpty PassPredicate = "incorrect_nonempty"
	// PassCorrectOnly passes any sample with a non-empty correct_usage and
	// an empty incorrect_usage.
	PassCorrectOnly PassPredicate = "correct_only"
)

// ParsePassPredicate validates a predicate name. The empty string selects
// PassLabeled.
func ParsePassPredicate(s string) (PassPredicate, error) {
	switch p := PassPredicate(s); p {
	case "":
		return PassLabeled, nil
	case PassLabeled, PassIncorrectNonEmpty, PassCorrectOnly:
		return p, nil
	}
	return "", fmt.Errorf("unknown pass predicate %q (want labeled, incorrect_nonempty or correct_only)", s)
}

// Passes applies the predicate to the output directory of one evaluation.
// Missing output files are empty relations.
func (p PassPredicate) Passes(label Label, outDir string) (bool, error) {
	correctEmpty, err := facts.IsEmpty(outDir, synth.CorrectUsage)
	if err != nil {
		return false, err
	}
	incorrectEmpty, err := facts.IsEmpty(outDir, synth.IncorrectUsage)
	if err != nil {
		return false, err
	}
	return p.decide(label, !correctEmpty, !incorrectEmpty), nil
}

func (p PassPredicate) decide(label Label, correct, incorrect bool) bool {
	switch p {
	case PassIncorrectNonEmpty:
		return incorrect
	case PassCorrectOnly:
		return correct && !incorrect
	}
	if label == LabelIncorrect {
		return incorrect
	}
	return correct && !incorrect
}
