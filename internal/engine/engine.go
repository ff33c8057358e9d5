// Package engine defines the contract with the logic-evaluation engine that
// runs candidate programs against sample facts, and provides the Soufflé
// process backend.
package engine

import (
	"context"
	"fmt"
)

// Invocation is one evaluation: a self-contained program file, a directory
// of input fact files and a directory that receives one fact file per
// output relation.
type Invocation struct {
	ProgramPath string
	FactDir     string
	OutputDir   string

	// Inputs are the relations the program reads. Backends may create
	// empty fact files in FactDir for inputs the sample does not have.
	Inputs []string

	// Tags label the run in logs.
	Tags map[string]string
}

// Engine evaluates programs. Run returns nil when the engine produced its
// outputs; any other outcome is an error, usually a *Failure.
type Engine interface {
	Name() string
	Run(ctx context.Context, inv Invocation) error
}

// FailureKind classifies why an evaluation failed.
type FailureKind string

const (
	KindSyntax             FailureKind = "syntax"
	KindUngroundedVariable FailureKind = "ungrounded_variable"
	KindUndeclaredRelation FailureKind = "undeclared_relation"
	KindStratification     FailureKind = "stratification"
	KindTypeMismatch       FailureKind = "type_mismatch"
	KindMissingInput       FailureKind = "missing_input"
	KindTimeout            FailureKind = "timeout"
	KindCanceled           FailureKind = "canceled"
	KindStart              FailureKind = "start"
	KindUnknown            FailureKind = "unknown"
)

// Failure is a failed evaluation.
type Failure struct {
	Kind     FailureKind
	ExitCode int
	Stderr   string
	// Line is the program line the engine blamed, or 0.
	Line int
	Err  error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("engine failure (%s", f.Kind)
	if f.ExitCode != 0 {
		msg += fmt.Sprintf(", exit %d", f.ExitCode)
	}
	if f.Line > 0 {
		msg += fmt.Sprintf(", line %d", f.Line)
	}
	msg += ")"
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	} else if s := firstLine(f.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// KindOf returns the failure kind of err, or KindUnknown.
func KindOf(err error) FailureKind {
	var f *Failure
	if asFailure(err, &f) {
		return f.Kind
	}
	return KindUnknown
}
