package formula

import (
	"errors"
	"fmt"
)

// Stage identifies which phase of evaluation failed.
type Stage string

const (
	// StageParse indicates the formula text failed to compile.
	StageParse Stage = "parse"
	// StageRun indicates a runtime failure (missing binding, bad operand).
	StageRun Stage = "run"
	// StageType indicates the result had an unexpected type.
	StageType Stage = "type"
)

// EvalError is the typed evaluation failure for the formula mini-language.
//
// The engine catches these at the node-runtime boundary, logs a FORMULA_ERROR
// activity entry carrying the offending formula text, and continues the tick.
type EvalError struct {
	Formula string // The offending formula text
	Stage   Stage  // Which phase failed
	Err     error  // Underlying cause
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	return fmt.Sprintf("formula %q: %s error: %v", e.Formula, e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EvalError) Unwrap() error {
	return e.Err
}

// IsEvalError returns true if the error is an EvalError.
// Uses errors.As to handle wrapped errors.
func IsEvalError(err error) bool {
	var ee *EvalError
	return errors.As(err, &ee)
}
