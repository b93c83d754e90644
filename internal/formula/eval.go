// Package formula evaluates the restricted expression mini-language used by
// Queue aggregation, ProcessNode outputs, and FSM state actions.
//
// Formulas are small expressions over a flat binding environment, e.g.
//
//	inputA.data.value * 2 + inputB.data.value
//	count >= 3 && sum / count > 10.0
//
// Evaluation failures never panic: every failure is returned as a typed
// *EvalError so callers can log FORMULA_ERROR entries and continue the tick.
package formula

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultMaxLength bounds formula size. Scenario files are user-authored;
// an unbounded expression is almost always a mistake.
const DefaultMaxLength = 4096

// Evaluator compiles and runs formulas with a compiled-program cache.
// Expressions are compiled once per formula text and reused across ticks.
//
// Thread-safety: safe for concurrent use, though the engine's single-writer
// tick loop means calls are serialized in practice.
type Evaluator struct {
	mu       sync.RWMutex
	compiled map[string]*vm.Program

	// MaxLength limits formula size (default: DefaultMaxLength).
	MaxLength int
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		compiled:  make(map[string]*vm.Program),
		MaxLength: DefaultMaxLength,
	}
}

// Evaluate runs a formula against a binding environment.
//
// The environment maps input aliases to token views (see TokenBinding) and
// FSM variable names to their current values. Missing bindings surface as
// evaluation errors, not panics.
func (e *Evaluator) Evaluate(formulaText string, env map[string]any) (any, error) {
	if formulaText == "" {
		return nil, &EvalError{Formula: formulaText, Stage: StageParse, Err: fmt.Errorf("empty formula")}
	}
	if len(formulaText) > e.maxLength() {
		return nil, &EvalError{
			Formula: formulaText,
			Stage:   StageParse,
			Err:     fmt.Errorf("formula exceeds maximum length of %d characters", e.maxLength()),
		}
	}

	e.mu.RLock()
	prog, ok := e.compiled[formulaText]
	e.mu.RUnlock()

	if !ok {
		var err error
		prog, err = expr.Compile(formulaText, expr.Env(env))
		if err != nil {
			return nil, &EvalError{Formula: formulaText, Stage: StageParse, Err: err}
		}

		e.mu.Lock()
		e.compiled[formulaText] = prog
		e.mu.Unlock()
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return nil, &EvalError{Formula: formulaText, Stage: StageRun, Err: err}
	}

	return result, nil
}

// EvaluateNumber runs a formula and coerces the result to float64.
// Returns an EvalError with StageType if the result is not numeric.
func (e *Evaluator) EvaluateNumber(formulaText string, env map[string]any) (float64, error) {
	result, err := e.Evaluate(formulaText, env)
	if err != nil {
		return 0, err
	}

	n, ok := AsNumber(result)
	if !ok {
		return 0, &EvalError{
			Formula: formulaText,
			Stage:   StageType,
			Err:     fmt.Errorf("formula returned %T, expected number", result),
		}
	}
	return n, nil
}

// EvaluateBool runs a formula and coerces the result to bool.
// Numeric results are truthy when non-zero; strings when non-empty.
func (e *Evaluator) EvaluateBool(formulaText string, env map[string]any) (bool, error) {
	result, err := e.Evaluate(formulaText, env)
	if err != nil {
		return false, err
	}

	switch v := result.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		return v != "", nil
	case nil:
		return false, nil
	default:
		return false, &EvalError{
			Formula: formulaText,
			Stage:   StageType,
			Err:     fmt.Errorf("formula returned %T, expected bool", result),
		}
	}
}

// CachedPrograms returns the number of compiled programs held by the cache.
// Used for testing and diagnostics.
func (e *Evaluator) CachedPrograms() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

func (e *Evaluator) maxLength() int {
	if e.MaxLength > 0 {
		return e.MaxLength
	}
	return DefaultMaxLength
}

// AsNumber converts the numeric types expr can return into float64.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
