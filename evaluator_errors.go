package statesync

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEngine indicates an expression engine name outside expr, cel and js.
	ErrUnknownEngine = errors.New("statesync: unknown expression engine")
	// ErrEngineUnavailable indicates the engine was compiled out of the binary.
	ErrEngineUnavailable = errors.New("statesync: expression engine unavailable")
	// ErrEmptyExpression indicates an empty expression string.
	ErrEmptyExpression = errors.New("statesync: expression must not be empty")
)

// EvaluationError captures evaluator metadata alongside the originating error.
type EvaluationError struct {
	Engine     string
	Expr       string
	VariableID string
	Err        error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	target := e.VariableID
	if target == "" {
		target = "<none>"
	}
	return fmt.Sprintf("statesync: %s evaluator %s variable=%s: %v", e.Engine, describeExpression(e.Expr), target, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describeExpression(expr string) string {
	if expr == "" {
		return "expr=<empty>"
	}
	return fmt.Sprintf("expr=%q", expr)
}

// WrapEvaluationError annotates err with evaluator metadata. Fields already
// set on an existing EvaluationError are kept.
func WrapEvaluationError(engine, expr, variableID string, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		if evalErr.Engine == "" {
			evalErr.Engine = engine
		}
		if evalErr.Expr == "" {
			evalErr.Expr = expr
		}
		if evalErr.VariableID == "" {
			evalErr.VariableID = variableID
		}
		return evalErr
	}

	return &EvaluationError{
		Engine:     engine,
		Expr:       expr,
		VariableID: variableID,
		Err:        err,
	}
}
