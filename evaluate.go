package statesync

import (
	"fmt"
	"strings"
	"time"
)

// Expression engine names.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

// EvalContext is the environment an expression runs against. Every snapshot
// key is exposed as a top-level identifier.
type EvalContext struct {
	Snapshot map[string]any
	Now      *time.Time
	Args     map[string]any
}

func (ctx EvalContext) withDefaults() EvalContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Snapshot == nil {
		ctx.Snapshot = map[string]any{}
	}
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	return ctx
}

func (ctx EvalContext) timestamp() time.Time {
	return *ctx.withDefaults().Now
}

// Evaluator executes expressions against an EvalContext.
type Evaluator interface {
	Engine() string
	Evaluate(ctx EvalContext, expr string) (any, error)
}

// EvaluatorOption configures an evaluator instance.
type EvaluatorOption func(*evaluatorConfig)

type evaluatorConfig struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// WithProgramCache reuses compiled programs across evaluations.
func WithProgramCache(cache ProgramCache) EvaluatorOption {
	return func(cfg *evaluatorConfig) {
		cfg.cache = cache
	}
}

// WithFunctionRegistry exposes registry functions to expressions, both by
// name and through call(name, args...).
func WithFunctionRegistry(registry *FunctionRegistry) EvaluatorOption {
	return func(cfg *evaluatorConfig) {
		if registry == nil {
			return
		}
		cfg.registry = registry.Clone()
	}
}

func applyEvaluatorOptions(opts []EvaluatorOption) evaluatorConfig {
	cfg := evaluatorConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// NewEvaluator returns the evaluator for engine. An empty engine selects expr.
func NewEvaluator(engine string, opts ...EvaluatorOption) (Evaluator, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineExpr:
		return NewExprEvaluator(opts...), nil
	case EngineCEL:
		return NewCELEvaluator(opts...), nil
	case EngineJS:
		if !jsEvaluatorAvailable() {
			return nil, fmt.Errorf("%w: %s requires the js_eval build tag", ErrEngineUnavailable, EngineJS)
		}
		return NewJSEvaluator(opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
}

// Evaluate runs expr against the current store snapshot and logs the
// attempt. variableID names the variable the result is destined for and
// only annotates errors and log events.
func (s *Store) Evaluate(evaluator Evaluator, expr, variableID string) (any, error) {
	if evaluator == nil {
		return nil, configError(variableID, ErrUnknownEngine, "no evaluator")
	}
	if strings.TrimSpace(expr) == "" {
		return nil, WrapEvaluationError(evaluator.Engine(), expr, variableID, ErrEmptyExpression)
	}
	now := s.cfg.clock()
	ctx := EvalContext{Snapshot: s.Snapshot(), Now: &now}
	start := time.Now()
	value, err := evaluator.Evaluate(ctx, expr)
	err = WrapEvaluationError(evaluator.Engine(), expr, variableID, err)
	s.cfg.logger.Log(LogEvent{
		Kind:       LogKindEval,
		VariableID: variableID,
		Label:      evaluator.Engine(),
		Op:         "evaluate",
		Expr:       expr,
		Duration:   time.Since(start),
		Err:        err,
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}
