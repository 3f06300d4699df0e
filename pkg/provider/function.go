package provider

import (
	"fmt"
	"strings"
	"sync"
	"time"

	statesync "github.com/goliatone/go-statesync"
)

// FunctionSource describes a custom-function source: either a registered
// function name or an expression evaluated against the store snapshot.
type FunctionSource struct {
	Name   string
	Expr   string
	Engine string
}

// String returns the name or expression, used as the provider path.
func (s FunctionSource) String() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Expr
}

// Function adapts a FunctionRegistry and the expression evaluators.
//
// A named source function is called as fn(variableID, snapshot) and its
// result, when not nil, becomes the variable value. A storage function is
// called as fn(variableID, value, context, action, elementID); a removal
// passes a nil value and the remove action.
type Function struct {
	store    Store
	registry *statesync.FunctionRegistry
	cache    statesync.ProgramCache
	cfg      config

	mu         sync.Mutex
	evaluators map[string]statesync.Evaluator
}

// NewFunction returns the custom-function adapter.
func NewFunction(store Store, registry *statesync.FunctionRegistry, opts ...Option) *Function {
	if registry == nil {
		registry = statesync.NewFunctionRegistry()
	}
	return &Function{
		store:      store,
		registry:   registry,
		cache:      statesync.NewProgramCache(),
		cfg:        applyOptions(store, opts),
		evaluators: make(map[string]statesync.Evaluator),
	}
}

// Label returns the adapter's context tag.
func (f *Function) Label() string { return LabelFunction }

// Registry returns the function registry the adapter calls into.
func (f *Function) Registry() *statesync.FunctionRegistry { return f.registry }

// Evaluator returns the cached evaluator for engine.
func (f *Function) Evaluator(engine string) (statesync.Evaluator, error) {
	key := strings.ToLower(strings.TrimSpace(engine))
	if key == "" {
		key = statesync.EngineExpr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if evaluator, ok := f.evaluators[key]; ok {
		return evaluator, nil
	}
	evaluator, err := statesync.NewEvaluator(key,
		statesync.WithFunctionRegistry(f.registry),
		statesync.WithProgramCache(f.cache),
	)
	if err != nil {
		return nil, err
	}
	f.evaluators[key] = evaluator
	return evaluator, nil
}

// Source returns a source provider computing the variable from src.
func (f *Function) Source(src FunctionSource) statesync.Source {
	return statesync.Source{
		Label: LabelFunction,
		Path:  src.String(),
		Fetch: func(variableID, _ string) {
			start := time.Now()
			value, err := f.compute(src, variableID)
			f.cfg.report(LabelFunction, "read", src.String(), variableID, start, err)
			if err != nil || value == nil {
				return
			}
			f.cfg.mutateBack(f.store, LabelFunction, src.String(), variableID, value)
		},
	}
}

func (f *Function) compute(src FunctionSource, variableID string) (any, error) {
	if src.Name != "" {
		return f.registry.Call(src.Name, variableID, f.store.Snapshot())
	}
	if src.Expr == "" {
		return nil, fmt.Errorf("function source for %q has neither name nor expression", variableID)
	}
	evaluator, err := f.Evaluator(src.Engine)
	if err != nil {
		return nil, err
	}
	value, err := evaluator.Evaluate(statesync.EvalContext{Snapshot: f.store.Snapshot()}, src.Expr)
	return value, statesync.WrapEvaluationError(evaluator.Engine(), src.Expr, variableID, err)
}

// Storage returns a storage provider calling the registered function name.
func (f *Function) Storage(name string) statesync.Storage {
	return statesync.Storage{
		Label: LabelFunction,
		Path:  name,
		Write: func(req statesync.StorageRequest) {
			if req.Context == LabelFunction {
				return
			}
			start := time.Now()
			_, err := f.registry.Call(name, req.VariableID, req.Value, req.Context, string(req.Action), req.ElementID)
			f.cfg.report(LabelFunction, "write", name, req.VariableID, start, err)
		},
		Remove: func(variableID, elementID string) {
			start := time.Now()
			_, err := f.registry.Call(name, variableID, nil, "", string(statesync.ActionRemove), elementID)
			f.cfg.report(LabelFunction, "remove", name, variableID, start, err)
		},
	}
}
