package statesync

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrFunctionNotRegistered indicates a call to a name missing from the registry.
	ErrFunctionNotRegistered = errors.New("statesync: function not registered")
	// ErrDuplicateFunction indicates a second registration under the same name.
	ErrDuplicateFunction = errors.New("statesync: function already registered")
	// ErrFunctionPanicked indicates a registered function panicked during Call.
	ErrFunctionPanicked = errors.New("statesync: function panicked")
)

// Function is a custom function callable from expressions and from
// function-backed providers.
type Function func(args ...any) (any, error)

type registeredFunction struct {
	name string
	fn   Function
}

// FunctionRegistry stores custom functions. Lookups are case-insensitive;
// expressions see the name as registered.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]registeredFunction
}

// NewFunctionRegistry constructs an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{
		functions: make(map[string]registeredFunction),
	}
}

// Register stores fn under name guarding against duplicates.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	if fn == nil {
		return fmt.Errorf("statesync: function %q is nil", name)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("statesync: function name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.functions == nil {
		r.functions = make(map[string]registeredFunction)
	}
	key := strings.ToLower(name)
	if _, exists := r.functions[key]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateFunction, name)
	}
	r.functions[key] = registeredFunction{name: name, fn: fn}
	return nil
}

// MustRegister is Register for program setup; it panics on error.
func (r *FunctionRegistry) MustRegister(name string, fn Function) *FunctionRegistry {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
	return r
}

// Clone returns a shallow copy of the registry. Evaluators hold clones so
// later registrations do not leak into compiled programs.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &FunctionRegistry{
		functions: make(map[string]registeredFunction, len(r.functions)),
	}
	for key, entry := range r.functions {
		out.functions[key] = entry
	}
	return out
}

// Call executes the function registered for name. A panic inside the
// function is recovered and returned as ErrFunctionPanicked.
func (r *FunctionRegistry) Call(name string, args ...any) (result any, err error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %q (registry is nil)", ErrFunctionNotRegistered, name)
	}
	r.mu.RLock()
	entry, ok := r.functions[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFunctionNotRegistered, name)
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			result = nil
			err = fmt.Errorf("%w: %q: %v", ErrFunctionPanicked, entry.name, recovered)
		}
	}()
	return entry.fn(args...)
}

// Has reports whether name is registered.
func (r *FunctionRegistry) Has(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.functions[strings.ToLower(name)]
	return ok
}

// Names returns registered function names sorted alphabetically.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for _, entry := range r.functions {
		names = append(names, entry.name)
	}
	sort.Strings(names)
	return names
}
