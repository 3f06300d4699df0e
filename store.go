package statesync

import (
	"fmt"
	"sort"
	"sync"

	"github.com/goliatone/go-statesync/internal/clone"
)

// Variable is a named, mutable slot with optional provider bindings.
type Variable struct {
	ID               string
	Value            any
	Source           *Source
	Storage          *Storage
	OnChange         ChangeHook
	AlertsDependents bool
}

// Store is the central registry of variables. Every value change funnels
// through Mutate; in-memory state is applied strictly in call order while
// provider work is dispatched without waiting.
type Store struct {
	mu        sync.Mutex
	variables map[string]*Variable
	log       *ChangeLog
	listeners map[string][]*listenerEntry
	nextID    uint64
	// refetch names the variable whose add is the newest record and still
	// awaits the source re-read that reports backend-assigned ids.
	refetch string

	cfg storeConfig
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// New constructs an empty Store.
func New(opts ...Option) *Store {
	cfg := applyOptions(opts)
	return &Store{
		variables: make(map[string]*Variable),
		log:       NewChangeLog(cfg.capacity),
		listeners: make(map[string][]*listenerEntry),
		cfg:       cfg,
	}
}

// Logger returns the logger configured on the store. Provider adapters report
// through it so that one sink sees mutations and I/O failures.
func (s *Store) Logger() Logger {
	return s.cfg.logger
}

// Dispatcher returns the dispatcher scheduling provider work.
func (s *Store) Dispatcher() Dispatcher {
	return s.cfg.dispatcher
}

// Wait blocks until dispatched provider work has drained, when the
// dispatcher supports it.
func (s *Store) Wait() {
	if w, ok := s.cfg.dispatcher.(waiter); ok {
		w.Wait()
	}
}

// Define registers a variable with its declared default. Variables live for
// the life of the store; they are never deleted.
func (s *Store) Define(id string, defaultValue any, opts ...VariableOption) error {
	if id == "" {
		return s.reportConfig(configError(id, nil, "variable id must not be empty"))
	}
	v := &Variable{ID: id, Value: normalizeValue(clone.Value(defaultValue))}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.variables[id]; exists {
		return s.reportConfig(configError(id, ErrDuplicateVariable, ""))
	}
	s.variables[id] = v
	return nil
}

// BindSource attaches a source provider. A variable accepts at most one.
func (s *Store) BindSource(id string, source Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[id]
	if !ok {
		return s.reportConfig(configError(id, ErrUnknownVariable, "bind source"))
	}
	if v.Source != nil {
		return s.reportConfig(configError(id, ErrAmbiguousBinding, fmt.Sprintf("source already bound to %q", v.Source.Label)))
	}
	src := source
	v.Source = &src
	return nil
}

// BindStorage attaches a storage provider. A variable accepts at most one.
func (s *Store) BindStorage(id string, storage Storage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[id]
	if !ok {
		return s.reportConfig(configError(id, ErrUnknownVariable, "bind storage"))
	}
	if v.Storage != nil {
		return s.reportConfig(configError(id, ErrAmbiguousBinding, fmt.Sprintf("storage already bound to %q", v.Storage.Label)))
	}
	st := storage
	v.Storage = &st
	return nil
}

// SetChangeHook replaces the variable's change hook.
func (s *Store) SetChangeHook(id string, hook ChangeHook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[id]
	if !ok {
		return s.reportConfig(configError(id, ErrUnknownVariable, "set change hook"))
	}
	v.OnChange = hook
	return nil
}

// MarkDependency flags id as referenced by another variable's provider path,
// so its changes broadcast dependency alerts.
func (s *Store) MarkDependency(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[id]
	if !ok {
		return s.reportConfig(configError(id, ErrUnknownVariable, "mark dependency"))
	}
	v.AlertsDependents = true
	return nil
}

// Observe registers fn for dependency alerts keyed by id. The returned
// function removes the registration.
func (s *Store) Observe(id string, fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	entry := &listenerEntry{id: s.nextID, fn: fn}
	s.listeners[id] = append(s.listeners[id], entry)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		entries := s.listeners[id]
		for i, e := range entries {
			if e.id == entry.id {
				s.listeners[id] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Read returns a copy of the variable's current value, or nil for unknown ids.
func (s *Store) Read(id string) any {
	value, _ := s.Lookup(id)
	return value
}

// Lookup returns a copy of the variable's current value and whether the id is
// defined.
func (s *Store) Lookup(id string) (any, bool) {
	s.mu.Lock()
	v, ok := s.variables[id]
	var value any
	if ok {
		value = v.Value
	}
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return clone.Value(value), true
}

// Has reports whether id is defined.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.variables[id]
	return ok
}

// IDs returns the defined variable ids sorted alphabetically.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.variables))
	for id := range s.variables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of every variable value keyed by id.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	out := make(map[string]any, len(s.variables))
	for id, v := range s.variables {
		out[id] = v.Value
	}
	s.mu.Unlock()
	return clone.Value(out)
}

// Fetch runs the variable's source provider through the dispatcher. It is a
// no-op for variables without a source.
func (s *Store) Fetch(id, context string) error {
	s.mu.Lock()
	v, ok := s.variables[id]
	var source *Source
	if ok {
		source = v.Source
	}
	s.mu.Unlock()
	if !ok {
		return s.reportConfig(configError(id, ErrUnknownVariable, "fetch"))
	}
	if source == nil || source.Fetch == nil {
		return nil
	}
	fetch := source.Fetch
	s.cfg.dispatcher.Dispatch(func() {
		fetch(id, context)
	})
	return nil
}

// Variable returns a copy of the variable's binding metadata.
func (s *Store) Variable(id string) (Variable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[id]
	if !ok {
		return Variable{}, false
	}
	out := *v
	out.Value = clone.Value(v.Value)
	return out, true
}

func (s *Store) reportConfig(err error) error {
	var id string
	if cfgErr, ok := err.(*ConfigurationError); ok {
		id = cfgErr.VariableID
	}
	s.cfg.logger.Log(LogEvent{Kind: LogKindConfig, VariableID: id, Err: err})
	return err
}
