package statesync

import (
	"time"

	"github.com/goliatone/go-statesync/pkg/activity"
)

// Action identifies the kind of mutation applied to a variable.
type Action string

const (
	// ActionAdd appends an element to a sequence-valued variable.
	ActionAdd Action = "add"
	// ActionRemove splices one element out, or clears the whole value when no
	// element id is given.
	ActionRemove Action = "remove"
	// ActionUpdate replaces the whole value.
	ActionUpdate Action = "update"
	// ActionUpdateArray replaces the element matching an element id in place.
	ActionUpdateArray Action = "updateArray"
)

// Valid reports whether a is one of the four supported actions.
func (a Action) Valid() bool {
	switch a {
	case ActionAdd, ActionRemove, ActionUpdate, ActionUpdateArray:
		return true
	default:
		return false
	}
}

// Context tags identify who requested a mutation. Provider adapters use their
// own label as the tag for mutations they perform.
const (
	ContextApp           = "app"
	ContextHistoryReplay = "history-replay"
	ContextInitialize    = "initialize"
	ContextDependency    = "dependency"
)

// SourceFunc fetches a variable's value from a backend and mutates it back
// into the store. It is invoked with the variable id and the triggering
// context tag.
type SourceFunc func(variableID, context string)

// StorageRequest carries one non-remove mutation to a storage provider.
type StorageRequest struct {
	VariableID string
	Action     Action
	// Value is the appended element for add, the replacement element for
	// updateArray and the whole value for update.
	Value     any
	Context   string
	ElementID string
}

// StorageFunc persists a mutation.
type StorageFunc func(StorageRequest)

// RemovalFunc persists a remove mutation. An empty elementID means the whole
// variable was cleared.
type RemovalFunc func(variableID, elementID string)

// ChangeHook runs after every mutation with the previous and current value.
type ChangeHook func(oldValue, newValue any, id string)

// Source binds a variable to one source provider.
type Source struct {
	Label string
	Path  string
	Fetch SourceFunc
}

// Storage binds a variable to one storage provider. Remove may be nil when
// the backend has no removal semantics.
type Storage struct {
	Label  string
	Path   string
	Write  StorageFunc
	Remove RemovalFunc
}

// ChangeRecord is one entry of the change history. OldValue and NewValue are
// snapshots of the whole variable value before and after the mutation.
type ChangeRecord struct {
	VariableID string    `json:"variable_id"`
	OldValue   any       `json:"old_value"`
	NewValue   any       `json:"new_value"`
	Action     Action    `json:"action"`
	ElementID  string    `json:"element_id,omitempty"`
	Context    string    `json:"context"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChangeAlert is delivered to dependency listeners when a variable that other
// provider paths reference has changed.
type ChangeAlert struct {
	VariableID string
	OldValue   any
	NewValue   any
	Action     Action
	Context    string
}

// Listener consumes dependency alerts.
type Listener func(ChangeAlert)

// Reader is the read-only view of the store used by path resolution and
// expression evaluation.
type Reader interface {
	Read(id string) any
}

// DefaultHistoryCapacity bounds the change log when no capacity is configured.
const DefaultHistoryCapacity = 10

// Option configures a Store.
type Option func(*storeConfig)

type storeConfig struct {
	logger     Logger
	dispatcher Dispatcher
	capacity   int
	clock      func() time.Time
	activity   *activity.Emitter
}

func applyOptions(opts []Option) storeConfig {
	cfg := storeConfig{
		capacity: DefaultHistoryCapacity,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = noopLogger{}
	}
	if cfg.dispatcher == nil {
		cfg.dispatcher = NewAsyncDispatcher()
	}
	if cfg.capacity <= 0 {
		cfg.capacity = DefaultHistoryCapacity
	}
	return cfg
}

// WithLogger attaches a Logger receiving mutation and history events.
func WithLogger(logger Logger) Option {
	return func(cfg *storeConfig) {
		cfg.logger = logger
	}
}

// WithDispatcher selects how provider calls are scheduled.
func WithDispatcher(d Dispatcher) Option {
	return func(cfg *storeConfig) {
		cfg.dispatcher = d
	}
}

// WithHistoryCapacity bounds the number of change records retained.
func WithHistoryCapacity(capacity int) Option {
	return func(cfg *storeConfig) {
		cfg.capacity = capacity
	}
}

// WithClock overrides the timestamp source used for change records.
func WithClock(clock func() time.Time) Option {
	return func(cfg *storeConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// VariableOption configures a variable at definition time.
type VariableOption func(*Variable)

// WithChangeHook sets the hook invoked after every mutation of the variable.
func WithChangeHook(hook ChangeHook) VariableOption {
	return func(v *Variable) {
		v.OnChange = hook
	}
}

// WithSource binds the variable's source provider at definition time.
func WithSource(source Source) VariableOption {
	return func(v *Variable) {
		s := source
		v.Source = &s
	}
}

// WithStorage binds the variable's storage provider at definition time.
func WithStorage(storage Storage) VariableOption {
	return func(v *Variable) {
		s := storage
		v.Storage = &s
	}
}
