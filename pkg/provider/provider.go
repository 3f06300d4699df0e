// Package provider implements the source, storage and removal adapters that
// bind store variables to backends. Every adapter resolves path placeholders
// before touching its backend, reports failures through the store Logger and
// tags the mutations it performs with its own label.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	statesync "github.com/goliatone/go-statesync"
)

// Kind names a backend family as written in declarative configuration.
type Kind string

const (
	KindRemoteDocument Kind = "remote"
	KindLocalIndexed   Kind = "local"
	KindFlatKeyValue   Kind = "flat"
	KindURL            Kind = "url"
	KindFunction       Kind = "function"
)

// Labels are the context tags adapters use for their own mutations.
const (
	LabelRemoteDocument = "remote-document"
	LabelLocalIndexed   = "local-indexed"
	LabelFlatKeyValue   = "flat-key-value"
	LabelURL            = "url"
	LabelFunction       = "function"
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{KindRemoteDocument, KindLocalIndexed, KindFlatKeyValue, KindURL, KindFunction}

// Label returns the context tag of kind.
func (k Kind) Label() string {
	switch k {
	case KindRemoteDocument:
		return LabelRemoteDocument
	case KindLocalIndexed:
		return LabelLocalIndexed
	case KindFlatKeyValue:
		return LabelFlatKeyValue
	case KindURL:
		return LabelURL
	case KindFunction:
		return LabelFunction
	default:
		return string(k)
	}
}

// CanStore reports whether kind can act as a storage provider. URL values are
// read-only.
func (k Kind) CanStore() bool {
	return k != KindURL
}

// ParseKind accepts either the configuration name or the label.
func ParseKind(value string) (Kind, error) {
	needle := strings.ToLower(strings.TrimSpace(value))
	for _, kind := range Kinds {
		if needle == string(kind) || needle == kind.Label() {
			return kind, nil
		}
	}
	return "", fmt.Errorf("provider: unknown kind %q", value)
}

// Store is the slice of *statesync.Store the adapters need.
type Store interface {
	statesync.Reader
	Mutate(id string, value any, context string, action statesync.Action, elementID string) error
	Snapshot() map[string]any
	Logger() statesync.Logger
}

// Option configures an adapter.
type Option func(*config)

type config struct {
	logger  statesync.Logger
	baseCtx context.Context
	timeout time.Duration
}

// WithLogger overrides the store Logger for one adapter.
func WithLogger(logger statesync.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithBaseContext sets the context backend calls derive from.
func WithBaseContext(ctx context.Context) Option {
	return func(c *config) {
		if ctx != nil {
			c.baseCtx = ctx
		}
	}
}

// WithTimeout bounds every backend call. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.timeout = timeout
	}
}

func applyOptions(store Store, opts []Option) config {
	cfg := config{baseCtx: context.Background()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		if store != nil && store.Logger() != nil {
			cfg.logger = store.Logger()
		} else {
			cfg.logger = statesync.NopLogger()
		}
	}
	return cfg
}

func (c config) callContext() (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(c.baseCtx, c.timeout)
	}
	return context.WithCancel(c.baseCtx)
}

// report logs the outcome of one backend call.
func (c config) report(label, op, path, variableID string, start time.Time, err error) {
	c.logger.Log(statesync.LogEvent{
		Kind:       statesync.LogKindProvider,
		VariableID: variableID,
		Label:      label,
		Op:         op,
		Path:       path,
		Duration:   time.Since(start),
		Err:        statesync.WrapProviderError(label, op, path, variableID, err),
	})
}

// mutateBack applies a fetched value through the store and logs rejections.
func (c config) mutateBack(store Store, label, path, variableID string, value any) {
	if err := store.Mutate(variableID, value, label, statesync.ActionUpdate, ""); err != nil {
		c.report(label, "mutate", path, variableID, time.Now(), err)
	}
}
