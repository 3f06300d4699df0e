package binding

import (
	"context"
	"errors"
	"fmt"

	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/pkg/provider"
)

// Providers supplies the backends a configuration may reference. Only the
// kinds in use need one.
type Providers struct {
	Remote    provider.Documents
	Local     provider.Documents
	Flat      provider.KV
	Location  provider.Location
	Functions *statesync.FunctionRegistry
	// Options are applied to every adapter.
	Options []provider.Option
}

// Resolution holds the adapters built for a store.
type Resolution struct {
	Remote   *provider.Hierarchical
	Local    *provider.Hierarchical
	Flat     *provider.Flat
	URL      *provider.URL
	Function *provider.Function
	// SchemaVersion is the local backend's schema version after collection
	// discovery, or zero when the backend keeps no marker.
	SchemaVersion int
	Collections   []string

	cancels []func()
}

// Close removes dependency listeners and cancels live subscriptions and
// navigation watches.
func (r *Resolution) Close() error {
	if r == nil {
		return nil
	}
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
	var errs []error
	if r.Remote != nil {
		errs = append(errs, r.Remote.Close())
	}
	if r.URL != nil {
		errs = append(errs, r.URL.Close())
	}
	return errors.Join(errs...)
}

// Resolve wires cfg into store. Variables are processed in id order, one
// phase at a time: defaults, storage providers, dependency alerts and
// change hooks, then source providers with one initializing fetch each.
// Storage is wired before any source runs because a fetch can immediately
// cause a write.
func Resolve(ctx context.Context, store *statesync.Store, cfg *Config, providers Providers) (*Resolution, error) {
	if cfg == nil {
		return nil, &statesync.ConfigurationError{Reason: "configuration is nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	res, err := newResolution(store, cfg, providers)
	if err != nil {
		return nil, err
	}
	ids := cfg.IDs()

	if init, ok := providers.Local.(provider.SchemaInitializer); ok && len(res.Collections) > 0 {
		version, err := init.EnsureCollections(ctx, res.Collections)
		if err != nil {
			return nil, fmt.Errorf("binding: initialize collections: %w", err)
		}
		res.SchemaVersion = version
	}

	for _, id := range ids {
		if err := store.Define(id, cfg.Variables[id].Default); err != nil {
			return nil, err
		}
	}

	for _, id := range ids {
		v := cfg.Variables[id]
		if v.Storage == nil {
			continue
		}
		storage, err := res.storage(v.Storage)
		if err != nil {
			return nil, &statesync.ConfigurationError{VariableID: id, Reason: "storage", Err: err}
		}
		if err := store.BindStorage(id, storage); err != nil {
			return nil, err
		}
	}

	for _, id := range ids {
		v := cfg.Variables[id]
		for _, ref := range v.References() {
			if err := store.MarkDependency(ref); err != nil {
				_ = res.Close()
				return nil, err
			}
			dependent := id
			res.cancels = append(res.cancels, store.Observe(ref, func(statesync.ChangeAlert) {
				_ = store.Fetch(dependent, statesync.ContextDependency)
			}))
		}
		if v.OnChange != "" {
			hook, err := res.changeHook(store, v.OnChange)
			if err != nil {
				_ = res.Close()
				return nil, &statesync.ConfigurationError{VariableID: id, Reason: "onChange", Err: err}
			}
			if err := store.SetChangeHook(id, hook); err != nil {
				_ = res.Close()
				return nil, err
			}
		}
	}

	for _, id := range ids {
		v := cfg.Variables[id]
		if v.Source == nil {
			continue
		}
		source, err := res.source(v.Source)
		if err != nil {
			_ = res.Close()
			return nil, &statesync.ConfigurationError{VariableID: id, Reason: "source", Err: err}
		}
		if err := store.BindSource(id, source); err != nil {
			_ = res.Close()
			return nil, err
		}
		if err := store.Fetch(id, statesync.ContextInitialize); err != nil {
			_ = res.Close()
			return nil, err
		}
	}
	return res, nil
}

func newResolution(store *statesync.Store, cfg *Config, providers Providers) (*Resolution, error) {
	res := &Resolution{Collections: cfg.Collections()}
	opts := providers.Options
	for _, kind := range cfg.Kinds() {
		switch kind {
		case provider.KindRemoteDocument:
			if providers.Remote == nil {
				return nil, missing(kind)
			}
			res.Remote = provider.NewRemote(store, providers.Remote, opts...)
		case provider.KindLocalIndexed:
			if providers.Local == nil {
				return nil, missing(kind)
			}
			res.Local = provider.NewLocal(store, providers.Local, opts...)
		case provider.KindFlatKeyValue:
			if providers.Flat == nil {
				return nil, missing(kind)
			}
			res.Flat = provider.NewFlat(store, providers.Flat, cfg.Namespace, opts...)
		case provider.KindURL:
			if providers.Location == nil {
				return nil, missing(kind)
			}
			res.URL = provider.NewURL(store, providers.Location, opts...)
		}
	}
	res.Function = provider.NewFunction(store, providers.Functions, opts...)
	return res, nil
}

func missing(kind provider.Kind) error {
	return &statesync.ConfigurationError{Reason: string(kind), Err: ErrMissingBackend}
}

func (r *Resolution) source(p *ProviderConfig) (statesync.Source, error) {
	kind, err := p.Kind()
	if err != nil {
		return statesync.Source{}, err
	}
	switch kind {
	case provider.KindRemoteDocument:
		return r.Remote.Source(p.Remote), nil
	case provider.KindLocalIndexed:
		return r.Local.Source(p.Local), nil
	case provider.KindFlatKeyValue:
		return r.Flat.Source(p.Flat), nil
	case provider.KindURL:
		return r.URL.Source(p.URL.Param), nil
	default:
		if p.Function.Name != "" && !r.Function.Registry().Has(p.Function.Name) {
			return statesync.Source{}, fmt.Errorf("%w: %q", statesync.ErrFunctionNotRegistered, p.Function.Name)
		}
		if p.Function.Expr != "" {
			if _, err := r.Function.Evaluator(p.Function.Engine); err != nil {
				return statesync.Source{}, err
			}
		}
		return r.Function.Source(p.functionSource()), nil
	}
}

func (r *Resolution) storage(p *ProviderConfig) (statesync.Storage, error) {
	kind, err := p.Kind()
	if err != nil {
		return statesync.Storage{}, err
	}
	switch kind {
	case provider.KindRemoteDocument:
		return r.Remote.Storage(p.Remote), nil
	case provider.KindLocalIndexed:
		return r.Local.Storage(p.Local), nil
	case provider.KindFlatKeyValue:
		return r.Flat.Storage(p.Flat), nil
	case provider.KindFunction:
		if !r.Function.Registry().Has(p.Function.Name) {
			return statesync.Storage{}, fmt.Errorf("%w: %q", statesync.ErrFunctionNotRegistered, p.Function.Name)
		}
		return r.Function.Storage(p.Function.Name), nil
	default:
		return statesync.Storage{}, ErrReadOnlyProvider
	}
}

// changeHook calls the registered function as fn(old, new, id). Failures
// are logged.
func (r *Resolution) changeHook(store *statesync.Store, name string) (statesync.ChangeHook, error) {
	registry := r.Function.Registry()
	if !registry.Has(name) {
		return nil, fmt.Errorf("%w: %q", statesync.ErrFunctionNotRegistered, name)
	}
	return func(oldValue, newValue any, id string) {
		if _, err := registry.Call(name, oldValue, newValue, id); err != nil {
			store.Logger().Log(statesync.LogEvent{
				Kind:       statesync.LogKindMutation,
				VariableID: id,
				Label:      "onChange",
				Op:         name,
				Err:        err,
			})
		}
	}, nil
}
