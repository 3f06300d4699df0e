package provider

import (
	"strings"
	"time"

	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/internal/hydrate"
)

// Flat adapts a KV backend. It always persists the variable's whole current
// value under one key, so element-level actions rewrite the full value.
type Flat struct {
	store     Store
	kv        KV
	namespace string
	codec     *hydrate.Codec
	cfg       config
}

// NewFlat returns the flat-key-value adapter. Keys are prefixed with
// namespace when it is not empty.
func NewFlat(store Store, kv KV, namespace string, opts ...Option) *Flat {
	return &Flat{
		store:     store,
		kv:        kv,
		namespace: strings.Trim(namespace, ":"),
		codec:     hydrate.Default,
		cfg:       applyOptions(store, opts),
	}
}

// Label returns the adapter's context tag.
func (f *Flat) Label() string { return LabelFlatKeyValue }

// Key returns the backend key for a resolved key.
func (f *Flat) Key(key string) string {
	if f.namespace == "" {
		return key
	}
	return f.namespace + ":" + key
}

// Source returns a source provider reading key.
func (f *Flat) Source(key string) statesync.Source {
	return statesync.Source{
		Label: LabelFlatKeyValue,
		Path:  key,
		Fetch: func(variableID, _ string) {
			resolved, ok := statesync.ResolvePath(key, f.store)
			if !ok {
				return
			}
			full := f.Key(resolved)
			ctx, cancel := f.cfg.callContext()
			defer cancel()
			start := time.Now()

			data, found, err := f.kv.Get(ctx, full)
			if err == nil && found {
				var value any
				value, err = f.codec.Decode(hydrate.Context{Key: full, VariableID: variableID}, data)
				if err == nil {
					f.cfg.report(LabelFlatKeyValue, "read", full, variableID, start, nil)
					f.cfg.mutateBack(f.store, LabelFlatKeyValue, full, variableID, value)
					return
				}
			}
			f.cfg.report(LabelFlatKeyValue, "read", full, variableID, start, err)
		},
	}
}

// Storage returns a storage provider persisting to key.
func (f *Flat) Storage(key string) statesync.Storage {
	return statesync.Storage{
		Label: LabelFlatKeyValue,
		Path:  key,
		Write: func(req statesync.StorageRequest) {
			if req.Context == LabelFlatKeyValue {
				return
			}
			f.persist(key, req.VariableID)
		},
		Remove: func(variableID, _ string) {
			f.persist(key, variableID)
		},
	}
}

// persist writes the variable's current value, deleting the key when the
// value has been cleared to nil.
func (f *Flat) persist(key, variableID string) {
	resolved, ok := statesync.ResolvePath(key, f.store)
	if !ok {
		return
	}
	full := f.Key(resolved)
	ctx, cancel := f.cfg.callContext()
	defer cancel()
	start := time.Now()

	value := f.store.Read(variableID)
	if value == nil {
		err := f.kv.Delete(ctx, full)
		f.cfg.report(LabelFlatKeyValue, "remove", full, variableID, start, err)
		return
	}
	data, err := f.codec.Encode(hydrate.Context{Key: full, VariableID: variableID}, value)
	if err == nil {
		err = f.kv.Put(ctx, full, data)
	}
	f.cfg.report(LabelFlatKeyValue, "write", full, variableID, start, err)
}
