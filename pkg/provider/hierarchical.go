package provider

import (
	"fmt"
	"sync"
	"time"

	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/internal/clone"
)

// Hierarchical adapts a Documents backend. The remote-document and
// local-indexed kinds share it; only the remote kind keeps live
// subscriptions.
type Hierarchical struct {
	kind  Kind
	label string
	store Store
	docs  Documents
	subs  Subscriber
	cfg   config

	mu            sync.Mutex
	subscriptions map[string]*subscription
	closed        bool
}

type subscription struct {
	path   string
	cancel func()
}

// NewRemote returns the remote-document adapter. When docs implements
// Subscriber every source keeps a live subscription to its resolved path.
func NewRemote(store Store, docs Documents, opts ...Option) *Hierarchical {
	h := newHierarchical(KindRemoteDocument, store, docs, opts)
	if sub, ok := docs.(Subscriber); ok {
		h.subs = sub
	}
	return h
}

// NewLocal returns the local-indexed adapter. It never subscribes; paths with
// placeholders are re-read through dependency alerts.
func NewLocal(store Store, docs Documents, opts ...Option) *Hierarchical {
	return newHierarchical(KindLocalIndexed, store, docs, opts)
}

func newHierarchical(kind Kind, store Store, docs Documents, opts []Option) *Hierarchical {
	return &Hierarchical{
		kind:          kind,
		label:         kind.Label(),
		store:         store,
		docs:          docs,
		cfg:           applyOptions(store, opts),
		subscriptions: make(map[string]*subscription),
	}
}

// Kind returns the adapter kind.
func (h *Hierarchical) Kind() Kind { return h.kind }

// Label returns the adapter's context tag.
func (h *Hierarchical) Label() string { return h.label }

// Source returns a source provider reading path.
func (h *Hierarchical) Source(path string) statesync.Source {
	return statesync.Source{
		Label: h.label,
		Path:  path,
		Fetch: func(variableID, _ string) {
			h.fetch(path, variableID)
		},
	}
}

// Storage returns a storage provider persisting to path.
func (h *Hierarchical) Storage(path string) statesync.Storage {
	return statesync.Storage{
		Label: h.label,
		Path:  path,
		Write: func(req statesync.StorageRequest) {
			h.write(path, req)
		},
		Remove: func(variableID, elementID string) {
			h.remove(path, variableID, elementID)
		},
	}
}

func (h *Hierarchical) fetch(path, variableID string) {
	resolved, ok := statesync.ResolvePath(path, h.store)
	if !ok {
		return
	}
	if h.subs != nil {
		h.subscribe(resolved, variableID)
	}

	ctx, cancel := h.cfg.callContext()
	defer cancel()
	start := time.Now()

	if statesync.IsDocumentPath(resolved) {
		record, found, err := h.docs.Get(ctx, resolved)
		h.cfg.report(h.label, "read", resolved, variableID, start, err)
		if err != nil || !found {
			return
		}
		h.cfg.mutateBack(h.store, h.label, resolved, variableID, record.Data)
		return
	}

	records, err := h.docs.List(ctx, resolved)
	h.cfg.report(h.label, "read", resolved, variableID, start, err)
	if err != nil {
		return
	}
	h.cfg.mutateBack(h.store, h.label, resolved, variableID, recordsValue(records))
}

// subscribe keeps one subscription per variable, re-targeting it when the
// resolved path changes.
func (h *Hierarchical) subscribe(resolved, variableID string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if current, ok := h.subscriptions[variableID]; ok {
		if current.path == resolved {
			h.mu.Unlock()
			return
		}
		current.cancel()
		delete(h.subscriptions, variableID)
	}
	entry := &subscription{path: resolved, cancel: func() {}}
	h.subscriptions[variableID] = entry
	h.mu.Unlock()

	document := statesync.IsDocumentPath(resolved)
	start := time.Now()
	cancel, err := h.subs.Subscribe(h.cfg.baseCtx, resolved, func(records []Record) {
		h.deliver(entry, variableID, document, records)
	})
	h.cfg.report(h.label, "subscribe", resolved, variableID, start, err)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		if h.subscriptions[variableID] == entry {
			delete(h.subscriptions, variableID)
		}
		return
	}
	if h.subscriptions[variableID] != entry || h.closed {
		cancel()
		return
	}
	entry.cancel = cancel
}

func (h *Hierarchical) deliver(entry *subscription, variableID string, document bool, records []Record) {
	h.mu.Lock()
	active := h.subscriptions[variableID] == entry
	h.mu.Unlock()
	if !active {
		return
	}
	if document {
		if len(records) == 0 {
			return
		}
		h.cfg.mutateBack(h.store, h.label, entry.path, variableID, records[0].Data)
		return
	}
	h.cfg.mutateBack(h.store, h.label, entry.path, variableID, recordsValue(records))
}

// Subscriptions returns the resolved path of every live subscription keyed
// by variable id.
func (h *Hierarchical) Subscriptions() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.subscriptions))
	for id, entry := range h.subscriptions {
		out[id] = entry.path
	}
	return out
}

// Close cancels every live subscription.
func (h *Hierarchical) Close() error {
	h.mu.Lock()
	entries := h.subscriptions
	h.subscriptions = make(map[string]*subscription)
	h.closed = true
	h.mu.Unlock()
	for _, entry := range entries {
		entry.cancel()
	}
	return nil
}

func (h *Hierarchical) write(path string, req statesync.StorageRequest) {
	if req.Context == h.label {
		return
	}
	resolved, ok := statesync.ResolvePath(path, h.store)
	if !ok {
		return
	}
	ctx, cancel := h.cfg.callContext()
	defer cancel()
	start := time.Now()

	var err error
	op := "write"
	if statesync.IsDocumentPath(resolved) {
		data, isRecord := recordData(req.Value)
		switch {
		case req.Action != statesync.ActionUpdate:
			err = fmt.Errorf("%s on a document path", req.Action)
		case !isRecord:
			err = fmt.Errorf("document value must be an object, got %T", req.Value)
		default:
			err = h.docs.Set(ctx, resolved, data)
		}
		h.cfg.report(h.label, op, resolved, req.VariableID, start, err)
		return
	}

	switch req.Action {
	case statesync.ActionAdd:
		op = "add"
		data, isRecord := recordData(req.Value)
		if !isRecord {
			err = fmt.Errorf("collection element must be an object, got %T", req.Value)
			break
		}
		_, err = h.docs.Add(ctx, resolved, data)
	case statesync.ActionUpdateArray:
		data, isRecord := recordData(req.Value)
		if !isRecord {
			err = fmt.Errorf("collection element must be an object, got %T", req.Value)
			break
		}
		err = h.docs.Set(ctx, statesync.JoinPath(resolved, req.ElementID), data)
	case statesync.ActionUpdate:
		op = "sync"
		err = h.syncCollection(resolved, req.Value)
	}
	h.cfg.report(h.label, op, resolved, req.VariableID, start, err)
}

// syncCollection makes the collection mirror a whole-sequence value: records
// carrying an id are set, records without one are added and stored records
// absent from the value are deleted.
func (h *Hierarchical) syncCollection(collection string, value any) error {
	seq, ok := statesync.AsSequence(value)
	if !ok {
		return fmt.Errorf("collection value must be a sequence, got %T", value)
	}
	ctx, cancel := h.cfg.callContext()
	defer cancel()

	existing, err := h.docs.List(ctx, collection)
	if err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(seq))
	for _, element := range seq {
		data, isRecord := recordData(element)
		if !isRecord {
			return fmt.Errorf("collection element must be an object, got %T", element)
		}
		if id, ok := statesync.ElementID(element); ok {
			keep[id] = struct{}{}
			if err := h.docs.Set(ctx, statesync.JoinPath(collection, id), data); err != nil {
				return err
			}
			continue
		}
		if _, err := h.docs.Add(ctx, collection, data); err != nil {
			return err
		}
	}
	for _, record := range existing {
		if _, ok := keep[record.ID]; ok {
			continue
		}
		if err := h.docs.Delete(ctx, statesync.JoinPath(collection, record.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hierarchical) remove(path, variableID, elementID string) {
	resolved, ok := statesync.ResolvePath(path, h.store)
	if !ok {
		return
	}
	ctx, cancel := h.cfg.callContext()
	defer cancel()
	start := time.Now()

	var err error
	switch {
	case statesync.IsDocumentPath(resolved):
		err = h.docs.Delete(ctx, resolved)
	case elementID != "":
		err = h.docs.Delete(ctx, statesync.JoinPath(resolved, elementID))
	default:
		err = h.syncCollection(resolved, []any{})
	}
	h.cfg.report(h.label, "remove", resolved, variableID, start, err)
}

// recordsValue converts records into the sequence value the store holds,
// tagging each element with its backend id.
func recordsValue(records []Record) []any {
	out := make([]any, 0, len(records))
	for _, record := range records {
		data := clone.Value(record.Data)
		if data == nil {
			data = map[string]any{}
		}
		data[statesync.ElementIDKey] = record.ID
		out = append(out, data)
	}
	return out
}

// recordData returns a copy of value without its id field.
func recordData(value any) (map[string]any, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	out := clone.Value(m)
	if out == nil {
		out = map[string]any{}
	}
	delete(out, statesync.ElementIDKey)
	return out, true
}
