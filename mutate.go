package statesync

import (
	"context"
	"reflect"
	"time"

	"github.com/goliatone/go-statesync/internal/clone"
)

type change struct {
	id        string
	action    Action
	context   string
	elementID string
	payload   any
	oldValue  any
	newValue  any
	source    *Source
	storage   *Storage
	onChange  ChangeHook
	alerts    bool
	listeners []Listener
}

// Mutate is the single authorized mutation entry point.
//
// tag is the context label of the requester. elementID is required for
// updateArray, optional for remove (empty clears
// the whole value) and ignored otherwise. An update carrying a value equal to
// the current one is a no-op. Provider failures are reported through the
// store Logger and never returned.
func (s *Store) Mutate(id string, value any, tag string, action Action, elementID string) error {
	start := time.Now()
	ch, err := s.apply(id, value, tag, action, elementID)
	if err != nil {
		s.cfg.logger.Log(LogEvent{
			Kind:       LogKindMutation,
			VariableID: id,
			Action:     action,
			Context:    tag,
			Err:        err,
		})
		return err
	}
	if ch == nil {
		return nil
	}

	s.propagate(ch)

	s.cfg.logger.Log(LogEvent{
		Kind:       LogKindMutation,
		VariableID: id,
		Action:     action,
		Context:    tag,
		Duration:   time.Since(start),
	})
	return nil
}

// apply updates in-memory state and the change log under the lock. It
// returns nil when the mutation short-circuits.
func (s *Store) apply(id string, value any, tag string, action Action, elementID string) (*change, error) {
	if !action.Valid() {
		return nil, configError(id, ErrInvalidAction, string(action))
	}
	if action == ActionUpdateArray && elementID == "" {
		return nil, configError(id, ErrElementIDRequired, string(action))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.variables[id]
	if !ok {
		return nil, configError(id, ErrUnknownVariable, "mutate")
	}

	current := v.Value
	payload := normalizeValue(clone.Value(value))
	var next any

	switch action {
	case ActionUpdate:
		if reflect.DeepEqual(current, payload) {
			return nil, nil
		}
		next = payload
	case ActionAdd:
		seq, ok := AsSequence(current)
		if !ok {
			return nil, configError(id, ErrNotSequence, "add")
		}
		out := make([]any, 0, len(seq)+1)
		out = append(out, seq...)
		next = append(out, payload)
	case ActionUpdateArray:
		if current == nil {
			return nil, nil
		}
		seq, ok := AsSequence(current)
		if !ok {
			return nil, configError(id, ErrNotSequence, "updateArray")
		}
		idx := indexOfElement(seq, elementID)
		if idx < 0 {
			return nil, nil
		}
		if reflect.DeepEqual(seq[idx], payload) {
			return nil, nil
		}
		out := make([]any, len(seq))
		copy(out, seq)
		out[idx] = payload
		next = out
	case ActionRemove:
		if elementID == "" {
			next = emptyLike(current)
			break
		}
		if current == nil {
			return nil, nil
		}
		seq, ok := AsSequence(current)
		if !ok {
			return nil, configError(id, ErrNotSequence, "remove")
		}
		idx := indexOfElement(seq, elementID)
		if idx < 0 {
			return nil, nil
		}
		out := make([]any, 0, len(seq)-1)
		out = append(out, seq[:idx]...)
		next = append(out, seq[idx+1:]...)
	}

	v.Value = next

	switch {
	case tag == ContextHistoryReplay:
	case s.completesAdd(v, tag, action):
		// the re-read after an add belongs to the add's undo step
		s.log.amendNewest(clone.Value(next))
		s.refetch = ""
	default:
		s.log.Append(ChangeRecord{
			VariableID: id,
			OldValue:   clone.Value(current),
			NewValue:   clone.Value(next),
			Action:     action,
			ElementID:  elementID,
			Context:    tag,
			Timestamp:  s.cfg.clock(),
		})
		s.refetch = ""
		if action == ActionAdd && v.Source != nil && v.Storage != nil && v.Storage.Write != nil && tag != v.Storage.Label {
			s.refetch = id
		}
	}

	ch := &change{
		id:        id,
		action:    action,
		context:   tag,
		elementID: elementID,
		payload:   payload,
		oldValue:  clone.Value(current),
		newValue:  clone.Value(next),
		source:    v.Source,
		storage:   v.Storage,
		onChange:  v.OnChange,
		alerts:    v.AlertsDependents,
	}
	if ch.alerts && action != ActionRemove {
		for _, entry := range s.listeners[id] {
			ch.listeners = append(ch.listeners, entry.fn)
		}
	}
	return ch, nil
}

// completesAdd reports whether an update delivered by v's source is the
// re-read scheduled by the add recorded last.
func (s *Store) completesAdd(v *Variable, tag string, action Action) bool {
	return s.refetch == v.ID &&
		action == ActionUpdate &&
		v.Source != nil &&
		tag == v.Source.Label &&
		s.log.Position() == 0 &&
		s.log.Len() > 0
}

// propagate runs provider side effects, the change hook, activity hooks and
// dependency alerts outside the lock.
func (s *Store) propagate(ch *change) {
	switch ch.action {
	case ActionRemove:
		if ch.storage != nil && ch.storage.Remove != nil {
			remove := ch.storage.Remove
			id, elementID := ch.id, ch.elementID
			s.cfg.dispatcher.Dispatch(func() {
				remove(id, elementID)
			})
		}
	case ActionAdd:
		if ch.storage != nil && ch.storage.Write != nil && ch.context != ch.storage.Label {
			write := ch.storage.Write
			req := ch.storageRequest()
			var fetch SourceFunc
			if ch.source != nil {
				fetch = ch.source.Fetch
			}
			id, tag := ch.id, ch.context
			s.cfg.dispatcher.Dispatch(func() {
				write(req)
				// re-read so backend-assigned element ids reach the store
				if fetch != nil {
					fetch(id, tag)
				}
			})
		}
	default:
		if ch.storage != nil && ch.storage.Write != nil && ch.context != ch.storage.Label {
			write := ch.storage.Write
			req := ch.storageRequest()
			s.cfg.dispatcher.Dispatch(func() {
				write(req)
			})
		}
	}

	if ch.onChange != nil {
		ch.onChange(ch.oldValue, ch.newValue, ch.id)
	}

	s.emitActivity(context.Background(), ch)

	if len(ch.listeners) == 0 {
		return
	}
	alert := ChangeAlert{
		VariableID: ch.id,
		OldValue:   ch.oldValue,
		NewValue:   ch.newValue,
		Action:     ch.action,
		Context:    ch.context,
	}
	for _, fn := range ch.listeners {
		fn(alert)
	}
}

func (ch *change) storageRequest() StorageRequest {
	value := ch.payload
	if ch.action == ActionUpdate {
		value = ch.newValue
	}
	return StorageRequest{
		VariableID: ch.id,
		Action:     ch.action,
		Value:      clone.Value(value),
		Context:    ch.context,
		ElementID:  ch.elementID,
	}
}
