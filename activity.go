package statesync

import (
	"context"

	"github.com/goliatone/go-statesync/pkg/activity"
)

// WithActivityHooks emits a variable event to hooks for every applied
// mutation. Nil hooks are dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	return WithActivityEmitter(activity.NewEmitter(hooks, activity.Config{Enabled: true}))
}

// WithActivityEmitter installs a preconfigured emitter, for callers that need
// actor or tenant defaults.
func WithActivityEmitter(emitter *activity.Emitter) Option {
	return func(cfg *storeConfig) {
		cfg.activity = emitter
	}
}

// emitActivity reports hook failures through the store Logger; they never
// affect the mutation.
func (s *Store) emitActivity(ctx context.Context, ch *change) {
	if !s.cfg.activity.Enabled() {
		return
	}
	event := activity.BuildVariableEvent(activity.VariableEventInput{
		VariableID: ch.id,
		Action:     string(ch.action),
		Context:    ch.context,
		ElementID:  ch.elementID,
		OldValue:   ch.oldValue,
		NewValue:   ch.newValue,
		OccurredAt: s.cfg.clock(),
	})
	if err := s.cfg.activity.Emit(ctx, event); err != nil {
		s.cfg.logger.Log(LogEvent{
			Kind:       LogKindMutation,
			VariableID: ch.id,
			Action:     ch.action,
			Context:    ch.context,
			Label:      "activity",
			Op:         "emit",
			Err:        err,
		})
	}
}
