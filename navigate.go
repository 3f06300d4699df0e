package statesync

import (
	"fmt"
	"time"

	"github.com/goliatone/go-statesync/internal/clone"
)

// Rewind moves the history cursor to target, replaying recorded values
// through Mutate with the history-replay context. Moving to a higher
// position restores older states. An out-of-range target returns a
// ValidationError and leaves state unchanged.
func (s *Store) Rewind(target int) error {
	start := time.Now()
	s.mu.Lock()
	from := s.log.Position()
	steps, err := s.log.plan(target)
	if err == nil {
		s.refetch = ""
	}
	s.mu.Unlock()
	if err != nil {
		s.cfg.logger.Log(LogEvent{Kind: LogKindHistory, Op: "rewind", Err: err})
		return err
	}

	for _, step := range steps {
		if err := s.Mutate(step.VariableID, step.Value, ContextHistoryReplay, ActionUpdate, ""); err != nil {
			s.cfg.logger.Log(LogEvent{Kind: LogKindHistory, VariableID: step.VariableID, Op: "replay", Err: err})
		}
	}

	s.cfg.logger.Log(LogEvent{
		Kind:     LogKindHistory,
		Op:       "rewind",
		Path:     historyMove(from, target),
		Duration: time.Since(start),
	})
	return nil
}

// StepBack restores the state before the most recent applied change.
func (s *Store) StepBack() error {
	return s.Rewind(s.Position() + 1)
}

// StepForward re-applies the most recently undone change.
func (s *Store) StepForward() error {
	return s.Rewind(s.Position() - 1)
}

// History returns the retained change records, newest first.
func (s *Store) History() []ChangeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone.Value(s.log.Records())
}

// Position returns the history cursor; 0 is the current state.
func (s *Store) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Position()
}

func historyMove(from, to int) string {
	return fmt.Sprintf("%d->%d", from, to)
}
