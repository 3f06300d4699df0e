package statesync

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestRewindAndStepForward(t *testing.T) {
	s := newInlineStore(t)
	mustDefine(t, s, "v", 0)
	for _, value := range []int{1, 2, 3} {
		if err := s.Update("v")(value); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	if err := s.Rewind(1); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	if got := s.Read("v"); got != 2 {
		t.Fatalf("expected 2 after rewind, got %v", got)
	}
	if s.Position() != 1 {
		t.Fatalf("expected position 1, got %d", s.Position())
	}

	if err := s.StepForward(); err != nil {
		t.Fatalf("step forward: %v", err)
	}
	if got := s.Read("v"); got != 3 {
		t.Fatalf("expected 3 after step forward, got %v", got)
	}

	if err := s.Rewind(2); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	if got := s.Read("v"); got != 1 {
		t.Fatalf("expected 1 after rewind to 2, got %v", got)
	}
	if n := len(s.History()); n != 3 {
		t.Fatalf("replay must not append records, got %d", n)
	}
}

func TestRewindOutOfRangeLeavesStateUnchanged(t *testing.T) {
	var logged []LogEvent
	s := newInlineStore(t, WithLogger(LoggerFunc(func(e LogEvent) { logged = append(logged, e) })))
	mustDefine(t, s, "v", 0)
	if err := s.Update("v")(1); err != nil {
		t.Fatalf("update: %v", err)
	}

	for _, target := range []int{-1, 1, 5} {
		err := s.Rewind(target)
		var valErr *ValidationError
		if !errors.As(err, &valErr) || !errors.Is(err, ErrPositionOutOfRange) {
			t.Fatalf("target %d: expected ValidationError, got %v", target, err)
		}
		if valErr.Target != target || valErr.Length != 1 {
			t.Fatalf("unexpected error metadata: %+v", valErr)
		}
	}
	if got := s.Read("v"); got != 1 {
		t.Fatalf("expected state unchanged, got %v", got)
	}
	if s.Position() != 0 {
		t.Fatalf("expected position unchanged, got %d", s.Position())
	}
	historyErrors := 0
	for _, e := range logged {
		if e.Kind == LogKindHistory && e.Err != nil {
			historyErrors++
		}
	}
	if historyErrors != 3 {
		t.Fatalf("expected three logged history failures, got %d", historyErrors)
	}

	if err := s.StepForward(); !errors.Is(err, ErrPositionOutOfRange) {
		t.Fatalf("expected step forward at head to fail, got %v", err)
	}
}

func TestCapacityKeepsMostRecent(t *testing.T) {
	const capacity = 4
	s := newInlineStore(t, WithHistoryCapacity(capacity))
	mustDefine(t, s, "v", 0)
	for i := 1; i <= capacity+5; i++ {
		if err := s.Update("v")(i); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	records := s.History()
	if len(records) != capacity {
		t.Fatalf("expected %d records, got %d", capacity, len(records))
	}
	for i, record := range records {
		want := capacity + 5 - i
		if record.NewValue != want {
			t.Fatalf("record %d: expected new value %d, got %v", i, want, record.NewValue)
		}
	}
}

func TestDefaultCapacity(t *testing.T) {
	s := newInlineStore(t)
	mustDefine(t, s, "v", 0)
	for i := 1; i <= DefaultHistoryCapacity+5; i++ {
		if err := s.Update("v")(i); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	if n := len(s.History()); n != DefaultHistoryCapacity {
		t.Fatalf("expected %d records, got %d", DefaultHistoryCapacity, n)
	}
}

func TestMutationFromPastDiscardsFuture(t *testing.T) {
	s := newInlineStore(t)
	mustDefine(t, s, "v", 0)
	for _, value := range []int{1, 2, 3} {
		if err := s.Update("v")(value); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	if err := s.StepBack(); err != nil {
		t.Fatalf("step back: %v", err)
	}
	if err := s.Update("v")(9); err != nil {
		t.Fatalf("update: %v", err)
	}

	records := s.History()
	if len(records) != 3 || s.Position() != 0 {
		t.Fatalf("expected future discarded, got %d records at %d", len(records), s.Position())
	}
	if records[0].OldValue != 2 || records[0].NewValue != 9 {
		t.Fatalf("unexpected head record: %+v", records[0])
	}
	if err := s.StepForward(); err == nil {
		t.Fatalf("expected no future to step into")
	}
}

func TestReplayRestoresSequenceMembership(t *testing.T) {
	s := newInlineStore(t)
	mustDefine(t, s, "guests", []any{})
	add := s.Add("guests")
	for _, id := range []string{"g1", "g2", "g3"} {
		if err := add(map[string]any{"id": id}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := s.Remove("guests", "g2")(nil); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if err := s.StepBack(); err != nil {
		t.Fatalf("step back: %v", err)
	}
	want := []any{map[string]any{"id": "g1"}, map[string]any{"id": "g2"}, map[string]any{"id": "g3"}}
	if got := s.Read("guests"); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected removed element restored in place, got %v", got)
	}

	if err := s.Rewind(3); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	if got := s.Read("guests"); !reflect.DeepEqual(got, []any{map[string]any{"id": "g1"}}) {
		t.Fatalf("expected only first element, got %v", got)
	}
}

func TestReplayPersistsThroughStorage(t *testing.T) {
	rec := &storageRecorder{}
	s := newInlineStore(t)
	mustDefine(t, s, "theme", "light", WithStorage(rec.storage("flat-key-value")))
	for _, theme := range []string{"dark", "blue"} {
		if err := s.Update("theme")(theme); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	if err := s.StepBack(); err != nil {
		t.Fatalf("step back: %v", err)
	}
	if rec.writeCount() != 3 {
		t.Fatalf("expected replay to persist, got %d writes", rec.writeCount())
	}
	last := rec.writes[2]
	if last.Context != ContextHistoryReplay || last.Value != "dark" {
		t.Fatalf("unexpected replay write: %+v", last)
	}
}

func TestChangeRecordFields(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newInlineStore(t, WithClock(func() time.Time { return at }))
	mustDefine(t, s, "guests", []any{map[string]any{"id": "g1", "n": 1}})

	if err := s.Update("guests", "g1")(map[string]any{"id": "g1", "n": 2}); err != nil {
		t.Fatalf("updateArray: %v", err)
	}
	record := s.History()[0]
	if record.Action != ActionUpdateArray || record.ElementID != "g1" || record.Context != ContextApp {
		t.Fatalf("unexpected record: %+v", record)
	}
	if !record.Timestamp.Equal(at) {
		t.Fatalf("expected clock timestamp, got %v", record.Timestamp)
	}
	if !reflect.DeepEqual(record.NewValue, []any{map[string]any{"id": "g1", "n": 2}}) {
		t.Fatalf("expected full value snapshot, got %v", record.NewValue)
	}

	record.NewValue.([]any)[0].(map[string]any)["n"] = 99
	if s.History()[0].NewValue.([]any)[0].(map[string]any)["n"] != 2 {
		t.Fatalf("expected history copies detached from caller")
	}
}

func TestChangeLogAppendTruncatesFuture(t *testing.T) {
	log := NewChangeLog(3)
	for i := 0; i < 3; i++ {
		log.Append(ChangeRecord{VariableID: "v", OldValue: i, NewValue: i + 1})
	}
	if _, err := log.plan(2); err != nil {
		t.Fatalf("plan: %v", err)
	}
	log.Append(ChangeRecord{VariableID: "v", OldValue: 1, NewValue: 7})

	if log.Len() != 2 || log.Position() != 0 {
		t.Fatalf("expected truncated log, got len=%d pos=%d", log.Len(), log.Position())
	}
	if log.Records()[0].NewValue != 7 {
		t.Fatalf("expected new head record, got %+v", log.Records()[0])
	}
	if NewChangeLog(0).Capacity() != DefaultHistoryCapacity {
		t.Fatalf("expected default capacity for non-positive input")
	}
}
