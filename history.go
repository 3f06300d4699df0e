package statesync

// ChangeLog is a bounded, newest-first sequence of change records with a
// cursor. Position 0 is the current state; records [0, position) are the
// undone "future", records [position, len) the past.
//
// ChangeLog is not safe for concurrent use; the Store guards it.
type ChangeLog struct {
	records  []ChangeRecord
	position int
	capacity int
}

// NewChangeLog returns an empty log holding at most capacity records.
func NewChangeLog(capacity int) *ChangeLog {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &ChangeLog{capacity: capacity}
}

// Append prepends record. When the cursor is in the past the undone future
// is discarded first.
func (l *ChangeLog) Append(record ChangeRecord) {
	if l.position > 0 {
		l.records = l.records[l.position:]
		l.position = 0
	}
	records := make([]ChangeRecord, 0, len(l.records)+1)
	records = append(records, record)
	records = append(records, l.records...)
	if len(records) > l.capacity {
		records = records[:l.capacity]
	}
	l.records = records
}

// amendNewest replaces the new value of the newest record.
func (l *ChangeLog) amendNewest(value any) {
	if len(l.records) == 0 {
		return
	}
	l.records[0].NewValue = value
}

// Len returns the number of retained records.
func (l *ChangeLog) Len() int {
	return len(l.records)
}

// Position returns the cursor.
func (l *ChangeLog) Position() int {
	return l.position
}

// Capacity returns the maximum number of retained records.
func (l *ChangeLog) Capacity() int {
	return l.capacity
}

// Records returns a copy of the records, newest first.
func (l *ChangeLog) Records() []ChangeRecord {
	out := make([]ChangeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// replayStep is a single value to restore while moving the cursor.
type replayStep struct {
	VariableID string
	Value      any
}

// plan validates target and returns the values to replay, in order, to move
// the cursor from its current position to target. The cursor is updated.
func (l *ChangeLog) plan(target int) ([]replayStep, error) {
	if target < 0 || target >= len(l.records) {
		return nil, &ValidationError{Target: target, Length: len(l.records), Err: ErrPositionOutOfRange}
	}
	var steps []replayStep
	switch {
	case target > l.position:
		for i := l.position; i < target; i++ {
			steps = append(steps, replayStep{VariableID: l.records[i].VariableID, Value: l.records[i].OldValue})
		}
	case target < l.position:
		for i := l.position - 1; i >= target; i-- {
			steps = append(steps, replayStep{VariableID: l.records[i].VariableID, Value: l.records[i].NewValue})
		}
	}
	l.position = target
	return steps, nil
}
