package activity

import (
	"strings"
	"time"
)

// Verbs emitted for variable mutations.
const (
	VerbVariableAdded   = "variable.added"
	VerbVariableUpdated = "variable.updated"
	VerbVariableRemoved = "variable.removed"
)

// ObjectTypeVariable is the object type of variable events.
const ObjectTypeVariable = "variable"

// VariableEventInput describes one applied mutation.
type VariableEventInput struct {
	VariableID string
	Action     string
	Context    string
	ElementID  string
	OldValue   any
	NewValue   any
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildVariableEvent maps a mutation action onto its event verb. Element
// updates report as variable.updated.
func BuildVariableEvent(input VariableEventInput) Event {
	verb := VerbVariableUpdated
	switch input.Action {
	case "add":
		verb = VerbVariableAdded
	case "remove":
		verb = VerbVariableRemoved
	}

	metadata := cloneMap(input.Metadata)
	set := func(key string, value any) {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[key] = value
	}
	if input.Action != "" {
		set("action", input.Action)
	}
	if input.Context != "" {
		set("context", input.Context)
	}
	if input.ElementID != "" {
		set("element_id", input.ElementID)
	}
	if input.OldValue != nil {
		set("old_value", input.OldValue)
	}
	if input.NewValue != nil {
		set("new_value", input.NewValue)
	}

	return Event{
		Verb:       verb,
		ObjectType: ObjectTypeVariable,
		ObjectID:   strings.TrimSpace(input.VariableID),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}
