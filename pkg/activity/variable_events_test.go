package activity

import "testing"

func TestBuildVariableEventVerbs(t *testing.T) {
	cases := map[string]string{
		"add":         VerbVariableAdded,
		"remove":      VerbVariableRemoved,
		"update":      VerbVariableUpdated,
		"updateArray": VerbVariableUpdated,
	}
	for action, verb := range cases {
		evt := BuildVariableEvent(VariableEventInput{VariableID: "guests", Action: action})
		if evt.Verb != verb {
			t.Fatalf("action %s: expected verb %s got %s", action, verb, evt.Verb)
		}
		if evt.ObjectType != ObjectTypeVariable || evt.ObjectID != "guests" {
			t.Fatalf("unexpected object fields: %+v", evt)
		}
	}
}

func TestBuildVariableEventMetadata(t *testing.T) {
	evt := BuildVariableEvent(VariableEventInput{
		VariableID: " guests ",
		Action:     "updateArray",
		Context:    "app",
		ElementID:  "g1",
		OldValue:   []any{"a"},
		NewValue:   []any{"b"},
		Metadata:   map[string]any{"namespace": "party"},
	})

	if evt.ObjectID != "guests" {
		t.Fatalf("expected trimmed object id, got %q", evt.ObjectID)
	}
	want := []string{"action", "context", "element_id", "old_value", "new_value", "namespace"}
	for _, key := range want {
		if _, ok := evt.Metadata[key]; !ok {
			t.Fatalf("expected metadata key %q in %+v", key, evt.Metadata)
		}
	}
	if evt.Metadata["element_id"] != "g1" {
		t.Fatalf("unexpected element id: %v", evt.Metadata["element_id"])
	}
}

func TestBuildVariableEventOmitsNilValues(t *testing.T) {
	evt := BuildVariableEvent(VariableEventInput{VariableID: "eventId", Action: "update", NewValue: "e1"})
	if _, ok := evt.Metadata["old_value"]; ok {
		t.Fatalf("expected nil old value omitted: %+v", evt.Metadata)
	}
	if evt.Metadata["new_value"] != "e1" {
		t.Fatalf("unexpected new value: %+v", evt.Metadata)
	}
}
