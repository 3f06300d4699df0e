package statesync

import (
	"fmt"
	"sort"
	"strings"
)

// FieldDescriptor describes a dotted path inside a value and its inferred type.
type FieldDescriptor struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// VariableDescriptor summarizes a variable's current shape and bindings.
type VariableDescriptor struct {
	ID               string            `json:"id"`
	Type             string            `json:"type"`
	Source           string            `json:"source,omitempty"`
	SourcePath       string            `json:"source_path,omitempty"`
	Storage          string            `json:"storage,omitempty"`
	StoragePath      string            `json:"storage_path,omitempty"`
	AlertsDependents bool              `json:"alerts_dependents"`
	Listeners        int               `json:"listeners"`
	Fields           []FieldDescriptor `json:"fields,omitempty"`
}

// Describe returns a descriptor per variable, sorted by id.
func (s *Store) Describe() []VariableDescriptor {
	s.mu.Lock()
	out := make([]VariableDescriptor, 0, len(s.variables))
	for id, v := range s.variables {
		d := VariableDescriptor{
			ID:               id,
			Type:             typeName(v.Value),
			AlertsDependents: v.AlertsDependents,
			Listeners:        len(s.listeners[id]),
			Fields:           deriveFieldDescriptors(v.Value, ""),
		}
		if v.Source != nil {
			d.Source, d.SourcePath = v.Source.Label, v.Source.Path
		}
		if v.Storage != nil {
			d.Storage, d.StoragePath = v.Storage.Label, v.Storage.Path
		}
		out = append(out, d)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func deriveFieldDescriptors(value any, prefix string) []FieldDescriptor {
	switch typed := value.(type) {
	case nil:
		return nil
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var fields []FieldDescriptor
		for _, key := range keys {
			next := dotted(prefix, key)
			child := typed[key]
			if nested, ok := child.(map[string]any); ok && len(nested) > 0 {
				fields = append(fields, deriveFieldDescriptors(nested, next)...)
				continue
			}
			fields = append(fields, FieldDescriptor{Path: next, Type: typeName(child)})
		}
		return fields
	case []any:
		if len(typed) == 0 {
			return nil
		}
		// sequences describe the shape of their first element
		return deriveFieldDescriptors(typed[0], dotted(prefix, "[]"))
	default:
		return nil
	}
}

func typeName(value any) string {
	switch typed := value.(type) {
	case nil:
		return "nil"
	case []any:
		if len(typed) == 0 {
			return "[]any"
		}
		return "[]" + typeName(typed[0])
	default:
		return fmt.Sprintf("%T", value)
	}
}

func dotted(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return strings.Join([]string{prefix, segment}, ".")
}
