package statesync

// Target mirrors the fields of a UI input element that carry its value.
type Target struct {
	Type    string
	Value   any
	Checked bool
}

// InputEvent is the event shape accepted by the mutation wrappers.
type InputEvent struct {
	Target *Target
}

// ValueOf extracts the mutation value from input. Checkbox targets yield
// Checked, other targets yield Value, anything else is used as is.
func ValueOf(input any) any {
	var target *Target
	switch e := input.(type) {
	case InputEvent:
		target = e.Target
	case *InputEvent:
		if e == nil {
			return nil
		}
		target = e.Target
	default:
		return input
	}
	if target == nil {
		return input
	}
	if target.Type == "checkbox" {
		return target.Checked
	}
	return target.Value
}

// Add returns a handler appending the extracted value to a sequence variable.
func (s *Store) Add(id string) func(any) error {
	return func(input any) error {
		return s.Mutate(id, ValueOf(input), ContextApp, ActionAdd, "")
	}
}

// Update returns a handler replacing the variable value, or the element
// matching elementID when one is given.
func (s *Store) Update(id string, elementID ...string) func(any) error {
	element := first(elementID)
	return func(input any) error {
		if element != "" {
			return s.Mutate(id, ValueOf(input), ContextApp, ActionUpdateArray, element)
		}
		return s.Mutate(id, ValueOf(input), ContextApp, ActionUpdate, "")
	}
}

// Remove returns a handler removing the element matching elementID, or
// clearing the variable when none is given. The handler input is ignored.
func (s *Store) Remove(id string, elementID ...string) func(any) error {
	element := first(elementID)
	return func(any) error {
		return s.Mutate(id, nil, ContextApp, ActionRemove, element)
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
