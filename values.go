package statesync

import (
	"fmt"
	"reflect"
)

// ElementIDKey is the field identifying elements of sequence values.
const ElementIDKey = "id"

// AsSequence converts any slice (other than []byte) into []any. Nil reports
// an empty sequence.
func AsSequence(value any) ([]any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, true
	case []any:
		return v, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func isSequence(value any) bool {
	if value == nil {
		return false
	}
	_, ok := AsSequence(value)
	return ok
}

// ElementID extracts the id field of a sequence element.
func ElementID(element any) (string, bool) {
	switch e := element.(type) {
	case map[string]any:
		id, ok := e[ElementIDKey]
		if !ok || id == nil {
			return "", false
		}
		return fmt.Sprint(id), true
	case map[string]string:
		id, ok := e[ElementIDKey]
		return id, ok && id != ""
	}
	rv := reflect.ValueOf(element)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		field := rv.FieldByName("ID")
		if field.IsValid() && field.CanInterface() {
			return fmt.Sprint(field.Interface()), true
		}
	}
	return "", false
}

func indexOfElement(seq []any, elementID string) int {
	for i, element := range seq {
		if id, ok := ElementID(element); ok && id == elementID {
			return i
		}
	}
	return -1
}

// normalizeValue stores slices as []any so element operations see one shape.
func normalizeValue(value any) any {
	if value == nil {
		return nil
	}
	if _, ok := value.([]byte); ok {
		return value
	}
	if reflect.ValueOf(value).Kind() == reflect.Slice {
		seq, _ := AsSequence(value)
		if seq == nil {
			return []any{}
		}
		return seq
	}
	return value
}

func emptyLike(value any) any {
	if isSequence(value) {
		return []any{}
	}
	return nil
}
