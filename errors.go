package statesync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownVariable indicates a mutation or binding referenced an id that
	// was never defined on the store.
	ErrUnknownVariable = errors.New("statesync: unknown variable")
	// ErrDuplicateVariable indicates Define was called twice for the same id.
	ErrDuplicateVariable = errors.New("statesync: variable already defined")
	// ErrAmbiguousBinding indicates a variable was bound to more than one
	// source or storage provider.
	ErrAmbiguousBinding = errors.New("statesync: ambiguous provider binding")
	// ErrInvalidAction indicates an action outside add/remove/update/updateArray.
	ErrInvalidAction = errors.New("statesync: invalid action")
	// ErrElementIDRequired indicates updateArray was called without an element id.
	ErrElementIDRequired = errors.New("statesync: element id required")
	// ErrNotSequence indicates an element-level action targeted a variable that
	// does not hold a sequence.
	ErrNotSequence = errors.New("statesync: variable does not hold a sequence")
	// ErrPositionOutOfRange indicates a history rewind target outside [0, length).
	ErrPositionOutOfRange = errors.New("statesync: history position out of range")
)

// ConfigurationError reports a caller bug: unknown ids, ambiguous bindings or
// malformed mutation requests. It is never retried.
type ConfigurationError struct {
	VariableID string
	Reason     string
	Err        error
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := []string{"statesync: configuration"}
	if e.VariableID != "" {
		parts = append(parts, fmt.Sprintf("variable=%q", e.VariableID))
	}
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Err)
	}
	return strings.Join(parts, " ")
}

func (e *ConfigurationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func configError(id string, err error, reason string) error {
	return &ConfigurationError{VariableID: id, Reason: reason, Err: err}
}

// ProviderError captures a backend read/write/remove failure alongside the
// adapter metadata. Adapters log these; they never cross the Mutate boundary.
type ProviderError struct {
	Label      string
	Op         string
	Path       string
	VariableID string
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("statesync: %s provider %s %s variable=%q: %v", e.Label, e.Op, describePath(e.Path), e.VariableID, e.Err)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describePath(path string) string {
	if path == "" {
		return "path=<none>"
	}
	return fmt.Sprintf("path=%q", path)
}

// WrapProviderError returns err annotated with adapter metadata. Existing
// ProviderErrors are augmented in place rather than double wrapped.
func WrapProviderError(label, op, path, variableID string, err error) error {
	if err == nil {
		return nil
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.Label == "" {
			providerErr.Label = label
		}
		if providerErr.Op == "" {
			providerErr.Op = op
		}
		if providerErr.Path == "" {
			providerErr.Path = path
		}
		if providerErr.VariableID == "" {
			providerErr.VariableID = variableID
		}
		return providerErr
	}

	return &ProviderError{
		Label:      label,
		Op:         op,
		Path:       path,
		VariableID: variableID,
		Err:        err,
	}
}

// ValidationError reports a rejected history navigation. State is unchanged.
type ValidationError struct {
	Target int
	Length int
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("statesync: rewind target=%d length=%d: %v", e.Target, e.Length, e.Err)
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
