package statesync

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`<([^<>/]+)>`)

// ResolvePath substitutes every <variableId> placeholder in path with the
// referenced variable's current value. It reports false when any referenced
// value is nil or renders as an empty string, which callers treat as "path
// not ready, skip the I/O".
func ResolvePath(path string, store Reader) (string, bool) {
	if !strings.Contains(path, "<") {
		return path, true
	}
	if store == nil {
		return "", false
	}
	ready := true
	resolved := placeholderPattern.ReplaceAllStringFunc(path, func(token string) string {
		id := token[1 : len(token)-1]
		value := store.Read(id)
		if value == nil {
			ready = false
			return token
		}
		segment := stringify(value)
		if strings.TrimSpace(segment) == "" {
			ready = false
			return token
		}
		return segment
	})
	if !ready {
		return "", false
	}
	return resolved, true
}

// Placeholder returns the first variable id referenced by path.
func Placeholder(path string) (string, bool) {
	match := placeholderPattern.FindStringSubmatch(path)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// Placeholders returns every distinct variable id referenced by path, in
// order of appearance.
func Placeholders(path string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(path, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, match := range matches {
		if _, ok := seen[match[1]]; ok {
			continue
		}
		seen[match[1]] = struct{}{}
		out = append(out, match[1])
	}
	return out
}

// Segments splits path on "/" dropping empty segments.
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsDocumentPath reports whether path addresses a single record. An even
// number of segments addresses a record, an odd number a collection.
func IsDocumentPath(path string) bool {
	n := len(Segments(path))
	return n > 0 && n%2 == 0
}

// JoinPath joins segments with "/".
func JoinPath(segments ...string) string {
	var parts []string
	for _, segment := range segments {
		parts = append(parts, Segments(segment)...)
	}
	return strings.Join(parts, "/")
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
