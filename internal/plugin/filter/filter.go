// Package filter provides the built-in filter plugins. Each kind is
// registered with the plugin registry at wiring time via Register.
package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lcnomoto/cctailpipe/internal/plugin"
)

// Register adds the built-in filter kinds to the registry.
func Register(reg *plugin.Registry) error {
	if err := reg.RegisterFilterKind("keyword", NewKeywordFilter); err != nil {
		return fmt.Errorf("keyword filter registration: %w", err)
	}
	if err := reg.RegisterFilterKind("field", NewFieldFilter); err != nil {
		return fmt.Errorf("field filter registration: %w", err)
	}
	if err := reg.RegisterFilterKind("sample", NewSampleFilter); err != nil {
		return fmt.Errorf("sample filter registration: %w", err)
	}
	return nil
}

// lookupPath walks a dot-separated path ("a.b.0.c") through decoded JSON.
// Map keys and array indices are both supported.
func lookupPath(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}

	cur := data
	for _, part := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// stringify renders a field value the way it appears in the record text, so
// keyword matching behaves the same over extracted fields and raw lines.
func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}
