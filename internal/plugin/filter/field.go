package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/lcnomoto/cctailpipe/internal/plugin"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// FieldConfig holds field filter options.
type FieldConfig struct {
	// Path is the dot-path of the field to inspect, e.g. "message.role".
	Path string `json:"path"`

	// Op is the match operation: "exists" (default when no value given),
	// "equals", or "regex".
	Op string `json:"op,omitempty"`

	// Value is the comparison operand for equals/regex.
	Value string `json:"value,omitempty"`

	// Negate inverts the result.
	Negate bool `json:"negate,omitempty"`
}

// FieldFilter matches records on a single extracted field.
type FieldFilter struct {
	name string
	cfg  FieldConfig
	re   *regexp.Regexp
}

// NewFieldFilter constructs a field filter from JSON options.
func NewFieldFilter(name string, options []byte) (plugin.Filter, error) {
	var cfg FieldConfig
	if err := json.Unmarshal(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid field filter options: %w", err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("field filter requires a path")
	}
	if cfg.Op == "" {
		if cfg.Value == "" {
			cfg.Op = "exists"
		} else {
			cfg.Op = "equals"
		}
	}

	f := &FieldFilter{name: name, cfg: cfg}
	switch cfg.Op {
	case "exists", "equals":
	case "regex":
		re, err := regexp.Compile(cfg.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid field filter pattern: %w", err)
		}
		f.re = re
	default:
		return nil, fmt.Errorf("invalid field filter op: %s", cfg.Op)
	}

	return f, nil
}

// Name returns the instance name.
func (f *FieldFilter) Name() string { return f.name }

// Filter reports whether the record passes.
func (f *FieldFilter) Filter(_ context.Context, rec *types.Record) (bool, error) {
	v, found := lookupPath(rec.Data, f.cfg.Path)

	var matched bool
	switch f.cfg.Op {
	case "exists":
		matched = found
	case "equals":
		matched = found && stringify(v) == f.cfg.Value
	case "regex":
		matched = found && f.re.MatchString(stringify(v))
	}

	if f.cfg.Negate {
		return !matched, nil
	}
	return matched, nil
}
