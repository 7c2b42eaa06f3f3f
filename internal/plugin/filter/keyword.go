package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lcnomoto/cctailpipe/internal/plugin"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// KeywordConfig holds keyword filter options.
type KeywordConfig struct {
	// Keywords are the substrings to look for.
	Keywords []string `json:"keywords"`

	// Mode is "include" (pass on match, default) or "exclude" (reject on
	// match).
	Mode string `json:"mode,omitempty"`

	// Field optionally restricts matching to one dot-path field instead
	// of the whole raw line.
	Field string `json:"field,omitempty"`

	// CaseSensitive disables the default case-insensitive matching.
	CaseSensitive bool `json:"caseSensitive,omitempty"`
}

// KeywordFilter passes or rejects records on substring matches.
type KeywordFilter struct {
	name     string
	cfg      KeywordConfig
	keywords []string
}

// NewKeywordFilter constructs a keyword filter from JSON options.
func NewKeywordFilter(name string, options []byte) (plugin.Filter, error) {
	var cfg KeywordConfig
	if err := json.Unmarshal(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid keyword filter options: %w", err)
	}
	if len(cfg.Keywords) == 0 {
		return nil, fmt.Errorf("keyword filter requires at least one keyword")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = "include"
	case "include", "exclude":
	default:
		return nil, fmt.Errorf("invalid keyword filter mode: %s", cfg.Mode)
	}

	keywords := make([]string, len(cfg.Keywords))
	for i, k := range cfg.Keywords {
		if cfg.CaseSensitive {
			keywords[i] = k
		} else {
			keywords[i] = strings.ToLower(k)
		}
	}

	return &KeywordFilter{name: name, cfg: cfg, keywords: keywords}, nil
}

// Name returns the instance name.
func (f *KeywordFilter) Name() string { return f.name }

// Filter reports whether the record passes.
func (f *KeywordFilter) Filter(_ context.Context, rec *types.Record) (bool, error) {
	haystack := rec.Raw
	if f.cfg.Field != "" {
		v, ok := lookupPath(rec.Data, f.cfg.Field)
		if !ok {
			// A record without the field never matches a keyword.
			return f.cfg.Mode == "exclude", nil
		}
		haystack = stringify(v)
	}
	if !f.cfg.CaseSensitive {
		haystack = strings.ToLower(haystack)
	}

	matched := false
	for _, k := range f.keywords {
		if strings.Contains(haystack, k) {
			matched = true
			break
		}
	}

	if f.cfg.Mode == "exclude" {
		return !matched, nil
	}
	return matched, nil
}
