package filter

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/lcnomoto/cctailpipe/internal/plugin"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// SampleConfig holds sample filter options.
type SampleConfig struct {
	// PerSecond is the sustained pass rate in records per second.
	PerSecond float64 `json:"perSecond"`

	// Burst is the bucket depth; defaults to max(1, PerSecond).
	Burst int `json:"burst,omitempty"`
}

// SampleFilter passes records under a token-bucket rate and rejects the
// overflow. Useful in front of expensive outputs on chatty files.
type SampleFilter struct {
	name    string
	limiter *rate.Limiter
}

// NewSampleFilter constructs a sample filter from JSON options.
func NewSampleFilter(name string, options []byte) (plugin.Filter, error) {
	var cfg SampleConfig
	if err := json.Unmarshal(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid sample filter options: %w", err)
	}
	if cfg.PerSecond <= 0 {
		return nil, fmt.Errorf("sample filter requires a positive perSecond rate")
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.PerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}

	return &SampleFilter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst),
	}, nil
}

// Name returns the instance name.
func (f *SampleFilter) Name() string { return f.name }

// Filter reports whether the record fits in the current rate budget.
// Rejection is not an error; overflow records are filtered, not failed.
func (f *SampleFilter) Filter(_ context.Context, _ *types.Record) (bool, error) {
	return f.limiter.Allow(), nil
}
