package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/lcnomoto/cctailpipe/internal/plugin"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// ConsoleConfig holds console output options.
type ConsoleConfig struct {
	// Stream is "stdout" (default) or "stderr".
	Stream string `json:"stream,omitempty"`

	// IncludeSource prefixes each line with "path:line".
	IncludeSource bool `json:"includeSource,omitempty"`
}

// ConsoleOutput writes each record as one JSON line to a standard stream.
type ConsoleOutput struct {
	name string
	cfg  ConsoleConfig
	mu   sync.Mutex
	w    io.Writer
}

// NewConsoleOutput constructs a console output from JSON options.
func NewConsoleOutput(name string, options []byte) (plugin.Output, error) {
	var cfg ConsoleConfig
	if err := json.Unmarshal(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid console output options: %w", err)
	}

	var w io.Writer
	switch cfg.Stream {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		return nil, fmt.Errorf("invalid console output stream: %s", cfg.Stream)
	}

	return &ConsoleOutput{name: name, cfg: cfg, w: w}, nil
}

// Name returns the instance name.
func (o *ConsoleOutput) Name() string { return o.name }

// Send writes the record.
func (o *ConsoleOutput) Send(_ context.Context, rec *types.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cfg.IncludeSource {
		if _, err := fmt.Fprintf(o.w, "%s:%d ", rec.Path, rec.Line); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	if _, err := fmt.Fprintf(o.w, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Close is a no-op; the process owns the stream.
func (o *ConsoleOutput) Close() error { return nil }

// SetWriter redirects output. Used in tests.
func (o *ConsoleOutput) SetWriter(w io.Writer) {
	o.mu.Lock()
	o.w = w
	o.mu.Unlock()
}
