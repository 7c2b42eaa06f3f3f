package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lcnomoto/cctailpipe/internal/plugin"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// FileConfig holds file output options.
type FileConfig struct {
	// Path is the destination file; parent directories are created.
	Path string `json:"path"`

	// Sync fsyncs after every write.
	Sync bool `json:"sync,omitempty"`
}

// FileOutput appends each record as one JSON line to a file.
type FileOutput struct {
	name string
	cfg  FileConfig
	mu   sync.Mutex
	f    *os.File
}

// NewFileOutput constructs a file output from JSON options.
func NewFileOutput(name string, options []byte) (plugin.Output, error) {
	var cfg FileConfig
	if err := json.Unmarshal(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid file output options: %w", err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("file output requires a path")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	return &FileOutput{name: name, cfg: cfg, f: f}, nil
}

// Name returns the instance name.
func (o *FileOutput) Name() string { return o.name }

// Send appends the record.
func (o *FileOutput) Send(_ context.Context, rec *types.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if o.cfg.Sync {
		if err := o.f.Sync(); err != nil {
			return fmt.Errorf("failed to sync output file: %w", err)
		}
	}
	return nil
}

// Close closes the underlying file.
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.f.Close()
}
