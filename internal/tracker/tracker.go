package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lcnomoto/cctailpipe/internal/logging"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// Tracker is the per-file offset table. Offsets are monotonically
// non-decreasing for a given file except across a truncation reset, and the
// stored line count advances in lockstep with the offset.
//
// With a state file configured the table persists to disk (atomic write,
// debounced) so a restart resumes from the recorded positions. Without one
// the table is memory-only.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*types.FilePosition
	stateFile string
	interval  time.Duration
	logger    *logging.Logger
	stopCh    chan struct{}
	saveCh    chan struct{}
	stopOnce  sync.Once
}

// New creates a tracker. stateFile may be empty for a memory-only table.
func New(stateFile string, interval time.Duration, logger *logging.Logger) (*Tracker, error) {
	if stateFile != "" {
		if err := os.MkdirAll(filepath.Dir(stateFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Tracker{
		positions: make(map[string]*types.FilePosition),
		stateFile: stateFile,
		interval:  interval,
		logger:    logger.WithComponent("tracker"),
		stopCh:    make(chan struct{}),
		saveCh:    make(chan struct{}, 1),
	}, nil
}

// Start begins the periodic save loop. No-op for memory-only trackers.
func (t *Tracker) Start() {
	if t.stateFile == "" {
		return
	}
	go t.saveLoop()
}

// Stop halts the save loop and performs a final save.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
	if err := t.Save(); err != nil {
		t.logger.Error().Err(err).Msg("Final state save failed")
	}
}

// Get retrieves the position for a file. The returned value is a copy.
func (t *Tracker) Get(path string) (types.FilePosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pos, ok := t.positions[path]
	if !ok {
		return types.FilePosition{Path: path}, false
	}
	return *pos, true
}

// Set records the position for a file.
func (t *Tracker) Set(path string, offset int64, line int) {
	t.mu.Lock()
	t.positions[path] = &types.FilePosition{Path: path, Offset: offset, Line: line}
	t.mu.Unlock()

	t.requestSave()
}

// Remove drops a file's entry so a same-named file reappearing later is
// treated as new.
func (t *Tracker) Remove(path string) {
	t.mu.Lock()
	delete(t.positions, path)
	t.mu.Unlock()

	t.requestSave()
}

// Len returns the number of tracked files.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// Load reads persisted positions from the state file, if any.
func (t *Tracker) Load() error {
	if t.stateFile == "" {
		return nil
	}

	data, err := os.ReadFile(t.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var positions map[string]*types.FilePosition
	if err := json.Unmarshal(data, &positions); err != nil {
		return fmt.Errorf("failed to unmarshal state file: %w", err)
	}

	t.mu.Lock()
	t.positions = positions
	t.mu.Unlock()
	return nil
}

// Save writes the table to the state file via a temp file rename so a crash
// mid-write never corrupts the previous state.
func (t *Tracker) Save() error {
	if t.stateFile == "" {
		return nil
	}

	t.mu.RLock()
	data, err := json.MarshalIndent(t.positions, "", "  ")
	t.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := t.stateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, t.stateFile); err != nil {
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

func (t *Tracker) requestSave() {
	if t.stateFile == "" {
		return
	}
	select {
	case t.saveCh <- struct{}{}:
	default:
	}
}

func (t *Tracker) saveLoop() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.Save(); err != nil {
				t.logger.Error().Err(err).Msg("Failed to save state")
			}
		case <-t.saveCh:
			if err := t.Save(); err != nil {
				t.logger.Error().Err(err).Msg("Failed to save state")
			}
		case <-t.stopCh:
			return
		}
	}
}
