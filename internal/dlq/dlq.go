// Package dlq persists records whose every output attempt failed so they
// can be inspected or replayed later.
package dlq

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lcnomoto/cctailpipe/pkg/types"
)

var (
	ErrClosed = errors.New("dead letter queue is closed")
	ErrFull   = errors.New("dead letter queue is full")
)

// Config holds dead letter queue settings.
type Config struct {
	Dir           string
	MaxEntries    int64
	MaxAge        time.Duration
	FlushInterval time.Duration
}

// Entry is one dead-lettered record together with why it landed here.
type Entry struct {
	Record    *types.Record     `json:"record"`
	Error     string            `json:"error"`
	Timestamp time.Time         `json:"timestamp"`
	Retries   int               `json:"retries"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Queue is a size-capped, disk-backed store of failed records. Entries are
// held in memory and flushed to a JSONL file periodically and on close.
type Queue struct {
	config Config

	mu      sync.RWMutex
	entries []*Entry
	closed  bool
	closeCh chan struct{}

	enqueued uint64
	dequeued uint64
	dropped  uint64
}

// New creates a queue backed by config.Dir, loading any entries a previous
// run left behind.
func New(config Config) (*Queue, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("dead letter queue directory is required")
	}
	if config.MaxEntries == 0 {
		config.MaxEntries = 10000
	}
	if config.MaxAge == 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dead letter directory: %w", err)
	}

	q := &Queue{
		config:  config,
		entries: make([]*Entry, 0),
		closeCh: make(chan struct{}),
	}

	if err := q.load(); err != nil {
		return nil, fmt.Errorf("failed to load dead letter queue: %w", err)
	}

	go q.flushLoop()
	go q.cleanupLoop()

	return q, nil
}

// Enqueue adds a failed record. When the queue is at capacity the record is
// dropped and ErrFull returned; losing the newest entry is preferable to
// unbounded growth.
func (q *Queue) Enqueue(rec *types.Record, cause string, metadata map[string]string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if int64(len(q.entries)) >= q.config.MaxEntries {
		q.dropped++
		return ErrFull
	}

	q.entries = append(q.entries, &Entry{
		Record:    rec,
		Error:     cause,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})
	q.enqueued++
	return nil
}

// Dequeue removes and returns the oldest entry, or nil when empty.
func (q *Queue) Dequeue() (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	if len(q.entries) == 0 {
		return nil, nil
	}

	entry := q.entries[0]
	q.entries = q.entries[1:]
	q.dequeued++
	return entry, nil
}

// Retry re-enqueues an entry with its retry count bumped.
func (q *Queue) Retry(entry *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	entry.Retries++
	entry.Timestamp = time.Now()
	q.entries = append(q.entries, entry)
	return nil
}

// Size returns the number of queued entries.
func (q *Queue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Stats returns queue counters.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return Stats{
		Enqueued:    q.enqueued,
		Dequeued:    q.dequeued,
		Dropped:     q.dropped,
		CurrentSize: len(q.entries),
		MaxEntries:  q.config.MaxEntries,
	}
}

// Flush persists all entries to disk.
func (q *Queue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flush()
}

// Close flushes remaining entries and stops the background loops.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.closed = true
	close(q.closeCh)

	return q.flush()
}

// flush writes all entries to a temp file and renames it into place.
// Callers must hold the lock.
func (q *Queue) flush() error {
	filename := filepath.Join(q.config.Dir, "deadletter.jsonl")
	tempFile := filename + ".tmp"

	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	encoder := json.NewEncoder(file)
	for _, entry := range q.entries {
		if err := encoder.Encode(entry); err != nil {
			file.Close()
			os.Remove(tempFile)
			return fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (q *Queue) load() error {
	filename := filepath.Join(q.config.Dir, "deadletter.jsonl")

	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open dead letter file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	for {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to decode entry: %w", err)
		}
		q.entries = append(q.entries, &entry)
	}
	return nil
}

func (q *Queue) flushLoop() {
	ticker := time.NewTicker(q.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.mu.Lock()
			_ = q.flush()
			q.mu.Unlock()
		case <-q.closeCh:
			return
		}
	}
}

func (q *Queue) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.cleanup()
		case <-q.closeCh:
			return
		}
	}
}

func (q *Queue) cleanup() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	cutoff := time.Now().Add(-q.config.MaxAge)
	var remaining []*Entry
	for _, entry := range q.entries {
		if entry.Timestamp.After(cutoff) {
			remaining = append(remaining, entry)
		}
	}
	q.entries = remaining
}

// Stats holds queue counters.
type Stats struct {
	Enqueued    uint64
	Dequeued    uint64
	Dropped     uint64
	CurrentSize int
	MaxEntries  int64
}

// Utilization returns how full the queue is, 0 to 100.
func (s Stats) Utilization() float64 {
	if s.MaxEntries == 0 {
		return 0
	}
	return float64(s.CurrentSize) / float64(s.MaxEntries) * 100.0
}
