package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lcnomoto/cctailpipe/internal/logging"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// DefaultDebounce is the quiet period applied per path before a change
// event is emitted.
const DefaultDebounce = 1000 * time.Millisecond

// Config holds watcher configuration
type Config struct {
	Root     string        // directory watched recursively
	Suffix   string        // only files with this extension are reported
	Debounce time.Duration // per-path quiet period, DefaultDebounce if zero
}

// Watcher watches a directory tree and emits one debounced FileEvent per
// burst of raw notifications for the same path. Writers that perform many
// small writes per logical update collapse into a single event carrying the
// most recent change type.
type Watcher struct {
	cfg     Config
	logger  *logging.Logger
	fsw     *fsnotify.Watcher
	eventCh chan types.FileEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*pendingEvent
	stopped bool
}

type pendingEvent struct {
	timer *time.Timer
	typ   types.FileEventType
}

// New creates a watcher for cfg.Root. The directory is not required to
// exist until Start.
func New(cfg Config, logger *logging.Logger) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		cfg:     cfg,
		logger:  logger.WithComponent("watcher"),
		fsw:     fsw,
		eventCh: make(chan types.FileEvent, 256),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*pendingEvent),
	}, nil
}

// Events returns the channel of debounced file events. The channel is
// closed after Stop.
func (w *Watcher) Events() <-chan types.FileEvent {
	return w.eventCh
}

// Start begins recursive watching of the root directory.
func (w *Watcher) Start() error {
	if err := w.addRecursive(w.cfg.Root); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.watchLoop()
	return nil
}

// Stop ceases watching and cancels pending debounce timers without
// emitting further events. The event channel is closed only after every
// in-flight emit has finished.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.cancel()
	w.fsw.Close()
	w.wg.Wait()
	close(w.eventCh)
}

// Matches reports whether path has the configured suffix.
func (w *Watcher) Matches(path string) bool {
	return strings.HasSuffix(path, w.cfg.Suffix)
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk watch root %s: %w", root, err)
		}
		if info.IsDir() {
			if err := w.fsw.Add(p); err != nil {
				w.logger.Warn().Err(err).Str("dir", p).Msg("Cannot watch directory")
			}
		}
		return nil
	})
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("File watcher error")

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	// New directories need their own watch so files created inside them
	// are seen.
	if ev.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.logger.Warn().Err(err).Str("dir", ev.Name).Msg("Cannot watch new directory")
			}
			return
		}
	}

	if !w.Matches(ev.Name) {
		return
	}

	var typ types.FileEventType
	switch {
	case ev.Op&fsnotify.Create != 0:
		typ = types.FileAdded
	case ev.Op&fsnotify.Write != 0:
		typ = types.FileModified
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		typ = types.FileRemoved
	default:
		return
	}

	w.debounce(ev.Name, typ)
}

// debounce restarts the per-path timer on every raw event; the event
// emitted after the quiet period carries the most recent type observed.
func (w *Watcher) debounce(path string, typ types.FileEventType) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	if p, ok := w.pending[path]; ok {
		p.typ = typ
		p.timer.Reset(w.cfg.Debounce)
		return
	}

	p := &pendingEvent{typ: typ}
	p.timer = time.AfterFunc(w.cfg.Debounce, func() {
		w.fire(path)
	})
	w.pending[path] = p
}

// fire joins the WaitGroup while still holding the mutex so Stop cannot
// close the event channel between the stopped check and the send.
func (w *Watcher) fire(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok || w.stopped {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	typ := p.typ
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	select {
	case w.eventCh <- types.FileEvent{Type: typ, Path: path}:
	case <-w.ctx.Done():
	}
}
