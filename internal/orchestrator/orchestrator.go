// Package orchestrator ties the watcher, reader, and pipeline engine into
// one lifecycle: watch a directory, read what changed, route every record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/lcnomoto/cctailpipe/internal/config"
	"github.com/lcnomoto/cctailpipe/internal/dlq"
	"github.com/lcnomoto/cctailpipe/internal/logging"
	"github.com/lcnomoto/cctailpipe/internal/metrics"
	"github.com/lcnomoto/cctailpipe/internal/pipeline"
	"github.com/lcnomoto/cctailpipe/internal/reader"
	"github.com/lcnomoto/cctailpipe/internal/tracing"
	"github.com/lcnomoto/cctailpipe/internal/tracker"
	"github.com/lcnomoto/cctailpipe/internal/watcher"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// Config holds the orchestrator's runtime settings.
type Config struct {
	WatchDir string
	Suffix   string
	Debounce time.Duration

	// EnableBuffering tails pre-existing files from their current end on
	// startup: a baseline position is recorded and only new appends are
	// processed. When false, every existing file is re-read from byte 0.
	// Positions persisted by a previous run always win over either mode.
	EnableBuffering bool
}

// Options bundles the orchestrator's collaborators.
type Options struct {
	Config     Config
	Engine     *pipeline.Engine
	Tracker    *tracker.Tracker
	DeadLetter *dlq.Queue
	Tracer     trace.Tracer
	Logger     *logging.Logger
	Metrics    *metrics.Collector
}

// Orchestrator owns the watch-read-route loop. Files are processed
// strictly sequentially by a single worker, so records from one file are
// routed in file order and a slow output back-pressures reads instead of
// piling up goroutines.
//
// Start and Stop are idempotent; redundant calls log a warning and return.
type Orchestrator struct {
	cfg        Config
	engine     *pipeline.Engine
	tracker    *tracker.Tracker
	reader     *reader.Reader
	deadLetter *dlq.Queue
	tracer     trace.Tracer
	logger     *logging.Logger
	collector  *metrics.Collector

	mu      sync.Mutex
	running bool
	watcher *watcher.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	eventCh chan types.Event
}

// New creates an orchestrator. Engine, Tracker, and Logger are required.
func New(opts Options) (*Orchestrator, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Config.Suffix == "" {
		opts.Config.Suffix = ".jsonl"
	}

	logger := opts.Logger.WithComponent("orchestrator")

	return &Orchestrator{
		cfg:        opts.Config,
		engine:     opts.Engine,
		tracker:    opts.Tracker,
		reader:     reader.New(opts.Tracker, opts.Logger),
		deadLetter: opts.DeadLetter,
		tracer:     opts.Tracer,
		logger:     logger,
		collector:  opts.Metrics,
		eventCh:    make(chan types.Event, 1024),
	}, nil
}

// Name identifies the orchestrator to the shutdown manager.
func (o *Orchestrator) Name() string { return "orchestrator" }

// Events returns the observable event stream. Events are dropped, never
// blocked on, when the consumer falls behind. The channel is never closed;
// EventStopped marks the end of a run.
func (o *Orchestrator) Events() <-chan types.Event {
	return o.eventCh
}

// Running reports whether the orchestrator is started.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Start validates the watch directory, processes or skips existing files
// per the buffering mode, and begins consuming change events. A missing or
// non-directory watch root is a fatal configuration error.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		o.logger.Warn().Msg("Start called while already running")
		return nil
	}

	info, err := os.Stat(o.cfg.WatchDir)
	if err != nil {
		return &config.ConfigError{Field: "watch_dir", Msg: fmt.Sprintf("cannot access %s: %v", o.cfg.WatchDir, err)}
	}
	if !info.IsDir() {
		return &config.ConfigError{Field: "watch_dir", Msg: fmt.Sprintf("%s is not a directory", o.cfg.WatchDir)}
	}

	w, err := watcher.New(watcher.Config{
		Root:     o.cfg.WatchDir,
		Suffix:   o.cfg.Suffix,
		Debounce: o.cfg.Debounce,
	}, o.logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.watcher = w
	o.cancel = cancel
	o.running = true

	o.initialScan(runCtx)

	o.wg.Add(1)
	go o.run(runCtx)

	o.logger.Info().
		Str("dir", o.cfg.WatchDir).
		Str("suffix", o.cfg.Suffix).
		Bool("buffering", o.cfg.EnableBuffering).
		Msg("Orchestrator started")
	o.emit(types.Event{Type: types.EventStarted})

	// ctx is accepted for symmetry with Stop; the run loop owns its own
	// context so a caller's short-lived startup context cannot kill it.
	_ = ctx
	return nil
}

// Stop halts watching, waits for the in-flight file to finish, and leaves
// the offset table consistent. Safe to call when not running.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		o.logger.Warn().Msg("Stop called while not running")
		return nil
	}
	o.running = false
	w := o.watcher
	cancel := o.cancel
	o.watcher = nil
	o.cancel = nil
	o.mu.Unlock()

	w.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn().Msg("Stop timed out waiting for worker")
		return ctx.Err()
	}

	o.logger.Info().Msg("Orchestrator stopped")
	o.emit(types.Event{Type: types.EventStopped})
	return nil
}

// initialScan walks the watch directory once. Files with a persisted
// position are caught up from it. With buffering enabled, unknown files
// get a baseline at their current end so only future appends are seen;
// otherwise they are read from the beginning.
func (o *Orchestrator) initialScan(ctx context.Context) {
	var matched int

	err := filepath.WalkDir(o.cfg.WatchDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			o.logger.Warn().Err(err).Str("path", path).Msg("Scan error, skipping")
			return nil
		}
		if d.IsDir() || !o.watcher.Matches(path) {
			return nil
		}
		matched++

		if _, known := o.tracker.Get(path); known || !o.cfg.EnableBuffering {
			o.processFile(ctx, path)
			return nil
		}

		// Tail from now: baseline at the last complete-line boundary
		// so later reads report correct line numbers and a torn
		// trailing line is still parsed whole once completed.
		offset, lines, err := fileEnd(path)
		if err != nil {
			o.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat file, will read from start")
			return nil
		}
		o.tracker.Set(path, offset, lines)
		o.logger.Debug().Str("path", path).Int64("offset", offset).Msg("Tailing from current end")
		return nil
	})
	if err != nil {
		o.logger.Warn().Err(err).Msg("Initial scan incomplete")
	}

	o.collector.FilesWatched.Set(float64(matched))
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.watcher.Events():
			if !ok {
				return
			}
			o.collector.FileEvents.WithLabelValues(string(ev.Type)).Inc()

			switch ev.Type {
			case types.FileAdded:
				o.collector.FilesWatched.Inc()
				o.processFile(ctx, ev.Path)
			case types.FileModified:
				o.processFile(ctx, ev.Path)
			case types.FileRemoved:
				o.collector.FilesWatched.Dec()
				o.tracker.Remove(ev.Path)
				o.logger.Debug().Str("path", ev.Path).Msg("Dropped position for removed file")
			}
		}
	}
}

// processFile performs one incremental read of path and routes every
// decoded record through the engine.
func (o *Orchestrator) processFile(ctx context.Context, path string) {
	o.emit(types.Event{Type: types.EventProcessingStart, Path: path})

	if o.tracer != nil {
		var span trace.Span
		ctx, span = tracing.TraceRead(ctx, o.tracer, path)
		defer span.End()
	}

	prev, _ := o.tracker.Get(path)
	start := time.Now()

	res, err := o.reader.Read(ctx, path)
	o.collector.ReadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, reader.ErrReadInProgress) {
			o.collector.ReadsTotal.WithLabelValues("busy").Inc()
			o.logger.Debug().Str("path", path).Msg("Read already in flight, dropping event")
			return
		}
		o.collector.ReadsTotal.WithLabelValues("error").Inc()
		o.logger.Warn().Err(err).Str("path", path).Msg("Read failed")
		o.emit(types.Event{Type: types.EventProcessingError, Path: path, Error: err.Error()})
		return
	}
	o.collector.ReadsTotal.WithLabelValues("ok").Inc()

	if res.Truncated {
		o.collector.Truncations.Inc()
		o.logger.Info().Str("path", path).Msg("File truncated, re-reading from start")
		o.collector.BytesRead.Add(float64(res.Offset))
	} else if res.Offset > prev.Offset {
		o.collector.BytesRead.Add(float64(res.Offset - prev.Offset))
	}

	for _, pe := range res.ParseErrors {
		o.collector.ParseErrors.Inc()
		o.logger.Warn().Err(pe.Err).Str("path", pe.Path).Int("line", pe.Line).Msg("Malformed line skipped")
		o.emit(types.Event{Type: types.EventParseError, Path: pe.Path, Line: pe.Line, Raw: pe.Raw, Error: pe.Err.Error()})
	}

	o.collector.RecordsRead.Add(float64(len(res.Records)))
	for _, rec := range res.Records {
		o.processRecord(ctx, rec)
	}

	o.emit(types.Event{Type: types.EventProcessingComplete, Path: path})
}

func (o *Orchestrator) processRecord(ctx context.Context, rec *types.Record) {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = tracing.TraceProcess(ctx, o.tracer, rec.Path, rec.Line)
		defer span.End()
	}

	report := o.engine.Process(ctx, rec)
	o.emitReport(rec, report)

	if o.deadLetter != nil && report.AllOutputsFailed() {
		err := o.deadLetter.Enqueue(rec, "all outputs failed", map[string]string{
			"path": rec.Path,
			"line": strconv.Itoa(rec.Line),
		})
		if err != nil {
			o.logger.Warn().Err(err).Str("path", rec.Path).Int("line", rec.Line).
				Msg("Failed to dead-letter record")
		} else {
			o.collector.DLQRecordsWritten.Inc()
		}
	}
}

// emitReport translates one record's report into the observable events
// integrations subscribe to.
func (o *Orchestrator) emitReport(rec *types.Record, report *types.PipelineReport) {
	base := types.Event{Path: rec.Path, Line: rec.Line}

	if report.GlobalFiltered {
		ev := base
		ev.Type = types.EventFilteredGlobal
		ev.Filter = report.FilteredBy
		o.emit(ev)
		return
	}

	for _, p := range report.Pipelines {
		switch p.Status {
		case types.PipelineFiltered:
			ev := base
			ev.Type = types.EventFilteredPipeline
			ev.Pipeline = p.Name
			ev.Filter = p.FilteredBy
			o.emit(ev)
		case types.PipelineFailed:
			ev := base
			ev.Type = types.EventPipelineError
			ev.Pipeline = p.Name
			ev.Error = p.Error
			o.emit(ev)
		case types.PipelineSucceeded:
			for _, out := range p.Outputs {
				ev := base
				ev.Pipeline = p.Name
				ev.Output = out.Name
				if out.OK {
					ev.Type = types.EventRecordOutputPipeline
				} else {
					ev.Type = types.EventPipelineError
					ev.Error = out.Error
				}
				o.emit(ev)
			}
		}
	}

	for _, out := range report.GlobalOutputs {
		ev := base
		ev.Output = out.Name
		if out.OK {
			ev.Type = types.EventRecordOutputGlobal
		} else {
			ev.Type = types.EventPipelineError
			ev.Error = out.Error
		}
		o.emit(ev)
	}

	ev := base
	ev.Type = types.EventPipelineResults
	ev.Report = report
	o.emit(ev)
}

func (o *Orchestrator) emit(ev types.Event) {
	ev.Time = time.Now()
	select {
	case o.eventCh <- ev:
	default:
		o.collector.EventsDropped.Inc()
	}
}

// fileEnd returns the offset of the last complete-line boundary in path
// and the number of complete lines up to it, for tail-from-now
// positioning. A torn trailing line is left before the boundary so the
// next read picks it up whole.
func fileEnd(path string) (int64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	size := info.Size()

	lines := 0
	var boundary int64
	buf := make([]byte, 64*1024)
	var seen int64
	for seen < size {
		n, err := f.Read(buf)
		if n > 0 {
			if seen+int64(n) > size {
				n = int(size - seen)
			}
			for i, b := range buf[:n] {
				if b == '\n' {
					lines++
					boundary = seen + int64(i) + 1
				}
			}
			seen += int64(n)
		}
		if err != nil {
			break
		}
	}

	return boundary, lines, nil
}
