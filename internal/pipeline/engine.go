// Package pipeline implements the record routing engine: global filters,
// per-pipeline filter conjunctions, and output fan-out with per-invocation
// failure isolation.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lcnomoto/cctailpipe/internal/logging"
	"github.com/lcnomoto/cctailpipe/internal/metrics"
	"github.com/lcnomoto/cctailpipe/internal/plugin"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// Pipeline is one routing rule: a filter conjunction and the outputs to
// invoke when it passes. An empty conjunction always passes.
type Pipeline struct {
	Name    string
	Filters []string
	Outputs []string
}

// Engine holds the registries of named plugin instances and the ordered
// pipeline list, and routes one record at a time.
//
// Evaluation order is fixed: global filters short-circuit first, then each
// pipeline runs independently in declaration order, then global outputs
// fire regardless of per-pipeline outcomes. No failure below a plugin
// invocation escapes its (pipeline, plugin) pair, and nothing here is ever
// fatal to the process.
type Engine struct {
	mu            sync.RWMutex
	filters       map[string]plugin.Filter
	outputs       map[string]plugin.Output
	pipelines     []Pipeline
	globalFilters []string
	globalOutputs []string

	logger    *logging.Logger
	collector *metrics.Collector
}

// NewEngine creates an empty engine.
func NewEngine(logger *logging.Logger, collector *metrics.Collector) *Engine {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Engine{
		filters:   make(map[string]plugin.Filter),
		outputs:   make(map[string]plugin.Output),
		logger:    logger.WithComponent("pipeline"),
		collector: collector,
	}
}

// RegisterFilter adds a filter instance. A name collision overwrites.
func (e *Engine) RegisterFilter(f plugin.Filter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.filters[f.Name()]; exists {
		e.logger.Warn().Str("filter", f.Name()).Msg("Filter name collision, overwriting")
	}
	e.filters[f.Name()] = f
}

// RegisterOutput adds an output instance. A name collision overwrites.
func (e *Engine) RegisterOutput(o plugin.Output) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.outputs[o.Name()]; exists {
		e.logger.Warn().Str("output", o.Name()).Msg("Output name collision, overwriting")
	}
	e.outputs[o.Name()] = o
}

// SetPipelines replaces the pipeline list. Pipeline name collisions are
// allowed; both run.
func (e *Engine) SetPipelines(pipelines []Pipeline) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pipelines = pipelines
}

// SetGlobalFilters replaces the global filter name list.
func (e *Engine) SetGlobalFilters(names []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globalFilters = names
}

// SetGlobalOutputs replaces the global output name list.
func (e *Engine) SetGlobalOutputs(names []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globalOutputs = names
}

// Process routes one record and aggregates everything that happened to it.
// Plugin invocations run strictly sequentially so per-record ordering stays
// deterministic and fan-out memory stays bounded.
func (e *Engine) Process(ctx context.Context, rec *types.Record) *types.PipelineReport {
	start := time.Now()
	defer func() {
		e.collector.ProcessDuration.Observe(time.Since(start).Seconds())
	}()
	e.collector.RecordsProcessed.Inc()

	e.mu.RLock()
	pipelines := e.pipelines
	globalFilters := e.globalFilters
	globalOutputs := e.globalOutputs
	e.mu.RUnlock()

	report := &types.PipelineReport{}

	// Global filters short-circuit before any pipeline or output runs.
	for _, name := range globalFilters {
		f, ok := e.lookupFilter(name)
		if !ok {
			// Missing registration is pass-through for this filter
			// only.
			e.logger.Warn().Str("filter", name).Msg("Global filter not registered, skipping")
			continue
		}

		pass, err := e.callFilter(ctx, f, rec)
		if err != nil {
			// Fail open: a broken filter must not silently drop
			// every record.
			e.logger.Warn().Err(err).Str("filter", name).
				Str("path", rec.Path).Int("line", rec.Line).
				Msg("Global filter failed, treating as pass")
			continue
		}
		if !pass {
			report.GlobalFiltered = true
			report.FilteredBy = name
			e.collector.FilteredGlobal.Inc()
			return report
		}
	}

	// Pipelines are independent: one pipeline's outcome never affects
	// another.
	for _, p := range pipelines {
		report.Pipelines = append(report.Pipelines, e.runPipeline(ctx, p, rec))
	}

	// Global outputs fire once the record survived global filtering,
	// regardless of per-pipeline results.
	for _, name := range globalOutputs {
		report.GlobalOutputs = append(report.GlobalOutputs, e.runOutput(ctx, name, rec))
	}

	return report
}

func (e *Engine) runPipeline(ctx context.Context, p Pipeline, rec *types.Record) types.PipelineResult {
	result := types.PipelineResult{Name: p.Name}

	for _, name := range p.Filters {
		f, ok := e.lookupFilter(name)
		if !ok {
			// Unlike global filters, a missing pipeline filter is a
			// hard error for this pipeline only.
			result.Status = types.PipelineFailed
			result.Error = fmt.Sprintf("filter not registered: %s", name)
			e.collector.PipelineFailures.WithLabelValues(p.Name).Inc()
			return result
		}

		pass, err := e.callFilter(ctx, f, rec)
		if err != nil {
			result.Status = types.PipelineFailed
			result.Error = fmt.Sprintf("filter %s: %v", name, err)
			e.collector.PipelineFailures.WithLabelValues(p.Name).Inc()
			return result
		}
		if !pass {
			result.Status = types.PipelineFiltered
			result.FilteredBy = name
			e.collector.FilteredPipeline.WithLabelValues(p.Name).Inc()
			return result
		}
	}

	result.Status = types.PipelineSucceeded
	for _, name := range p.Outputs {
		result.Outputs = append(result.Outputs, e.runOutput(ctx, name, rec))
	}
	return result
}

func (e *Engine) runOutput(ctx context.Context, name string, rec *types.Record) types.OutputStatus {
	o, ok := e.lookupOutput(name)
	if !ok {
		e.logger.Warn().Str("output", name).Msg("Output not registered, skipping")
		e.collector.OutputsFailed.WithLabelValues(name).Inc()
		return types.OutputStatus{Name: name, OK: false, Error: "output not registered"}
	}

	if err := e.callOutput(ctx, o, rec); err != nil {
		e.logger.Warn().Err(err).Str("output", name).
			Str("path", rec.Path).Int("line", rec.Line).
			Msg("Output failed")
		e.collector.OutputsFailed.WithLabelValues(name).Inc()
		return types.OutputStatus{Name: name, OK: false, Error: err.Error()}
	}

	e.collector.OutputsSent.WithLabelValues(name).Inc()
	return types.OutputStatus{Name: name, OK: true}
}

// callFilter isolates a filter invocation, converting a panic into an
// error so one misbehaving plugin cannot take the loop down.
func (e *Engine) callFilter(ctx context.Context, f plugin.Filter, rec *types.Record) (pass bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			pass, err = false, fmt.Errorf("filter panicked: %v", r)
		}
	}()
	return f.Filter(ctx, rec)
}

func (e *Engine) callOutput(ctx context.Context, o plugin.Output, rec *types.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("output panicked: %v", r)
		}
	}()
	return o.Send(ctx, rec)
}

func (e *Engine) lookupFilter(name string) (plugin.Filter, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, ok := e.filters[name]
	return f, ok
}

func (e *Engine) lookupOutput(name string) (plugin.Output, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.outputs[name]
	return o, ok
}

// CloseOutputs closes every registered output, collecting errors.
func (e *Engine) CloseOutputs() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var errs []error
	for name, o := range e.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close %d outputs: %v", len(errs), errs)
	}
	return nil
}
