package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lcnomoto/cctailpipe/internal/logging"
	"github.com/lcnomoto/cctailpipe/internal/metrics"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

type fakeFilter struct {
	name   string
	pass   bool
	err    error
	panics bool
	calls  int
}

func (f *fakeFilter) Name() string { return f.name }

func (f *fakeFilter) Filter(_ context.Context, _ *types.Record) (bool, error) {
	f.calls++
	if f.panics {
		panic("filter blew up")
	}
	return f.pass, f.err
}

type fakeOutput struct {
	name   string
	err    error
	panics bool
	sent   []*types.Record
	closed bool
}

func (o *fakeOutput) Name() string { return o.name }

func (o *fakeOutput) Send(_ context.Context, rec *types.Record) error {
	if o.panics {
		panic("output blew up")
	}
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, rec)
	return nil
}

func (o *fakeOutput) Close() error {
	o.closed = true
	return nil
}

func newTestEngine() *Engine {
	return NewEngine(logging.Nop(), metrics.NewCollector())
}

func testRecord() *types.Record {
	return &types.Record{
		Data: map[string]any{"level": "error"},
		Path: "/data/app.jsonl",
		Line: 7,
		Raw:  `{"level":"error"}`,
	}
}

func TestGlobalFilterRejectShortCircuits(t *testing.T) {
	e := newTestEngine()
	reject := &fakeFilter{name: "noise", pass: false}
	pipeFilter := &fakeFilter{name: "errors", pass: true}
	out := &fakeOutput{name: "sink"}
	globalOut := &fakeOutput{name: "audit"}

	e.RegisterFilter(reject)
	e.RegisterFilter(pipeFilter)
	e.RegisterOutput(out)
	e.RegisterOutput(globalOut)
	e.SetGlobalFilters([]string{"noise"})
	e.SetGlobalOutputs([]string{"audit"})
	e.SetPipelines([]Pipeline{{Name: "p1", Filters: []string{"errors"}, Outputs: []string{"sink"}}})

	report := e.Process(context.Background(), testRecord())

	if !report.GlobalFiltered {
		t.Fatal("Expected GlobalFiltered")
	}
	if report.FilteredBy != "noise" {
		t.Errorf("Expected FilteredBy noise, got %q", report.FilteredBy)
	}
	if len(report.Pipelines) != 0 {
		t.Error("No pipeline should run after global rejection")
	}
	if pipeFilter.calls != 0 {
		t.Error("Pipeline filter should not be invoked")
	}
	if len(globalOut.sent) != 0 {
		t.Error("Global outputs must not fire for a globally filtered record")
	}
}

func TestGlobalFilterMissingPassesThrough(t *testing.T) {
	e := newTestEngine()
	out := &fakeOutput{name: "sink"}
	e.RegisterOutput(out)
	e.SetGlobalFilters([]string{"never-registered"})
	e.SetPipelines([]Pipeline{{Name: "p1", Outputs: []string{"sink"}}})

	report := e.Process(context.Background(), testRecord())

	if report.GlobalFiltered {
		t.Error("Missing global filter must not reject")
	}
	if len(out.sent) != 1 {
		t.Errorf("Expected 1 record delivered, got %d", len(out.sent))
	}
}

func TestGlobalFilterErrorFailsOpen(t *testing.T) {
	e := newTestEngine()
	broken := &fakeFilter{name: "broken", err: errors.New("boom")}
	out := &fakeOutput{name: "sink"}
	e.RegisterFilter(broken)
	e.RegisterOutput(out)
	e.SetGlobalFilters([]string{"broken"})
	e.SetPipelines([]Pipeline{{Name: "p1", Outputs: []string{"sink"}}})

	report := e.Process(context.Background(), testRecord())

	if report.GlobalFiltered {
		t.Error("Failing global filter must not drop the record")
	}
	if len(out.sent) != 1 {
		t.Errorf("Expected 1 record delivered, got %d", len(out.sent))
	}
}

func TestPipelineConjunctionShortCircuits(t *testing.T) {
	e := newTestEngine()
	first := &fakeFilter{name: "first", pass: true}
	second := &fakeFilter{name: "second", pass: false}
	third := &fakeFilter{name: "third", pass: true}
	out := &fakeOutput{name: "sink"}

	e.RegisterFilter(first)
	e.RegisterFilter(second)
	e.RegisterFilter(third)
	e.RegisterOutput(out)
	e.SetPipelines([]Pipeline{{
		Name:    "p1",
		Filters: []string{"first", "second", "third"},
		Outputs: []string{"sink"},
	}})

	report := e.Process(context.Background(), testRecord())

	result := report.Pipelines[0]
	if result.Status != types.PipelineFiltered {
		t.Fatalf("Expected filtered, got %s", result.Status)
	}
	if result.FilteredBy != "second" {
		t.Errorf("Expected FilteredBy second, got %q", result.FilteredBy)
	}
	if third.calls != 0 {
		t.Error("Conjunction should short-circuit on first rejection")
	}
	if len(out.sent) != 0 {
		t.Error("Filtered pipeline must not deliver to outputs")
	}
}

func TestPipelineMissingFilterFailsOnlyThatPipeline(t *testing.T) {
	e := newTestEngine()
	out := &fakeOutput{name: "sink"}
	e.RegisterOutput(out)
	e.SetPipelines([]Pipeline{
		{Name: "broken", Filters: []string{"nope"}, Outputs: []string{"sink"}},
		{Name: "healthy", Outputs: []string{"sink"}},
	})

	report := e.Process(context.Background(), testRecord())

	if report.Pipelines[0].Status != types.PipelineFailed {
		t.Errorf("Expected failed, got %s", report.Pipelines[0].Status)
	}
	if !strings.Contains(report.Pipelines[0].Error, "nope") {
		t.Errorf("Error should name the missing filter: %q", report.Pipelines[0].Error)
	}
	if report.Pipelines[1].Status != types.PipelineSucceeded {
		t.Errorf("Healthy pipeline should be unaffected, got %s", report.Pipelines[1].Status)
	}
	if len(out.sent) != 1 {
		t.Errorf("Expected 1 delivery from the healthy pipeline, got %d", len(out.sent))
	}
}

func TestOutputFailureIsolated(t *testing.T) {
	e := newTestEngine()
	bad := &fakeOutput{name: "bad", err: errors.New("connection refused")}
	good := &fakeOutput{name: "good"}
	e.RegisterOutput(bad)
	e.RegisterOutput(good)
	e.SetPipelines([]Pipeline{{Name: "p1", Outputs: []string{"bad", "good"}}})

	report := e.Process(context.Background(), testRecord())

	result := report.Pipelines[0]
	if result.Status != types.PipelineSucceeded {
		t.Fatalf("Output failure must not fail the pipeline, got %s", result.Status)
	}
	if len(result.Outputs) != 2 {
		t.Fatalf("Expected 2 output statuses, got %d", len(result.Outputs))
	}
	if result.Outputs[0].OK || result.Outputs[0].Error == "" {
		t.Errorf("Expected failed status for bad output: %+v", result.Outputs[0])
	}
	if !result.Outputs[1].OK {
		t.Errorf("Good output should still run: %+v", result.Outputs[1])
	}
	if len(good.sent) != 1 {
		t.Errorf("Expected 1 delivery to good output, got %d", len(good.sent))
	}
}

func TestMissingOutputReported(t *testing.T) {
	e := newTestEngine()
	e.SetPipelines([]Pipeline{{Name: "p1", Outputs: []string{"ghost"}}})

	report := e.Process(context.Background(), testRecord())

	result := report.Pipelines[0]
	if len(result.Outputs) != 1 || result.Outputs[0].OK {
		t.Fatalf("Expected one failed output status, got %+v", result.Outputs)
	}
	if !strings.Contains(result.Outputs[0].Error, "not registered") {
		t.Errorf("Unexpected error: %q", result.Outputs[0].Error)
	}
}

func TestGlobalOutputsFireDespitePipelineOutcomes(t *testing.T) {
	e := newTestEngine()
	reject := &fakeFilter{name: "reject", pass: false}
	audit := &fakeOutput{name: "audit"}
	e.RegisterFilter(reject)
	e.RegisterOutput(audit)
	e.SetGlobalOutputs([]string{"audit"})
	e.SetPipelines([]Pipeline{{Name: "p1", Filters: []string{"reject"}, Outputs: []string{"audit"}}})

	report := e.Process(context.Background(), testRecord())

	if report.Pipelines[0].Status != types.PipelineFiltered {
		t.Fatalf("Expected filtered pipeline, got %s", report.Pipelines[0].Status)
	}
	if len(report.GlobalOutputs) != 1 || !report.GlobalOutputs[0].OK {
		t.Fatalf("Global output should fire, got %+v", report.GlobalOutputs)
	}
	if len(audit.sent) != 1 {
		t.Errorf("Expected 1 delivery via global outputs, got %d", len(audit.sent))
	}
}

func TestPanicInPluginIsolated(t *testing.T) {
	e := newTestEngine()
	panicky := &fakeFilter{name: "panicky", panics: true}
	boom := &fakeOutput{name: "boom", panics: true}
	good := &fakeOutput{name: "good"}
	e.RegisterFilter(panicky)
	e.RegisterOutput(boom)
	e.RegisterOutput(good)
	e.SetPipelines([]Pipeline{
		{Name: "filter-panics", Filters: []string{"panicky"}, Outputs: []string{"good"}},
		{Name: "output-panics", Outputs: []string{"boom", "good"}},
	})

	report := e.Process(context.Background(), testRecord())

	if report.Pipelines[0].Status != types.PipelineFailed {
		t.Errorf("Panicking filter should fail its pipeline, got %s", report.Pipelines[0].Status)
	}
	second := report.Pipelines[1]
	if second.Outputs[0].OK {
		t.Error("Panicking output should report failure")
	}
	if !second.Outputs[1].OK {
		t.Error("Output after a panicking one should still run")
	}
}

func TestDuplicatePipelineNamesBothRun(t *testing.T) {
	e := newTestEngine()
	a := &fakeOutput{name: "a"}
	b := &fakeOutput{name: "b"}
	e.RegisterOutput(a)
	e.RegisterOutput(b)
	e.SetPipelines([]Pipeline{
		{Name: "same", Outputs: []string{"a"}},
		{Name: "same", Outputs: []string{"b"}},
	})

	report := e.Process(context.Background(), testRecord())

	if len(report.Pipelines) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(report.Pipelines))
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Errorf("Both same-named pipelines should run: a=%d b=%d", len(a.sent), len(b.sent))
	}
}

func TestRegisterOverwritesOnCollision(t *testing.T) {
	e := newTestEngine()
	old := &fakeOutput{name: "sink", err: errors.New("old instance")}
	replacement := &fakeOutput{name: "sink"}
	e.RegisterOutput(old)
	e.RegisterOutput(replacement)
	e.SetPipelines([]Pipeline{{Name: "p1", Outputs: []string{"sink"}}})

	report := e.Process(context.Background(), testRecord())

	if !report.Pipelines[0].Outputs[0].OK {
		t.Error("Later registration should win")
	}
	if len(replacement.sent) != 1 {
		t.Errorf("Expected delivery to replacement, got %d", len(replacement.sent))
	}
}

func TestAllOutputsFailed(t *testing.T) {
	e := newTestEngine()
	bad := &fakeOutput{name: "bad", err: errors.New("down")}
	e.RegisterOutput(bad)
	e.SetPipelines([]Pipeline{{Name: "p1", Outputs: []string{"bad"}}})
	e.SetGlobalOutputs([]string{"bad"})

	report := e.Process(context.Background(), testRecord())
	if !report.AllOutputsFailed() {
		t.Error("Expected AllOutputsFailed when every attempt failed")
	}

	empty := e.Process(context.Background(), testRecord())
	empty.Pipelines = nil
	empty.GlobalOutputs = nil
	if empty.AllOutputsFailed() {
		t.Error("No attempts must not count as all-failed")
	}
}

func TestCloseOutputs(t *testing.T) {
	e := newTestEngine()
	a := &fakeOutput{name: "a"}
	b := &fakeOutput{name: "b"}
	e.RegisterOutput(a)
	e.RegisterOutput(b)

	if err := e.CloseOutputs(); err != nil {
		t.Fatalf("CloseOutputs failed: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("All outputs should be closed")
	}
}
