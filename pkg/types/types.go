package types

import "time"

// Record is one JSON value decoded from a single line of a watched file.
// Data is shared by reference through filters and outputs; plugins must not
// mutate it. A plugin that needs to modify a record copies it first.
type Record struct {
	Data any    `json:"data"`
	Path string `json:"path"`
	Line int    `json:"line"`
	Raw  string `json:"raw,omitempty"`
}

// FileEventType classifies a change to a watched file.
type FileEventType string

const (
	FileAdded    FileEventType = "added"
	FileModified FileEventType = "modified"
	FileRemoved  FileEventType = "removed"
)

// FileEvent is a debounced change notification for a single file.
type FileEvent struct {
	Type FileEventType `json:"type"`
	Path string        `json:"path"`
}

// FilePosition tracks how far a file has been read. Offset is the byte
// position immediately after the last fully consumed line; Line is the
// number of complete lines consumed so far, so line numbers stay exact
// across resumed reads.
type FilePosition struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Line   int    `json:"line"`
}

// EventType identifies an observable engine event.
type EventType string

const (
	EventStarted              EventType = "started"
	EventStopped              EventType = "stopped"
	EventProcessingStart      EventType = "processing-start"
	EventProcessingComplete   EventType = "processing-complete"
	EventProcessingError      EventType = "processing-error"
	EventParseError           EventType = "parse-error"
	EventFilteredGlobal       EventType = "filtered-global"
	EventFilteredPipeline     EventType = "filtered-pipeline"
	EventRecordOutputPipeline EventType = "record-output-pipeline"
	EventRecordOutputGlobal   EventType = "record-output-global"
	EventPipelineResults      EventType = "pipeline-results"
	EventPipelineError        EventType = "pipeline-error"
)

// Event is an observable notification published by the orchestrator for
// integration and testing. Fields beyond Type are set as applicable.
type Event struct {
	Type     EventType       `json:"type"`
	Time     time.Time       `json:"time"`
	Path     string          `json:"path,omitempty"`
	Line     int             `json:"line,omitempty"`
	Raw      string          `json:"raw,omitempty"`
	Pipeline string          `json:"pipeline,omitempty"`
	Filter   string          `json:"filter,omitempty"`
	Output   string          `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
	Report   *PipelineReport `json:"report,omitempty"`
}

// OutputStatus is the outcome of a single output invocation.
type OutputStatus struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// PipelineStatus is the overall outcome of one pipeline for one record.
type PipelineStatus string

const (
	PipelineSucceeded PipelineStatus = "succeeded"
	PipelineFiltered  PipelineStatus = "filtered"
	PipelineFailed    PipelineStatus = "failed"
)

// PipelineResult reports a single pipeline's evaluation of one record.
type PipelineResult struct {
	Name       string         `json:"name"`
	Status     PipelineStatus `json:"status"`
	FilteredBy string         `json:"filtered_by,omitempty"`
	Error      string         `json:"error,omitempty"`
	Outputs    []OutputStatus `json:"outputs,omitempty"`
}

// PipelineReport aggregates everything that happened to one record.
type PipelineReport struct {
	GlobalFiltered bool             `json:"global_filtered"`
	FilteredBy     string           `json:"filtered_by,omitempty"`
	Pipelines      []PipelineResult `json:"pipelines,omitempty"`
	GlobalOutputs  []OutputStatus   `json:"global_outputs,omitempty"`
}

// AllOutputsFailed reports whether at least one output ran for the record
// and every one of them failed. The dead letter queue keys off this.
func (r *PipelineReport) AllOutputsFailed() bool {
	attempted, failed := 0, 0
	for _, p := range r.Pipelines {
		for _, o := range p.Outputs {
			attempted++
			if !o.OK {
				failed++
			}
		}
	}
	for _, o := range r.GlobalOutputs {
		attempted++
		if !o.OK {
			failed++
		}
	}
	return attempted > 0 && attempted == failed
}
