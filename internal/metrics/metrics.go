package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const namespace = "cctailpipe"

// Collector provides a central place for all application metrics
type Collector struct {
	// Watcher metrics
	FilesWatched    prometheus.Gauge
	FileEvents      *prometheus.CounterVec
	EventsDropped   prometheus.Counter

	// Reader metrics
	ReadsTotal      *prometheus.CounterVec
	ReadDuration    prometheus.Histogram
	RecordsRead     prometheus.Counter
	ParseErrors     prometheus.Counter
	BytesRead       prometheus.Counter
	Truncations     prometheus.Counter

	// Pipeline metrics
	RecordsProcessed  prometheus.Counter
	FilteredGlobal    prometheus.Counter
	FilteredPipeline  *prometheus.CounterVec
	PipelineFailures  *prometheus.CounterVec
	OutputsSent       *prometheus.CounterVec
	OutputsFailed     *prometheus.CounterVec
	ProcessDuration   prometheus.Histogram

	// Dead letter metrics
	DLQRecordsWritten prometheus.Counter

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector backed by its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		FilesWatched: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "files_watched",
			Help:      "Number of files with a tracked read position",
		}),
		FileEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "file_events_total",
			Help:      "Debounced file events by type",
		}, []string{"type"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "events_dropped_total",
			Help:      "Observable events dropped because no consumer kept up",
		}),

		ReadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "reads_total",
			Help:      "Incremental reads by result",
		}, []string{"result"}),
		ReadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "read_duration_seconds",
			Help:      "Time taken for one incremental read",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		RecordsRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "records_total",
			Help:      "Records successfully decoded",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "parse_errors_total",
			Help:      "Lines that failed JSON decoding",
		}),
		BytesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "bytes_total",
			Help:      "Bytes consumed from watched files",
		}),
		Truncations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "truncations_total",
			Help:      "Truncation resets forcing a full re-read",
		}),

		RecordsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_processed_total",
			Help:      "Records dispatched through the pipeline engine",
		}),
		FilteredGlobal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "filtered_global_total",
			Help:      "Records rejected by a global filter",
		}),
		FilteredPipeline: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "filtered_total",
			Help:      "Records rejected by a pipeline's filter conjunction",
		}, []string{"pipeline"}),
		PipelineFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "failures_total",
			Help:      "Pipeline evaluations that failed outright",
		}, []string{"pipeline"}),
		OutputsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "records_sent_total",
			Help:      "Records delivered per output",
		}, []string{"output"}),
		OutputsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "records_failed_total",
			Help:      "Record deliveries that failed per output",
		}, []string{"output"}),
		ProcessDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "process_duration_seconds",
			Help:      "Time taken to run one record through all pipelines",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),

		DLQRecordsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "records_written_total",
			Help:      "Records written to the dead letter queue",
		}),
	}
}

// Registry returns the prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
