package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lcnomoto/cctailpipe/internal/config"
	"github.com/lcnomoto/cctailpipe/internal/dlq"
	"github.com/lcnomoto/cctailpipe/internal/health"
	"github.com/lcnomoto/cctailpipe/internal/logging"
	"github.com/lcnomoto/cctailpipe/internal/metrics"
	"github.com/lcnomoto/cctailpipe/internal/orchestrator"
	"github.com/lcnomoto/cctailpipe/internal/pipeline"
	"github.com/lcnomoto/cctailpipe/internal/plugin"
	"github.com/lcnomoto/cctailpipe/internal/plugin/filter"
	"github.com/lcnomoto/cctailpipe/internal/plugin/output"
	"github.com/lcnomoto/cctailpipe/internal/server"
	"github.com/lcnomoto/cctailpipe/internal/shutdown"
	"github.com/lcnomoto/cctailpipe/internal/tracing"
	"github.com/lcnomoto/cctailpipe/internal/tracker"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

var (
	configFile = flag.String("config", "config.json", "Path to configuration file")
	version    = "0.1.0"
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.SetGlobal(logger)

	logger.Info().Str("version", version).Str("dir", cfg.WatchDir).Msg("Starting cctailpipe")

	ctx := context.Background()

	var tracingCfg tracing.Config
	if cfg.Tracing != nil {
		tracingCfg = tracing.Config{
			Enabled:    cfg.Tracing.Enabled,
			Endpoint:   cfg.Tracing.Endpoint,
			SampleRate: cfg.Tracing.SampleRate,
		}
	}
	tracerProvider, err := tracing.NewProvider(ctx, tracingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	collector := metrics.NewCollector()

	engine := pipeline.NewEngine(logger, collector)
	if err := registerPlugins(cfg, engine, logger); err != nil {
		return err
	}
	engine.SetGlobalFilters(cfg.GlobalFilters)
	engine.SetGlobalOutputs(cfg.GlobalOutputs)

	var pipelines []pipeline.Pipeline
	for _, p := range cfg.Pipelines {
		pipelines = append(pipelines, pipeline.Pipeline{
			Name:    p.Name,
			Filters: p.FilterNames(),
			Outputs: p.Outputs,
		})
	}
	engine.SetPipelines(pipelines)

	tr, err := tracker.New(cfg.StateFile, 5*time.Second, logger)
	if err != nil {
		return fmt.Errorf("failed to create offset tracker: %w", err)
	}
	if err := tr.Load(); err != nil {
		logger.Warn().Err(err).Msg("Failed to load saved positions, starting fresh")
	}
	tr.Start()

	var deadLetter *dlq.Queue
	if cfg.DeadLetter != nil && cfg.DeadLetter.Enabled {
		deadLetter, err = dlq.New(dlq.Config{
			Dir:        cfg.DeadLetter.Dir,
			MaxEntries: cfg.DeadLetter.MaxSize,
		})
		if err != nil {
			return fmt.Errorf("failed to create dead letter queue: %w", err)
		}
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Config: orchestrator.Config{
			WatchDir:        cfg.WatchDir,
			Suffix:          cfg.FileSuffix,
			Debounce:        cfg.Debounce(),
			EnableBuffering: cfg.EnableBuffering,
		},
		Engine:     engine,
		Tracker:    tr,
		DeadLetter: deadLetter,
		Tracer:     tracerProvider.Tracer(),
		Logger:     logger,
		Metrics:    collector,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	checkTimeout := 5 * time.Second
	if cfg.Health != nil && cfg.Health.TimeoutMs > 0 {
		checkTimeout = cfg.Health.Timeout()
	}
	checker := health.NewChecker(checkTimeout)
	checker.Register("orchestrator", health.CheckFunc(func() (bool, string) {
		if orch.Running() {
			return true, "watching"
		}
		return false, "not running"
	}))
	checker.Register("tracker", health.CheckWithMetadata(func() (health.Status, string, map[string]any) {
		return health.StatusHealthy, "", map[string]any{"tracked_files": tr.Len()}
	}))
	if deadLetter != nil {
		checker.Register("deadletter", health.CheckWithMetadata(func() (health.Status, string, map[string]any) {
			stats := deadLetter.Stats()
			status := health.StatusHealthy
			if stats.Utilization() > 90 {
				status = health.StatusDegraded
			}
			return status, "", map[string]any{"size": stats.CurrentSize, "dropped": stats.Dropped}
		}))
	}

	srv := buildServer(cfg, collector, checker, logger)
	if srv != nil {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start admin server: %w", err)
		}
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	// Drain observable events so slow consumers never force drops, and
	// surface errors in the logs.
	go logEvents(orch.Events(), logger)

	mgr := shutdown.New(shutdown.Config{Timeout: 30 * time.Second, Logger: logger})
	mgr.RegisterComponent(orch)
	mgr.RegisterFunc("outputs", func(context.Context) error {
		return engine.CloseOutputs()
	})
	mgr.RegisterFunc("tracker", func(context.Context) error {
		tr.Stop()
		return nil
	})
	if deadLetter != nil {
		mgr.RegisterFunc("deadletter", func(context.Context) error {
			return deadLetter.Close()
		})
	}
	if srv != nil {
		mgr.RegisterFunc("server", srv.Stop)
	}
	mgr.RegisterFunc("tracing", tracerProvider.Shutdown)

	mgr.WaitForSignal()
	return mgr.WaitWithTimeout(35 * time.Second)
}

// registerPlugins builds every configured filter and output through the
// compile-time kind registry and hands the instances to the engine.
func registerPlugins(cfg *config.Config, engine *pipeline.Engine, logger *logging.Logger) error {
	reg := plugin.NewRegistry()
	if err := filter.Register(reg); err != nil {
		return fmt.Errorf("failed to register filter kinds: %w", err)
	}
	if err := output.Register(reg); err != nil {
		return fmt.Errorf("failed to register output kinds: %w", err)
	}

	for _, pc := range cfg.Filters {
		opts, err := pc.OptionsJSON()
		if err != nil {
			return fmt.Errorf("filter %s: %w", pc.Name, err)
		}
		f, err := reg.NewFilter(pc.Kind, pc.Name, opts)
		if err != nil {
			return fmt.Errorf("filter %s: %w", pc.Name, err)
		}
		engine.RegisterFilter(f)
		logger.Debug().Str("filter", pc.Name).Str("kind", pc.Kind).Msg("Registered filter")
	}

	for _, pc := range cfg.Outputs {
		opts, err := pc.OptionsJSON()
		if err != nil {
			return fmt.Errorf("output %s: %w", pc.Name, err)
		}
		o, err := reg.NewOutput(pc.Kind, pc.Name, opts)
		if err != nil {
			return fmt.Errorf("output %s: %w", pc.Name, err)
		}
		engine.RegisterOutput(o)
		logger.Debug().Str("output", pc.Name).Str("kind", pc.Kind).Msg("Registered output")
	}

	return nil
}

func buildServer(cfg *config.Config, collector *metrics.Collector, checker *health.Checker, logger *logging.Logger) *server.Server {
	srvCfg := server.Config{Logger: logger}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		srvCfg.MetricsAddress = cfg.Metrics.Address
		srvCfg.MetricsPath = cfg.Metrics.Path
		srvCfg.MetricsRegistry = collector.Registry()
	}
	if cfg.Health != nil && cfg.Health.Enabled {
		srvCfg.HealthAddress = cfg.Health.Address
		srvCfg.HealthChecker = checker
	}

	if srvCfg.MetricsAddress == "" && srvCfg.HealthAddress == "" {
		return nil
	}
	return server.New(srvCfg)
}

func logEvents(events <-chan types.Event, logger *logging.Logger) {
	log := logger.WithComponent("events")
	for ev := range events {
		switch ev.Type {
		case types.EventProcessingError, types.EventPipelineError:
			log.Warn().Str("type", string(ev.Type)).Str("path", ev.Path).
				Str("pipeline", ev.Pipeline).Str("output", ev.Output).
				Str("error", ev.Error).Msg("Processing error")
		case types.EventParseError:
			log.Debug().Str("path", ev.Path).Int("line", ev.Line).
				Str("error", ev.Error).Msg("Parse error")
		default:
			log.Debug().Str("type", string(ev.Type)).Str("path", ev.Path).Msg("Event")
		}
	}
}
