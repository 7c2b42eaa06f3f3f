// Package shutdown coordinates graceful teardown on signal or request.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lcnomoto/cctailpipe/internal/logging"
)

// Func performs one piece of cleanup during shutdown.
type Func func(context.Context) error

// Config holds shutdown manager settings.
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// Manager runs registered cleanup functions when a shutdown signal arrives.
// Functions run sequentially in reverse registration order, so components
// registered first (the orchestrator) are torn down after the ones that
// depend on them (servers, outputs).
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration

	mu    sync.Mutex
	funcs []namedFunc

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	gracefulDone chan struct{}
}

type namedFunc struct {
	name string
	fn   Func
}

// New creates a shutdown manager.
func New(cfg Config) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Manager{
		logger:       cfg.Logger,
		timeout:      cfg.Timeout,
		shutdownCh:   make(chan struct{}),
		gracefulDone: make(chan struct{}),
	}
}

// RegisterFunc adds a cleanup function to run during shutdown.
func (m *Manager) RegisterFunc(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug().Str("component", name).Msg("Registered shutdown function")
	m.funcs = append(m.funcs, namedFunc{name: name, fn: fn})
}

// Component is anything with a name and a context-aware Stop.
type Component interface {
	Stop(context.Context) error
	Name() string
}

// RegisterComponent registers a component's Stop for shutdown.
func (m *Manager) RegisterComponent(component Component) {
	m.RegisterFunc(component.Name(), component.Stop)
}

// WaitForSignal blocks until a shutdown signal arrives, then shuts down.
func (m *Manager) WaitForSignal(signals ...os.Signal) {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		m.Shutdown()
	case <-m.shutdownCh:
		// Shutdown already initiated elsewhere.
	}
}

// Shutdown initiates graceful teardown. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
		m.perform()
	})
}

func (m *Manager) perform() {
	m.mu.Lock()
	funcs := make([]namedFunc, len(m.funcs))
	copy(funcs, m.funcs)
	m.mu.Unlock()

	m.logger.Info().
		Dur("timeout", m.timeout).
		Int("functions", len(funcs)).
		Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	done := make(chan int)
	go func() {
		errorCount := 0
		for i := len(funcs) - 1; i >= 0; i-- {
			nf := funcs[i]
			if err := nf.fn(ctx); err != nil {
				errorCount++
				m.logger.Error().Err(err).Str("component", nf.name).
					Msg("Shutdown function failed")
			} else {
				m.logger.Debug().Str("component", nf.name).
					Msg("Shutdown function completed")
			}
		}
		done <- errorCount
	}()

	select {
	case errorCount := <-done:
		if errorCount > 0 {
			m.logger.Warn().Int("errors", errorCount).
				Msg("Graceful shutdown completed with errors")
		} else {
			m.logger.Info().Msg("Graceful shutdown completed successfully")
		}
	case <-ctx.Done():
		m.logger.Warn().Dur("timeout", m.timeout).
			Msg("Graceful shutdown timed out, forcing exit")
	}

	close(m.gracefulDone)
}

// Done is closed when shutdown has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.gracefulDone
}

// ShutdownChannel is closed when shutdown is initiated.
func (m *Manager) ShutdownChannel() <-chan struct{} {
	return m.shutdownCh
}

// WaitWithTimeout waits for shutdown to finish, up to timeout.
func (m *Manager) WaitWithTimeout(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.Done():
		return nil
	case <-timer.C:
		return fmt.Errorf("shutdown did not complete within %v", timeout)
	}
}
