package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func failingCall() error { return errors.New("downstream failed") }

func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
		Timeout:     time.Hour,
	})

	for i := 0; i < 3; i++ {
		if err := cb.Execute(context.Background(), failingCall); err == nil {
			t.Fatal("Expected failure")
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("Expected open after 3 failures, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected fail-fast ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     20 * time.Millisecond,
		MaxRequests: 1,
	})

	if err := cb.Execute(context.Background(), failingCall); err == nil {
		t.Fatal("Expected failure")
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected half-open after timeout, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Probe should be allowed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     20 * time.Millisecond,
	})

	cb.Execute(context.Background(), failingCall)
	time.Sleep(30 * time.Millisecond)

	if err := cb.Execute(context.Background(), failingCall); err == nil {
		t.Fatal("Expected probe failure")
	}
	if cb.State() != StateOpen {
		t.Errorf("Failed probe should reopen the breaker, got %s", cb.State())
	}
}

func TestCircuitBreakerPanicCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     time.Hour,
	})

	func() {
		defer func() { recover() }()
		cb.Execute(context.Background(), func() error { panic("boom") })
	}()

	if cb.State() != StateOpen {
		t.Errorf("Panic should count as failure, got %s", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     time.Hour,
	})

	cb.Execute(context.Background(), failingCall)
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after reset, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("Execution after reset should succeed, got %v", err)
	}
}
