package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckerRunAll(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("good", CheckFunc(func() (bool, string) { return true, "fine" }))
	c.Register("bad", CheckFunc(func() (bool, string) { return false, "broken" }))

	results := c.RunAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results["good"].Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", results["good"].Status)
	}
	if results["bad"].Status != StatusUnhealthy || results["bad"].Message != "broken" {
		t.Errorf("Unexpected result: %+v", results["bad"])
	}
	if results["good"].LastChecked.IsZero() {
		t.Error("LastChecked should be set")
	}
}

func TestOverallStatus(t *testing.T) {
	c := NewChecker(time.Second)
	if got := c.OverallStatus(context.Background()); got != StatusHealthy {
		t.Errorf("No checks should be healthy, got %s", got)
	}

	c.Register("degraded", CheckWithMetadata(func() (Status, string, map[string]any) {
		return StatusDegraded, "slow", nil
	}))
	if got := c.OverallStatus(context.Background()); got != StatusDegraded {
		t.Errorf("Expected degraded, got %s", got)
	}

	c.Register("down", CheckFunc(func() (bool, string) { return false, "" }))
	if got := c.OverallStatus(context.Background()); got != StatusUnhealthy {
		t.Errorf("Unhealthy should dominate, got %s", got)
	}
}

func TestUnregister(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("x", CheckFunc(func() (bool, string) { return false, "" }))
	c.RunAll(context.Background())
	c.Unregister("x")

	if len(c.RunAll(context.Background())) != 0 {
		t.Error("Unregistered check should not run")
	}
	if len(c.LastStatus()) != 0 {
		t.Error("Unregister should drop the last status")
	}
}

func TestHTTPHandlerStatusCodes(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("ok", CheckFunc(func() (bool, string) { return true, "" }))

	rr := httptest.NewRecorder()
	c.HTTPHandler()(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rr.Code)
	}

	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if resp.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", resp.Status)
	}

	c.Register("down", CheckFunc(func() (bool, string) { return false, "" }))
	rr = httptest.NewRecorder()
	c.HTTPHandler()(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rr.Code)
	}
}

func TestProbeHandlers(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("down", CheckFunc(func() (bool, string) { return false, "" }))

	rr := httptest.NewRecorder()
	c.LivenessHandler()(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Liveness should always be 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	c.ReadinessHandler()(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Readiness should fail when unhealthy, got %d", rr.Code)
	}
}
