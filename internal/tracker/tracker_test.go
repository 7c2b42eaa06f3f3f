package tracker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lcnomoto/cctailpipe/internal/logging"
)

func TestTrackerSetGetRemove(t *testing.T) {
	tr, err := New("", time.Second, logging.Nop())
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}

	tr.Set("/data/app.jsonl", 1234, 42)

	pos, ok := tr.Get("/data/app.jsonl")
	if !ok {
		t.Fatal("Position not found")
	}
	if pos.Offset != 1234 || pos.Line != 42 {
		t.Errorf("Expected offset 1234 line 42, got %d/%d", pos.Offset, pos.Line)
	}

	if _, ok := tr.Get("/data/other.jsonl"); ok {
		t.Error("Unknown file should not have a position")
	}

	tr.Remove("/data/app.jsonl")
	if _, ok := tr.Get("/data/app.jsonl"); ok {
		t.Error("Removed file should not have a position")
	}
	if tr.Len() != 0 {
		t.Errorf("Expected empty tracker, got %d entries", tr.Len())
	}
}

func TestTrackerGetReturnsCopy(t *testing.T) {
	tr, err := New("", time.Second, logging.Nop())
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}

	tr.Set("/data/app.jsonl", 100, 5)
	pos, _ := tr.Get("/data/app.jsonl")
	pos.Offset = 9999

	again, _ := tr.Get("/data/app.jsonl")
	if again.Offset != 100 {
		t.Errorf("Mutating the returned position leaked into the table: %d", again.Offset)
	}
}

func TestTrackerSaveLoad(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state", "positions.json")

	tr1, err := New(stateFile, time.Second, logging.Nop())
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}
	tr1.Set("/data/a.jsonl", 1000, 10)
	tr1.Set("/data/b.jsonl", 2000, 20)

	if err := tr1.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(stateFile); err != nil {
		t.Fatalf("State file not written: %v", err)
	}

	tr2, err := New(stateFile, time.Second, logging.Nop())
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}
	if err := tr2.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	pos, ok := tr2.Get("/data/a.jsonl")
	if !ok || pos.Offset != 1000 || pos.Line != 10 {
		t.Errorf("Expected offset 1000 line 10, got %+v ok=%v", pos, ok)
	}
	if tr2.Len() != 2 {
		t.Errorf("Expected 2 entries after load, got %d", tr2.Len())
	}
}

func TestTrackerLoadMissingFile(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "positions.json")

	tr, err := New(stateFile, time.Second, logging.Nop())
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}
	if err := tr.Load(); err != nil {
		t.Fatalf("Load of absent state file should succeed, got %v", err)
	}
	if tr.Len() != 0 {
		t.Errorf("Expected empty tracker, got %d entries", tr.Len())
	}
}

func TestTrackerStopSaves(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "positions.json")

	tr, err := New(stateFile, time.Hour, logging.Nop())
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}
	tr.Start()
	tr.Set("/data/a.jsonl", 512, 4)
	tr.Stop()

	if _, err := os.Stat(stateFile); err != nil {
		t.Fatalf("Stop should perform a final save: %v", err)
	}
}

func TestTrackerMemoryOnly(t *testing.T) {
	tr, err := New("", time.Second, logging.Nop())
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}
	tr.Start()
	tr.Set("/data/a.jsonl", 1, 1)

	if err := tr.Save(); err != nil {
		t.Errorf("Save on memory-only tracker should be a no-op, got %v", err)
	}
	tr.Stop()
}
