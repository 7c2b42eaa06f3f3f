package output

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lcnomoto/cctailpipe/pkg/types"
)

func testRecord() *types.Record {
	return &types.Record{
		Data: map[string]any{"level": "error", "msg": "boom"},
		Path: "/data/app.jsonl",
		Line: 12,
		Raw:  `{"level":"error","msg":"boom"}`,
	}
}

func TestEncodeRecordPrefersRaw(t *testing.T) {
	data, err := encodeRecord(testRecord())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(data) != `{"level":"error","msg":"boom"}` {
		t.Errorf("Expected raw line verbatim, got %s", data)
	}

	data, err = encodeRecord(&types.Record{Data: map[string]any{"a": 1}})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("Expected marshalled data, got %s", data)
	}
}

func TestConsoleOutput(t *testing.T) {
	o, err := NewConsoleOutput("console", []byte(`{"includeSource":true}`))
	if err != nil {
		t.Fatalf("Failed to create output: %v", err)
	}

	var buf bytes.Buffer
	o.(*ConsoleOutput).SetWriter(&buf)

	if err := o.Send(context.Background(), testRecord()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got := buf.String()
	want := "/data/app.jsonl:12 {\"level\":\"error\",\"msg\":\"boom\"}\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestConsoleOutputBadStream(t *testing.T) {
	if _, err := NewConsoleOutput("console", []byte(`{"stream":"tty"}`)); err == nil {
		t.Error("Expected error for invalid stream")
	}
}

func TestFileOutputAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.jsonl")
	o, err := NewFileOutput("file", []byte(`{"path":"`+path+`"}`))
	if err != nil {
		t.Fatalf("Failed to create output: %v", err)
	}

	if err := o.Send(context.Background(), testRecord()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := o.Send(context.Background(), testRecord()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0] != `{"level":"error","msg":"boom"}` {
		t.Errorf("Unexpected line: %s", lines[0])
	}
}

func TestFileOutputRequiresPath(t *testing.T) {
	if _, err := NewFileOutput("file", []byte(`{}`)); err == nil {
		t.Error("Expected error without a path")
	}
}

func TestWebhookOutput(t *testing.T) {
	var calls atomic.Int64
	var body atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		body.Store(buf.String())
		if r.Header.Get("X-Source") != "tailpipe" {
			t.Errorf("Missing custom header")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o, err := NewWebhookOutput("hook", []byte(`{"url":"`+srv.URL+`","headers":{"X-Source":"tailpipe"},"maxRetries":1}`))
	if err != nil {
		t.Fatalf("Failed to create output: %v", err)
	}
	defer o.Close()

	if err := o.Send(context.Background(), testRecord()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
	if got := body.Load().(string); got != `{"level":"error","msg":"boom"}` {
		t.Errorf("Unexpected body: %s", got)
	}
}

func TestWebhookOutputRetriesOnServerError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o, err := NewWebhookOutput("hook", []byte(`{"url":"`+srv.URL+`","maxRetries":3}`))
	if err != nil {
		t.Fatalf("Failed to create output: %v", err)
	}
	defer o.Close()

	if err := o.Send(context.Background(), testRecord()); err != nil {
		t.Fatalf("Send should succeed after retry, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
}

func TestWebhookOutputTimeoutMillis(t *testing.T) {
	o, err := NewWebhookOutput("hook", []byte(`{"url":"http://127.0.0.1:9","timeoutMs":250}`))
	if err != nil {
		t.Fatalf("Failed to create output: %v", err)
	}
	defer o.Close()

	if got := o.(*WebhookOutput).client.Timeout; got != 250*time.Millisecond {
		t.Errorf("Expected 250ms timeout, got %v", got)
	}

	d, err := NewWebhookOutput("hook", []byte(`{"url":"http://127.0.0.1:9"}`))
	if err != nil {
		t.Fatalf("Failed to create output: %v", err)
	}
	defer d.Close()

	if got := d.(*WebhookOutput).client.Timeout; got != 10*time.Second {
		t.Errorf("Expected 10s default timeout, got %v", got)
	}
}

func TestCompressorRoundTrip(t *testing.T) {
	payload := []byte(`{"level":"error","msg":"boom"}` + "\n")

	for _, name := range []string{"none", "gzip", "snappy"} {
		c, err := GetCompressor(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		compressed, err := c.Compress(payload)
		if err != nil {
			t.Fatalf("%s compress: %v", name, err)
		}
		out, err := c.Decompress(compressed)
		if err != nil {
			t.Fatalf("%s decompress: %v", name, err)
		}
		if !bytes.Equal(out, payload) {
			t.Errorf("%s round trip mismatch", name)
		}
	}

	if _, err := GetCompressor("lz4"); err == nil {
		t.Error("Expected error for unsupported algorithm")
	}
}
