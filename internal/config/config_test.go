package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"watchDir": "/data/logs",
		"filters": [{"name": "errors", "kind": "keyword", "options": {"keywords": ["error"]}}],
		"outputs": [{"name": "console", "kind": "console"}],
		"pipelines": [{"name": "p1", "filter": "errors", "outputs": ["console"]}]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WatchDir != "/data/logs" {
		t.Errorf("Unexpected watchDir: %s", cfg.WatchDir)
	}
	if cfg.FileSuffix != ".jsonl" {
		t.Errorf("Expected default suffix, got %s", cfg.FileSuffix)
	}
	if cfg.DebounceMs != 1000 {
		t.Errorf("Expected default debounce, got %d", cfg.DebounceMs)
	}
	if cfg.Debounce() != time.Second {
		t.Errorf("Expected 1s debounce duration, got %v", cfg.Debounce())
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Expected default logging, got %+v", cfg.Logging)
	}
}

func TestHealthTimeoutMillis(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"watchDir": "/data/logs",
		"health": {"enabled": true, "timeoutMs": 2500}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Health.TimeoutMs != 2500 {
		t.Errorf("Expected 2500ms, got %d", cfg.Health.TimeoutMs)
	}
	if cfg.Health.Timeout() != 2500*time.Millisecond {
		t.Errorf("Expected 2.5s duration, got %v", cfg.Health.Timeout())
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
watchDir: /data/logs
debounceMs: 250
logging:
  level: debug
pipelines:
  - name: all
    outputs: [console]
outputs:
  - name: console
    kind: console
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DebounceMs != 250 {
		t.Errorf("Expected 250ms debounce, got %d", cfg.DebounceMs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TAILPIPE_DIR", "/var/lib/tailpipe")
	path := writeConfig(t, "config.json", `{"watchDir": "${TAILPIPE_DIR}/logs"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WatchDir != "/var/lib/tailpipe/logs" {
		t.Errorf("Environment not expanded: %s", cfg.WatchDir)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing watchDir", `{}`},
		{"bad log level", `{"watchDir": "/d", "logging": {"level": "chatty"}}`},
		{"filter without kind", `{"watchDir": "/d", "filters": [{"name": "x"}]}`},
		{"pipeline without outputs", `{"watchDir": "/d", "pipelines": [{"name": "p"}]}`},
		{"dlq without dir", `{"watchDir": "/d", "deadLetter": {"enabled": true}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "config.json", tc.body)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Errorf("Expected ConfigError, got %T: %v", err, err)
			}
		})
	}
}

func TestPipelineFilterNames(t *testing.T) {
	p := PipelineConfig{Filter: "first", Filters: []string{"second", "third"}}
	names := p.FilterNames()
	if len(names) != 3 || names[0] != "first" || names[2] != "third" {
		t.Errorf("Unexpected conjunction order: %v", names)
	}

	if got := (PipelineConfig{}).FilterNames(); len(got) != 0 {
		t.Errorf("Expected empty conjunction, got %v", got)
	}
}

func TestPluginOptionsJSON(t *testing.T) {
	p := PluginConfig{Name: "x", Kind: "keyword", Options: map[string]any{"keywords": []string{"a"}}}
	data, err := p.OptionsJSON()
	if err != nil {
		t.Fatalf("OptionsJSON failed: %v", err)
	}
	if string(data) != `{"keywords":["a"]}` {
		t.Errorf("Unexpected options: %s", data)
	}

	empty := PluginConfig{Name: "y", Kind: "console"}
	data, err = empty.OptionsJSON()
	if err != nil || string(data) != "{}" {
		t.Errorf("Expected empty object, got %s err=%v", data, err)
	}
}
