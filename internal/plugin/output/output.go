// Package output provides the built-in output plugins. Each kind is
// registered with the plugin registry at wiring time via Register.
package output

import (
	"encoding/json"
	"fmt"

	"github.com/lcnomoto/cctailpipe/internal/plugin"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// Register adds the built-in output kinds to the registry.
func Register(reg *plugin.Registry) error {
	kinds := []struct {
		kind    string
		factory plugin.OutputFactory
	}{
		{"console", NewConsoleOutput},
		{"file", NewFileOutput},
		{"webhook", NewWebhookOutput},
		{"kafka", NewKafkaOutput},
		{"elasticsearch", NewElasticsearchOutput},
		{"s3", NewS3Output},
	}

	for _, k := range kinds {
		if err := reg.RegisterOutputKind(k.kind, k.factory); err != nil {
			return fmt.Errorf("%s output registration: %w", k.kind, err)
		}
	}
	return nil
}

// encodeRecord renders a record as a single JSON line. The original raw
// line is preserved when available so downstream consumers see exactly what
// was written to the source file.
func encodeRecord(rec *types.Record) ([]byte, error) {
	if rec.Raw != "" {
		return []byte(rec.Raw), nil
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return data, nil
}
