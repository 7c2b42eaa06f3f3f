package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/lcnomoto/cctailpipe/internal/plugin"
	"github.com/lcnomoto/cctailpipe/internal/reliability"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// ElasticsearchConfig holds elasticsearch output options.
type ElasticsearchConfig struct {
	// Addresses is the list of node URLs.
	Addresses []string `json:"addresses"`

	// Index is the destination index name.
	Index string `json:"index"`

	// Rotation: "none" (default) or "daily" for index-YYYY.MM.DD suffixes.
	Rotation string `json:"rotation,omitempty"`

	// Pipeline optionally names an ingest pipeline.
	Pipeline string `json:"pipeline,omitempty"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	CloudID  string `json:"cloudId,omitempty"`

	// MaxRetries bounds the retry budget per record. Default 3.
	MaxRetries int `json:"maxRetries,omitempty"`
}

// ElasticsearchOutput indexes each record as one document.
type ElasticsearchOutput struct {
	name   string
	cfg    ElasticsearchConfig
	client *elasticsearch.Client
	retry  reliability.RetryConfig
	closed atomic.Bool
}

// NewElasticsearchOutput constructs an elasticsearch output from JSON
// options.
func NewElasticsearchOutput(name string, options []byte) (plugin.Output, error) {
	var cfg ElasticsearchConfig
	if err := json.Unmarshal(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid elasticsearch output options: %w", err)
	}
	if len(cfg.Addresses) == 0 && cfg.CloudID == "" {
		return nil, fmt.Errorf("elasticsearch output requires addresses or a cloud id")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("elasticsearch output requires an index")
	}
	switch cfg.Rotation {
	case "", "none", "daily":
	default:
		return nil, fmt.Errorf("invalid elasticsearch rotation: %s", cfg.Rotation)
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		CloudID:   cfg.CloudID,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &ElasticsearchOutput{
		name:   name,
		cfg:    cfg,
		client: client,
		retry:  reliability.DefaultRetryConfig(cfg.MaxRetries),
	}, nil
}

// Name returns the instance name.
func (o *ElasticsearchOutput) Name() string { return o.name }

// Send indexes the record.
func (o *ElasticsearchOutput) Send(ctx context.Context, rec *types.Record) error {
	if o.closed.Load() {
		return fmt.Errorf("elasticsearch output is closed")
	}

	doc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	index := o.indexName(time.Now())

	return reliability.Retry(ctx, o.retry, func(ctx context.Context) error {
		req := esapi.IndexRequest{
			Index:   index,
			Body:    bytes.NewReader(doc),
			Refresh: "false",
		}
		if o.cfg.Pipeline != "" {
			req.Pipeline = o.cfg.Pipeline
		}

		res, err := req.Do(ctx, o.client)
		if err != nil {
			return fmt.Errorf("failed to index document: %w", err)
		}
		defer res.Body.Close()

		if res.IsError() {
			return fmt.Errorf("elasticsearch returned error: %s", res.Status())
		}
		return nil
	})
}

func (o *ElasticsearchOutput) indexName(now time.Time) string {
	if o.cfg.Rotation == "daily" {
		return fmt.Sprintf("%s-%s", o.cfg.Index, now.UTC().Format("2006.01.02"))
	}
	return o.cfg.Index
}

// Close marks the output closed.
func (o *ElasticsearchOutput) Close() error {
	o.closed.Store(true)
	return nil
}
