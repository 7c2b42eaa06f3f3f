package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lcnomoto/cctailpipe/internal/plugin"
	"github.com/lcnomoto/cctailpipe/internal/reliability"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// WebhookConfig holds webhook output options.
type WebhookConfig struct {
	// URL is the endpoint records are POSTed to.
	URL string `json:"url"`

	// Headers are added to every request.
	Headers map[string]string `json:"headers,omitempty"`

	// TimeoutMs bounds one HTTP attempt, in milliseconds. Default 10000.
	TimeoutMs int `json:"timeoutMs,omitempty"`

	// MaxRetries bounds the retry budget per record. Default 3.
	MaxRetries int `json:"maxRetries,omitempty"`

	// FailureThreshold is the consecutive-failure count that trips the
	// circuit breaker. Default 5.
	FailureThreshold uint32 `json:"failureThreshold,omitempty"`
}

// WebhookOutput POSTs each record as JSON to an HTTP endpoint. Sends are
// retried with exponential backoff; a consistently failing endpoint trips a
// circuit breaker so subsequent records fail fast until the cooldown probe
// succeeds.
type WebhookOutput struct {
	name    string
	cfg     WebhookConfig
	client  *http.Client
	breaker *reliability.CircuitBreaker
	retry   reliability.RetryConfig
}

// NewWebhookOutput constructs a webhook output from JSON options.
func NewWebhookOutput(name string, options []byte) (plugin.Output, error) {
	var cfg WebhookConfig
	if err := json.Unmarshal(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid webhook output options: %w", err)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook output requires a url")
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 10000
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	return &WebhookOutput{
		name:   name,
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		breaker: reliability.NewCircuitBreaker(reliability.CircuitBreakerConfig{
			ReadyToTrip: func(c reliability.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			Timeout: 30 * time.Second,
		}),
		retry: reliability.DefaultRetryConfig(cfg.MaxRetries),
	}, nil
}

// Name returns the instance name.
func (o *WebhookOutput) Name() string { return o.name }

// Send delivers the record.
func (o *WebhookOutput) Send(ctx context.Context, rec *types.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	return reliability.Retry(ctx, o.retry, func(ctx context.Context) error {
		return o.breaker.Execute(ctx, func() error {
			return o.post(ctx, data)
		})
	})
}

func (o *WebhookOutput) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range o.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (o *WebhookOutput) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
