package output

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/IBM/sarama"

	"github.com/lcnomoto/cctailpipe/internal/plugin"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// KafkaConfig holds kafka output options.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `json:"brokers"`

	// Topic messages are produced to.
	Topic string `json:"topic"`

	// KeyField optionally names a record field used as the message key
	// for partitioning.
	KeyField string `json:"keyField,omitempty"`

	// RequiredAcks: 0, 1 (default) or -1 for all in-sync replicas.
	RequiredAcks int16 `json:"requiredAcks,omitempty"`

	// Compression: none (default), gzip, snappy, lz4, zstd.
	Compression string `json:"compression,omitempty"`

	// ClientID identifies this producer to the brokers.
	ClientID string `json:"clientId,omitempty"`
}

// KafkaOutput produces each record to a Kafka topic.
type KafkaOutput struct {
	name     string
	cfg      KafkaConfig
	producer sarama.SyncProducer
	closed   atomic.Bool
}

// NewKafkaOutput constructs a kafka output from JSON options.
func NewKafkaOutput(name string, options []byte) (plugin.Output, error) {
	var cfg KafkaConfig
	if err := json.Unmarshal(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid kafka output options: %w", err)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka output requires brokers")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka output requires a topic")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cctailpipe"
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = 1
	}

	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	sc.ClientID = cfg.ClientID

	switch cfg.Compression {
	case "", "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("invalid kafka compression codec: %s", cfg.Compression)
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaOutput{name: name, cfg: cfg, producer: producer}, nil
}

// Name returns the instance name.
func (o *KafkaOutput) Name() string { return o.name }

// Send produces the record.
func (o *KafkaOutput) Send(_ context.Context, rec *types.Record) error {
	if o.closed.Load() {
		return fmt.Errorf("kafka output is closed")
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: o.cfg.Topic,
		Value: sarama.ByteEncoder(data),
	}
	if key := o.messageKey(rec); key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	if _, _, err := o.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

func (o *KafkaOutput) messageKey(rec *types.Record) string {
	if o.cfg.KeyField == "" {
		return ""
	}
	obj, ok := rec.Data.(map[string]any)
	if !ok {
		return ""
	}
	if v, ok := obj[o.cfg.KeyField].(string); ok {
		return v
	}
	return ""
}

// Close shuts down the producer.
func (o *KafkaOutput) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	return o.producer.Close()
}
