package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/lcnomoto/cctailpipe/internal/plugin"
	"github.com/lcnomoto/cctailpipe/pkg/types"
)

// S3Config holds s3 output options.
type S3Config struct {
	// Bucket is the destination bucket.
	Bucket string `json:"bucket"`

	// Region is the AWS region.
	Region string `json:"region"`

	// Prefix is prepended to object keys. Default "records/".
	Prefix string `json:"prefix,omitempty"`

	// Compression: none (default), gzip, snappy.
	Compression string `json:"compression,omitempty"`

	// StorageClass is the S3 storage class, STANDARD if empty.
	StorageClass string `json:"storageClass,omitempty"`

	// Endpoint overrides the S3 endpoint for compatible services.
	Endpoint string `json:"endpoint,omitempty"`

	// UsePathStyle forces path-style addressing (MinIO and friends).
	UsePathStyle bool `json:"usePathStyle,omitempty"`
}

// S3Output uploads each record as one object, keyed by timestamp so objects
// sort chronologically within the prefix.
type S3Output struct {
	name       string
	cfg        S3Config
	client     *s3.Client
	compressor Compressor
	seq        atomic.Int64
	closed     atomic.Bool
}

// NewS3Output constructs an s3 output from JSON options.
func NewS3Output(name string, options []byte) (plugin.Output, error) {
	var cfg S3Config
	if err := json.Unmarshal(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid s3 output options: %w", err)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 output requires a bucket")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 output requires a region")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "records/"
	}

	compressor, err := GetCompressor(cfg.Compression)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &S3Output{
		name:       name,
		cfg:        cfg,
		client:     s3.NewFromConfig(awsCfg, opts...),
		compressor: compressor,
	}, nil
}

// Name returns the instance name.
func (o *S3Output) Name() string { return o.name }

// Send uploads the record.
func (o *S3Output) Send(ctx context.Context, rec *types.Record) error {
	if o.closed.Load() {
		return fmt.Errorf("s3 output is closed")
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	data, err = o.compressor.Compress(append(data, '\n'))
	if err != nil {
		return fmt.Errorf("failed to compress record: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(o.cfg.Bucket),
		Key:         aws.String(o.objectKey(time.Now())),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if o.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(o.cfg.StorageClass)
	}

	if _, err := o.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

func (o *S3Output) objectKey(now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s%s/%d-%06d.json%s",
		o.cfg.Prefix,
		now.Format("2006/01/02"),
		now.UnixNano(),
		o.seq.Add(1),
		o.compressor.Ext(),
	)
}

// Close marks the output closed.
func (o *S3Output) Close() error {
	o.closed.Store(true)
	return nil
}
