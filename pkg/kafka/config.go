package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

var compressionCodecs = map[string]kafka.Compression{
	"none":   0,
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

// ProducerOption configures Producer.
type ProducerOption func(*ProducerConfig)

// ProducerConfig sizes the artifact writer. Keys hash to partitions, so all
// artifacts of one symbol stay ordered.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	RequiredAcks int
	Compression  string
	MaxAttempts  int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	BatchSize    int
	BatchBytes   int
	BatchTimeout time.Duration
	Async        bool
}

func defaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		RequiredAcks: -1,
		Compression:  "snappy",
		MaxAttempts:  5,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		BatchSize:    100,
		BatchBytes:   1 << 20,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func (c *ProducerConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: brokers are required")
	}
	if c.Compression == "" {
		c.Compression = "snappy"
	}
	if _, ok := compressionCodecs[c.Compression]; !ok {
		return fmt.Errorf("kafka: unknown compression %q", c.Compression)
	}
	switch c.RequiredAcks {
	case -1, 0, 1:
	default:
		return fmt.Errorf("kafka: required acks must be -1, 0 or 1, got %d", c.RequiredAcks)
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	return nil
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

// WithTopic sets the topic used when Publish is given none.
func WithTopic(topic string) ProducerOption {
	return func(c *ProducerConfig) { c.Topic = topic }
}

// WithCompression picks none, gzip, snappy, lz4 or zstd.
func WithCompression(compression string) ProducerOption {
	return func(c *ProducerConfig) { c.Compression = compression }
}

// WithRequiredAcks sets required acknowledgements (-1 = all).
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *ProducerConfig) { c.RequiredAcks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *ProducerConfig) { c.MaxAttempts = n }
}

// WithBatch sets batch size and flush timeout. Zero values keep the defaults.
func WithBatch(size int, timeout time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if size > 0 {
			c.BatchSize = size
		}
		if timeout > 0 {
			c.BatchTimeout = timeout
		}
	}
}

func WithWriteTimeout(d time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if d > 0 {
			c.WriteTimeout = d
		}
	}
}

// WithAsync makes writes fire-and-forget. Errors then surface only in the
// writer's own logs.
func WithAsync(async bool) ProducerOption {
	return func(c *ProducerConfig) { c.Async = async }
}
