package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotRunning = errors.New("queue not running")
	ErrNoJob      = errors.New("no job registered for type")
)

// Queue accepts messages for registered jobs and runs them on a worker pool.
type Queue interface {
	RegisterJob(job Job)
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
	Start() error
	Stop(ctx context.Context) error
}

// Config sizes the worker pool and retry policy.
type Config struct {
	Workers    int
	QueueSize  int
	RetryLimit int
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	return c
}

// Message is the unit stored on the queue.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Attempts  int         `json:"attempts"`
	Timestamp time.Time   `json:"timestamp"`
}

// ParsePayload converts a handler payload into T. Payloads that crossed a
// JSON boundary arrive as maps, slices or raw JSON.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}
