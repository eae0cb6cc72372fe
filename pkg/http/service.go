package http

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ServiceBase is a JSON client bound to one base URL with bounded retries.
// Upstream adapters and the remote model embed it.
type ServiceBase struct {
	baseURL  string
	client   *Client
	attempts int
	backoff  time.Duration
	headers  map[string]string
}

type ServiceOption func(*ServiceBase)

// WithRetry sets the total number of attempts and the linear backoff step.
func WithRetry(attempts int, backoff time.Duration) ServiceOption {
	return func(b *ServiceBase) {
		b.attempts = attempts
		b.backoff = backoff
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) ServiceOption {
	return func(b *ServiceBase) { b.headers[key] = value }
}

func NewServiceBase(baseURL string, client *Client, opts ...ServiceOption) *ServiceBase {
	if client == nil {
		client = NewClient()
	}
	b := &ServiceBase{
		baseURL:  baseURL,
		client:   client,
		attempts: 1,
		backoff:  50 * time.Millisecond,
		headers:  map[string]string{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// BaseURL returns the configured base URL.
func (b *ServiceBase) BaseURL() string { return b.baseURL }

// Configured reports whether a base URL is set.
func (b *ServiceBase) Configured() bool { return b != nil && b.baseURL != "" }

func (b *ServiceBase) do(ctx context.Context, method, path string, query map[string][]string, payload, dest interface{}) error {
	if !b.Configured() {
		return errors.New("http service base url not configured")
	}
	headers := make(map[string]string, len(b.headers)+1)
	for k, v := range b.headers {
		headers[k] = v
	}
	if payload != nil {
		headers["Content-Type"] = "application/json"
	}
	err := b.client.SendAndParse(ctx, &RequestOptions{
		Method:      method,
		URL:         b.baseURL + path,
		Headers:     headers,
		QueryParams: query,
		Body:        payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

func (b *ServiceBase) withRetry(ctx context.Context, call func() error) error {
	var err error
	for i := 1; i <= b.attempts || i == 1; i++ {
		if err = call(); err == nil || !retryable(err) || i >= b.attempts {
			return err
		}
		select {
		case <-time.After(time.Duration(i) * b.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// GetJSON issues a GET with query parameters and decodes the JSON body.
func (b *ServiceBase) GetJSON(ctx context.Context, path string, query map[string][]string, dest interface{}) error {
	return b.withRetry(ctx, func() error { return b.do(ctx, MethodGet, path, query, nil, dest) })
}

// PostJSON posts payload and decodes the JSON body.
func (b *ServiceBase) PostJSON(ctx context.Context, path string, payload, dest interface{}) error {
	return b.withRetry(ctx, func() error { return b.do(ctx, MethodPost, path, nil, payload, dest) })
}
