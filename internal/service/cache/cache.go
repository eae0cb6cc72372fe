package cache

import (
	"context"
	"time"
)

// BytesCache stores raw bytes with a TTL. It backs the shared second-level
// snapshot cache so several processes can reuse each other's fetches.
type BytesCache interface {
	GetBytes(ctx context.Context, key string) (b []byte, ok bool, err error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}
