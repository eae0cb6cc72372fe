package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/timshannon/badgerhold/v4"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
)

// MemoryKV is the default document store; contents vanish on restart.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ drepo.KVStore = (*MemoryKV)(nil)

func NewMemoryKV() *MemoryKV { return &MemoryKV{data: make(map[string][]byte)} }

func (m *MemoryKV) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("key %s: %w", key, models.ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryKV) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Close() error { return nil }

// RedisKV stores documents as plain Redis strings without expiry.
type RedisKV struct {
	cli    *redis.Client
	prefix string
}

var _ drepo.KVStore = (*RedisKV)(nil)

func NewRedisKV(cli *redis.Client, prefix string) *RedisKV {
	return &RedisKV{cli: cli, prefix: prefix}
}

func (r *RedisKV) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *RedisKV) Load(ctx context.Context, key string) ([]byte, error) {
	b, err := r.cli.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("key %s: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

func (r *RedisKV) Save(ctx context.Context, key string, value []byte) error {
	if err := r.cli.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the client is shared with the cache and closed by the app.
func (r *RedisKV) Close() error { return nil }

// document is the badgerhold record for one key.
type document struct {
	Key   string `badgerhold:"key"`
	Value []byte
}

// BadgerKV is an embedded on-disk store.
type BadgerKV struct {
	store *badgerhold.Store
}

var _ drepo.KVStore = (*BadgerKV)(nil)

// OpenBadgerKV opens (creating if needed) a store under dir.
func OpenBadgerKV(dir string) (*BadgerKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger dir: %w", err)
	}
	opts := badgerhold.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.Logger = nil
	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerKV{store: store}, nil
}

func (b *BadgerKV) Load(_ context.Context, key string) ([]byte, error) {
	var d document
	if err := b.store.Get(key, &d); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("key %s: %w", key, models.ErrNotFound)
		}
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return d.Value, nil
}

func (b *BadgerKV) Save(_ context.Context, key string, value []byte) error {
	if err := b.store.Upsert(key, &document{Key: key, Value: value}); err != nil {
		return fmt.Errorf("badger upsert %s: %w", key, err)
	}
	return nil
}

func (b *BadgerKV) Close() error { return b.store.Close() }
