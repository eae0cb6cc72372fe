package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships a digest batch. The Kafka producer satisfies it.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type DigestConfig struct {
	Interval  time.Duration
	MaxUnique int
	Topic     string
	Publisher Publisher
}

// DigestEntry counts repeats of one (level, message, caller, fields) tuple.
type DigestEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// Digest deduplicates warnings and errors and flushes them periodically or
// once MaxUnique distinct entries accumulate.
type Digest struct {
	cfg     DigestConfig
	mu      sync.Mutex
	entries map[uint64]*DigestEntry
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func NewDigest(cfg DigestConfig) *Digest {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxUnique <= 0 {
		cfg.MaxUnique = 100
	}
	d := &Digest{cfg: cfg, entries: map[uint64]*DigestEntry{}, stop: make(chan struct{})}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Digest) Add(level, msg string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := fingerprint(level, msg, caller, fields)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if e, ok := d.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		return
	}
	d.entries[key] = &DigestEntry{Level: level, Message: msg, Fields: fields, Caller: caller, Count: 1, FirstSeen: now, LastSeen: now}
	if len(d.entries) >= d.cfg.MaxUnique {
		batch := d.takeLocked()
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.publish(batch)
		}()
	}
}

// Pending returns the number of distinct entries awaiting flush.
func (d *Digest) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func fingerprint(level, msg, caller string, fields map[string]interface{}) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s", level, msg, caller)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%v", k, fields[k])
	}
	return h.Sum64()
}

func (d *Digest) loop() {
	defer d.wg.Done()
	t := time.NewTicker(d.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			d.publish(d.take())
		case <-d.stop:
			d.publish(d.take())
			return
		}
	}
}

func (d *Digest) take() []DigestEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.takeLocked()
}

func (d *Digest) takeLocked() []DigestEntry {
	if len(d.entries) == 0 {
		return nil
	}
	batch := make([]DigestEntry, 0, len(d.entries))
	for _, e := range d.entries {
		batch = append(batch, *e)
	}
	d.entries = map[uint64]*DigestEntry{}
	return batch
}

func (d *Digest) publish(batch []DigestEntry) {
	if len(batch) == 0 || d.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.cfg.Publisher.PublishMessage(ctx, d.cfg.Topic, batch); err != nil {
		// logging here would recurse into the digest
		fmt.Fprintf(os.Stderr, "log digest publish failed: %v\n", err)
	}
}

// Close stops the flush loop after a final flush and waits for in-flight
// publishes.
func (d *Digest) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.stop)
	})
	d.wg.Wait()
}
