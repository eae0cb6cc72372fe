package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	applogger "SignalFusion/pkg/logger"
)

// RedisQueue keeps messages in a redis list, delayed retries in a sorted set
// and exhausted messages in a dead-letter list. Several processes may share
// one prefix.
type RedisQueue struct {
	log       *applogger.Logger
	cfg       Config
	client    *redis.Client
	keyPrefix string

	mu        sync.RWMutex
	jobs      map[string]Job
	isRunning bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

var _ Queue = (*RedisQueue)(nil)

type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces the queue keys.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

func NewRedisQueue(log *applogger.Logger, cfg Config, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	ctx, cancel := context.WithCancel(context.Background())
	rq := &RedisQueue{
		log:       log,
		cfg:       cfg.withDefaults(),
		client:    client,
		keyPrefix: "signalfusion:jobs",
		jobs:      make(map[string]Job),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.log.Warn("queue.job already registered", applogger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.log.Info("queue.job registered",
		applogger.String("job", job.Name()),
		applogger.String("type", job.Type()))
}

func (r *RedisQueue) Start() error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	r.isRunning = true
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.mu.Lock()
		r.isRunning = false
		r.mu.Unlock()
		return fmt.Errorf("redis ping: %w", err)
	}

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.retryProcessor()

	r.log.Info("queue.started",
		applogger.String("backend", "redis"),
		applogger.Int("workers", r.cfg.Workers),
		applogger.String("addr", r.client.Options().Addr))
	return nil
}

func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.cancel()
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-ctx.Done():
		r.log.Warn("queue.stop timed out", applogger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		r.log.Info("queue.stopped")
		return nil
	}
}

func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	r.mu.RLock()
	running := r.isRunning
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !running {
		return "", ErrNotRunning
	}
	if !known {
		return "", fmt.Errorf("%w: %s", ErrNoJob, msgType)
	}

	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: payload, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.queueKey(), data).Err(); err != nil {
		return "", fmt.Errorf("lpush: %w", err)
	}
	return msg.ID, nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	r.log.Debug("queue.worker started", applogger.Int("worker_id", id))
	for r.ctx.Err() == nil {
		r.processNextMessage()
	}
}

func (r *RedisQueue) processNextMessage() {
	ctx, cancel := context.WithTimeout(r.ctx, 2*time.Second)
	defer cancel()

	result, err := r.client.BRPop(ctx, time.Second, r.queueKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		r.log.Error("queue.brpop failed", applogger.Error(err))
		select {
		case <-r.ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		r.log.Error("queue.unmarshal failed", applogger.Error(err))
		return
	}
	r.processMessage(msg)
}

func (r *RedisQueue) processMessage(msg Message) {
	r.mu.RLock()
	job, exists := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !exists {
		r.log.Error("queue.no job",
			applogger.String("type", msg.Type),
			applogger.String("id", msg.ID))
		r.moveToDeadLetter(msg)
		return
	}

	start := time.Now()
	err := job.Handle(r.ctx, toRaw(msg.Payload))
	if err == nil {
		r.log.Debug("queue.message done",
			applogger.String("id", msg.ID),
			applogger.String("job", job.Name()),
			applogger.Duration("elapsed", time.Since(start)))
		return
	}
	if errors.Is(err, context.Canceled) {
		r.log.Warn("queue.message cancelled",
			applogger.String("id", msg.ID),
			applogger.String("job", job.Name()))
		return
	}
	r.handleProcessingError(msg, job, err)
}

func (r *RedisQueue) handleProcessingError(msg Message, job Job, err error) {
	r.log.Error("queue.message failed",
		applogger.String("id", msg.ID),
		applogger.String("job", job.Name()),
		applogger.Int("attempt", msg.Attempts+1),
		applogger.Error(err))

	if msg.Attempts >= r.cfg.RetryLimit {
		r.log.Error("queue.max retries reached",
			applogger.String("id", msg.ID),
			applogger.String("job", job.Name()))
		r.moveToDeadLetter(msg)
		return
	}
	msg.Attempts++
	data, merr := json.Marshal(msg)
	if merr != nil {
		r.log.Error("queue.marshal retry failed", applogger.Error(merr))
		return
	}
	retryAt := time.Now().Add(r.cfg.RetryDelay)
	if zerr := r.client.ZAdd(context.Background(), r.retryKey(), redis.Z{
		Score:  float64(retryAt.Unix()),
		Member: data,
	}).Err(); zerr != nil {
		r.log.Error("queue.zadd retry failed", applogger.Error(zerr))
	}
}

func (r *RedisQueue) moveToDeadLetter(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("queue.marshal dlq failed", applogger.Error(err))
		return
	}
	if err := r.client.LPush(context.Background(), r.deadLetterKey(), data).Err(); err != nil {
		r.log.Error("queue.lpush dlq failed", applogger.Error(err))
	}
}

func (r *RedisQueue) retryProcessor() {
	defer r.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.processRetryMessages()
		}
	}
}

// processRetryMessages moves due retries back onto the main list.
func (r *RedisQueue) processRetryMessages() {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	due, err := r.client.ZRangeByScore(r.ctx, r.retryKey(), &redis.ZRangeBy{Min: "0", Max: now}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.log.Error("queue.fetch retries failed", applogger.Error(err))
		}
		return
	}
	for _, data := range due {
		if r.ctx.Err() != nil {
			return
		}
		pipe := r.client.TxPipeline()
		pipe.ZRem(r.ctx, r.retryKey(), data)
		pipe.LPush(r.ctx, r.queueKey(), data)
		if _, err := pipe.Exec(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("queue.requeue retry failed", applogger.Error(err))
		}
	}
}

// toRaw hands JSON-decoded payloads to jobs as raw JSON so ParsePayload can
// decode them into the job's own type.
func toRaw(payload interface{}) interface{} {
	switch payload.(type) {
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(payload)
		if err != nil {
			return payload
		}
		return json.RawMessage(b)
	default:
		return payload
	}
}

func (r *RedisQueue) queueKey() string      { return r.keyPrefix + ":messages" }
func (r *RedisQueue) retryKey() string      { return r.keyPrefix + ":retry" }
func (r *RedisQueue) deadLetterKey() string { return r.keyPrefix + ":dlq" }
