package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	applogger "SignalFusion/pkg/logger"
)

// MemoryQueue runs jobs in process on a bounded channel. Messages are lost on
// restart. Retries wait RetryDelay before going back on the channel.
type MemoryQueue struct {
	log *applogger.Logger
	cfg Config
	ch  chan Message

	mu        sync.RWMutex
	jobs      map[string]Job
	isRunning bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	deadLetters atomic.Int64
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(log *applogger.Logger, cfg Config) *MemoryQueue {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		log:    log,
		cfg:    cfg,
		ch:     make(chan Message, cfg.QueueSize),
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *MemoryQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.log.Warn("queue.job already registered", applogger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return fmt.Errorf("queue already running")
	}
	q.isRunning = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.log.Info("queue.started",
		applogger.String("backend", "memory"),
		applogger.Int("workers", q.cfg.Workers))
	return nil
}

// Stop cancels running handlers and waits for workers. Queued messages are
// discarded.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		q.log.Info("queue.stopped")
		return nil
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	q.mu.RLock()
	running := q.isRunning
	_, known := q.jobs[msgType]
	q.mu.RUnlock()
	if !running {
		return "", ErrNotRunning
	}
	if !known {
		return "", fmt.Errorf("%w: %s", ErrNoJob, msgType)
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: payload, Timestamp: time.Now().UTC()}
	select {
	case q.ch <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("queue full (%d)", cap(q.ch))
	}
}

// DeadLetters counts messages that exhausted their retries.
func (q *MemoryQueue) DeadLetters() int64 { return q.deadLetters.Load() }

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg := <-q.ch:
			q.process(msg)
		}
	}
}

func (q *MemoryQueue) process(msg Message) {
	q.mu.RLock()
	job := q.jobs[msg.Type]
	q.mu.RUnlock()

	err := job.Handle(q.ctx, msg.Payload)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	q.log.Error("queue.message failed",
		applogger.String("id", msg.ID),
		applogger.String("job", job.Name()),
		applogger.Int("attempt", msg.Attempts+1),
		applogger.Error(err))
	if msg.Attempts >= q.cfg.RetryLimit {
		q.deadLetters.Add(1)
		return
	}
	msg.Attempts++
	time.AfterFunc(q.cfg.RetryDelay, func() {
		select {
		case q.ch <- msg:
		case <-q.ctx.Done():
		default:
			q.deadLetters.Add(1)
		}
	})
}
