package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"SignalFusion/internal/domain/models"
	applogger "SignalFusion/pkg/logger"
)

// BatchAnalyzer runs one analysis pass over a symbol list.
type BatchAnalyzer interface {
	AnalyzeBatch(ctx context.Context, symbols []string) (*models.BatchAnalysis, error)
}

// AlertChecker evaluates pending alerts.
type AlertChecker interface {
	Check(ctx context.Context) (*models.AlertCheck, error)
}

// Scheduler runs a batch pass over the watchlist on a cron spec, followed by
// an alert check when one is configured. A pass that is still running when
// the next tick fires causes that tick to be skipped.
type Scheduler struct {
	analyzer  BatchAnalyzer
	alerts    AlertChecker
	watchlist []string
	spec      string
	timeout   time.Duration
	cron      *cron.Cron
	log       *applogger.Logger

	mu   sync.RWMutex
	last *models.BatchAnalysis
}

type SchedulerOption func(*Scheduler)

// WithAlertChecks runs an alert check after every pass.
func WithAlertChecks(c AlertChecker) SchedulerOption {
	return func(s *Scheduler) { s.alerts = c }
}

func NewScheduler(analyzer BatchAnalyzer, spec string, watchlist []string, timeout time.Duration, log *applogger.Logger, opts ...SchedulerOption) *Scheduler {
	if spec == "" {
		spec = "@every 15m"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	cl := cronLogger{log: log}
	s := &Scheduler{
		analyzer:  analyzer,
		watchlist: append([]string(nil), watchlist...),
		spec:      spec,
		timeout:   timeout,
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:       log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start registers the pass and starts the cron loop.
func (s *Scheduler) Start() error {
	if len(s.watchlist) == 0 {
		return fmt.Errorf("scheduler: empty watchlist: %w", models.ErrInvalidInput)
	}
	if _, err := s.cron.AddFunc(s.spec, s.RunOnce); err != nil {
		return fmt.Errorf("scheduler: spec %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.log.Info("scheduler.started",
		applogger.String("spec", s.spec),
		applogger.Strings("watchlist", s.watchlist))
	return nil
}

// Stop halts the loop and waits for a running pass to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler.stop timed out", applogger.Error(ctx.Err()))
	}
	s.log.Info("scheduler.stopped")
}

// RunOnce executes a single pass synchronously. The alert check runs even
// when the batch fails.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.analyze(ctx)
	if s.alerts != nil {
		s.checkAlerts(ctx)
	}
}

func (s *Scheduler) analyze(ctx context.Context) {
	batch, err := s.analyzer.AnalyzeBatch(ctx, s.watchlist)
	if batch != nil {
		s.mu.Lock()
		s.last = batch
		s.mu.Unlock()
	}
	if err != nil {
		s.log.Error("scheduler.pass failed", applogger.Error(err))
		return
	}
	s.log.Info("scheduler.pass completed",
		applogger.String("pass_id", batch.PassID),
		applogger.Int("results", len(batch.Results)),
		applogger.Int("errors", len(batch.Errors)))
}

func (s *Scheduler) checkAlerts(ctx context.Context) {
	res, err := s.alerts.Check(ctx)
	if err != nil {
		s.log.Error("scheduler.alerts failed", applogger.Error(err))
		return
	}
	if len(res.Triggered) > 0 || len(res.Errors) > 0 {
		s.log.Info("scheduler.alerts checked",
			applogger.Int("checked", res.Checked),
			applogger.Int("triggered", len(res.Triggered)),
			applogger.Int("errors", len(res.Errors)))
	}
}

// Last returns the most recent scheduled batch, or nil.
func (s *Scheduler) Last() *models.BatchAnalysis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// cronLogger routes cron's own logs to the application logger.
type cronLogger struct {
	log *applogger.Logger
}

var _ cron.Logger = cronLogger{}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron."+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("cron."+msg, append(kvFields(keysAndValues), applogger.Error(err))...)
}

func kvFields(kv []interface{}) []applogger.Field {
	out := make([]applogger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, applogger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
