package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	applogger "SignalFusion/pkg/logger"
)

// FieldSource merges selected query kinds for one symbol. The Aggregator
// satisfies it.
type FieldSource interface {
	GetKinds(ctx context.Context, symbol string, kinds []models.QueryKind) (*models.MergedSnapshot, error)
}

// AlertService keeps every alert in one KV document and checks the pending
// ones against merged snapshots.
type AlertService struct {
	store    drepo.KVStore
	fields   FieldSource
	key      string
	parallel int
	log      *applogger.Logger
	now      func() time.Time

	// mu serializes read-modify-write of the alerts document.
	mu sync.Mutex
}

type AlertOption func(*AlertService)

// WithAlertKey sets the KV key of the alerts document.
func WithAlertKey(key string) AlertOption {
	return func(s *AlertService) {
		if key != "" {
			s.key = key
		}
	}
}

// WithAlertParallelism bounds concurrent snapshot merges during a check.
func WithAlertParallelism(n int) AlertOption {
	return func(s *AlertService) {
		if n > 0 {
			s.parallel = n
		}
	}
}

// WithAlertClock overrides time.Now.
func WithAlertClock(now func() time.Time) AlertOption {
	return func(s *AlertService) { s.now = now }
}

func NewAlertService(store drepo.KVStore, fields FieldSource, log *applogger.Logger, opts ...AlertOption) *AlertService {
	s := &AlertService{
		store:    store,
		fields:   fields,
		key:      "alerts",
		parallel: 4,
		log:      log,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *AlertService) load(ctx context.Context) ([]models.Alert, error) {
	b, err := s.store.Load(ctx, s.key)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load alerts: %w", err)
	}
	var alerts []models.Alert
	if err := json.Unmarshal(b, &alerts); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}
	return alerts, nil
}

func (s *AlertService) save(ctx context.Context, alerts []models.Alert) error {
	b, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("encode alerts: %w", err)
	}
	if err := s.store.Save(ctx, s.key, b); err != nil {
		return fmt.Errorf("save alerts: %w", err)
	}
	return nil
}

// Create validates and stores a pending alert.
func (s *AlertService) Create(ctx context.Context, symbol string, typ models.AlertType, cond models.AlertCondition, threshold float64) (*models.Alert, error) {
	sym, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	a := models.Alert{
		ID:        uuid.NewString(),
		Symbol:    sym,
		Type:      typ,
		Condition: cond,
		Threshold: threshold,
		CreatedAt: s.now().UTC(),
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	alerts, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, append(alerts, a)); err != nil {
		return nil, err
	}
	s.log.Info("alerts.created",
		applogger.String("id", a.ID),
		applogger.String("symbol", a.Symbol),
		applogger.String("type", string(a.Type)))
	return &a, nil
}

// List returns alerts in creation order. An empty symbol and a nil
// triggered match everything.
func (s *AlertService) List(ctx context.Context, symbol string, triggered *bool) ([]models.Alert, error) {
	if symbol != "" {
		sym, err := models.NormalizeSymbol(symbol)
		if err != nil {
			return nil, err
		}
		symbol = sym
	}
	s.mu.Lock()
	alerts, err := s.load(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if symbol != "" && a.Symbol != symbol {
			continue
		}
		if triggered != nil && a.Triggered != *triggered {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Check resolves the watched value of every pending alert, one merge per
// symbol, and marks the alerts whose condition holds. Alerts whose value
// cannot be resolved stay pending and are reported in Errors by alert ID.
func (s *AlertService) Check(ctx context.Context) (*models.AlertCheck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alerts, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	out := &models.AlertCheck{Triggered: []models.Alert{}, Timestamp: now}

	kinds := map[string][]models.QueryKind{}
	for _, a := range alerts {
		if a.Triggered {
			continue
		}
		_, kind, err := a.Type.Field()
		if err != nil {
			continue
		}
		if !containsKind(kinds[a.Symbol], kind) {
			kinds[a.Symbol] = append(kinds[a.Symbol], kind)
		}
	}
	if len(kinds) == 0 {
		return out, nil
	}

	var (
		mu     sync.Mutex
		snaps  = make(map[string]*models.MergedSnapshot, len(kinds))
		failed = map[string]error{}
		g      errgroup.Group
	)
	g.SetLimit(s.parallel)
	for sym, ks := range kinds {
		g.Go(func() error {
			m, err := s.fields.GetKinds(ctx, sym, ks)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[sym] = err
			} else {
				snaps[sym] = m
			}
			return nil
		})
	}
	_ = g.Wait()

	report := func(id string, err error) {
		if out.Errors == nil {
			out.Errors = map[string]string{}
		}
		out.Errors[id] = err.Error()
	}
	changed := false
	for i := range alerts {
		a := &alerts[i]
		if a.Triggered {
			continue
		}
		field, _, err := a.Type.Field()
		if err != nil {
			report(a.ID, err)
			continue
		}
		if err, ok := failed[a.Symbol]; ok {
			report(a.ID, err)
			continue
		}
		v, ok := snaps[a.Symbol].Value(field)
		if !ok {
			report(a.ID, fmt.Errorf("%s %s: %w", a.Symbol, field, models.ErrDataUnavailable))
			continue
		}

		checked := now
		a.CurrentValue, a.CheckedAt = &v, &checked
		out.Checked++
		changed = true
		if a.Condition.Met(v, a.Threshold) {
			fired := now
			a.Triggered, a.TriggeredAt = true, &fired
			out.Triggered = append(out.Triggered, *a)
			s.log.Info("alerts.triggered",
				applogger.String("id", a.ID),
				applogger.String("symbol", a.Symbol),
				applogger.String("condition", string(a.Condition)),
				applogger.Float64("threshold", a.Threshold),
				applogger.Float64("value", v))
		}
	}
	if changed {
		if err := s.save(ctx, alerts); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func containsKind(ks []models.QueryKind, k models.QueryKind) bool {
	for _, x := range ks {
		if x == k {
			return true
		}
	}
	return false
}
