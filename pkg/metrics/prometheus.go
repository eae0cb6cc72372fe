package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
)

const namespace = "signalfusion"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fetches       *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	cache         *prometheus.CounterVec
	modelExcluded *prometheus.CounterVec
	analyses      *prometheus.CounterVec
	analysisTime  prometheus.Histogram
	published     *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
}

var _ drepo.Metrics = (*Recorder)(nil)

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Adapter fetches by source, kind and outcome",
		}, []string{"source", "kind", "outcome"}),
		fetchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Adapter fetch latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"source"}),
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Snapshot cache lookups by result (hit, miss, shared)",
		}, []string{"result"}),
		modelExcluded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ensemble_model_excluded_total",
			Help:      "Models excluded from a blend",
		}, []string{"model", "reason"}),
		analyses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_passes_total",
			Help:      "Per-symbol analysis passes by outcome",
		}, []string{"outcome"}),
		analysisTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Per-symbol analysis latency",
			Buckets:   prometheus.DefBuckets,
		}),
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_published_total",
			Help:      "Artifacts delivered to the message bus",
		}, []string{"artifact"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_price",
			Help:      "Last streamed trade price for a symbol",
		}, []string{"symbol"}),
	}
}

func (r *Recorder) RecordFetch(source string, kind models.QueryKind, outcome string, seconds float64) {
	r.fetches.WithLabelValues(source, string(kind), outcome).Inc()
	r.fetchLatency.WithLabelValues(source).Observe(seconds)
}

func (r *Recorder) RecordCache(result string) {
	r.cache.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordModelExcluded(model, reason string) {
	r.modelExcluded.WithLabelValues(model, reason).Inc()
}

func (r *Recorder) RecordAnalysis(outcome string, seconds float64) {
	r.analyses.WithLabelValues(outcome).Inc()
	r.analysisTime.Observe(seconds)
}

func (r *Recorder) RecordPublished(artifact string) {
	r.published.WithLabelValues(artifact).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}
