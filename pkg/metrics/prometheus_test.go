package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"SignalFusion/internal/domain/models"
)

func TestRecorder_Counts(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordFetch("finnhub", models.KindQuote, "ok", 0.2)
	r.RecordFetch("finnhub", models.KindQuote, "ok", 0.3)
	r.RecordCache("hit")
	r.RecordModelExcluded("remote", "unavailable")
	r.RecordPublished("forecast")
	r.RecordLastPrice("AAPL", 187.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.fetches.WithLabelValues("finnhub", "quote", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.modelExcluded.WithLabelValues("remote", "unavailable")))
	assert.Equal(t, 187.5, testutil.ToFloat64(r.lastPrice.WithLabelValues("AAPL")))
}
