package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Trending batch job
	TrendingItemsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamrank_trending_items_scored_total",
			Help: "Content items processed by the trending scorer",
		},
		[]string{"trigger", "result"}, // trigger: batch, single; result: ok, error
	)

	TrendingBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamrank_trending_batch_duration_seconds",
			Help:    "Duration of trending batch runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	TrendingBatchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamrank_trending_batch_runs_total",
			Help: "Trending batch runs by outcome",
		},
		[]string{"result"}, // ok, aborted
	)

	// Provider selection
	ProviderSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamrank_provider_selections_total",
			Help: "Provider selection outcomes",
		},
		[]string{"provider", "path"}, // path: healthy, fallback
	)

	ProviderUnavailable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamrank_provider_unavailable_total",
			Help: "Selections that found no usable provider",
		},
	)

	CapacityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamrank_provider_capacity_rejections_total",
			Help: "Atomic capacity reservations that lost to a full or raced provider",
		},
		[]string{"provider"},
	)

	// Provider health
	ProviderUptime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamrank_provider_uptime_percent",
			Help: "Smoothed provider uptime",
		},
		[]string{"provider"},
	)

	ProviderHealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamrank_provider_health_checks_total",
			Help: "Provider health checks by result",
		},
		[]string{"provider", "result"}, // pass, fail
	)

	ProviderActiveStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamrank_provider_active_streams",
			Help: "Active streams per provider as last observed",
		},
		[]string{"provider"},
	)
)

// RecordItemScored records the outcome of scoring one content item.
func RecordItemScored(trigger string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	TrendingItemsScored.WithLabelValues(trigger, result).Inc()
}

// RecordBatch records a finished batch run.
func RecordBatch(d time.Duration, err error) {
	TrendingBatchDuration.Observe(d.Seconds())
	result := "ok"
	if err != nil {
		result = "aborted"
	}
	TrendingBatchRuns.WithLabelValues(result).Inc()
}

// RecordSelection records which provider a selection returned. An empty name
// means nothing was available.
func RecordSelection(provider string, fallback bool) {
	if provider == "" {
		ProviderUnavailable.Inc()
		return
	}
	path := "healthy"
	if fallback {
		path = "fallback"
	}
	ProviderSelections.WithLabelValues(provider, path).Inc()
}

// RecordHealthCheck records a probe result and the updated uptime.
func RecordHealthCheck(provider string, passed bool, uptime float64) {
	result := "pass"
	if !passed {
		result = "fail"
	}
	ProviderHealthChecks.WithLabelValues(provider, result).Inc()
	ProviderUptime.WithLabelValues(provider).Set(uptime)
}

// SetActiveStreams records the active stream count last seen for a provider.
func SetActiveStreams(provider string, n int) {
	ProviderActiveStreams.WithLabelValues(provider).Set(float64(n))
}
