package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(New),
)

const namespace = "pricing"

// Metrics holds the collectors shared by the pricing packages.
type Metrics struct {
	Resolutions        *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	BulkSize           prometheus.Histogram
	CacheRequests      *prometheus.CounterVec
	CacheInvalidations prometheus.Counter
	RuleSkips          *prometheus.CounterVec
	RulesApplied       prometheus.Counter
	WindowSweeps       *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Price resolutions by outcome (found, not_found, invalid, error).",
		}, []string{"outcome"}),
		ResolutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_duration_seconds",
			Help:      "Latency of price resolution calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		BulkSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_bulk_size",
			Help:      "Distinct variants per bulk resolution.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_cache_requests_total",
			Help:      "Resolution cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		CacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_cache_invalidated_tags_total",
			Help:      "Cache tags whose version was bumped.",
		}),
		RuleSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_rule_skips_total",
			Help:      "Price rules skipped during application by reason.",
		}, []string{"reason"}),
		RulesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_rules_applied_total",
			Help:      "Price rules applied to a resolved price.",
		}),
		WindowSweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_sweeps_total",
			Help:      "Price window sweeper runs by status.",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Resolutions,
			m.ResolutionDuration,
			m.BulkSize,
			m.CacheRequests,
			m.CacheInvalidations,
			m.RuleSkips,
			m.RulesApplied,
			m.WindowSweeps,
		)
	}
	return m
}

// NewNop returns unregistered collectors.
func NewNop() *Metrics {
	return New(nil)
}
