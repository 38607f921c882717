package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"siteline/internal/domain"
)

// Recompute outcomes.
const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

var (
	RecomputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteline_recompute_total",
			Help: "Project status recomputations by outcome",
		},
		[]string{"outcome"},
	)

	RecomputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "siteline_recompute_duration_seconds",
			Help:    "Duration of single-project and bulk recomputation",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
		},
		[]string{"scope"},
	)

	ProjectStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "siteline_project_status",
			Help: "Projects per status after the last bulk recomputation",
		},
		[]string{"status"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteline_cache_requests_total",
			Help: "Read-through cache lookups by kind and result",
		},
		[]string{"kind", "result"},
	)
)

func RecordRecompute(outcome string) {
	RecomputeTotal.WithLabelValues(outcome).Inc()
}

func ObserveRecomputeDuration(scope string, d time.Duration) {
	RecomputeDuration.WithLabelValues(scope).Observe(d.Seconds())
}

// SetStatusDistribution replaces the per-status gauge with counts.
func SetStatusDistribution(counts map[domain.Status]int) {
	for _, s := range domain.Statuses() {
		ProjectStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func RecordCache(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheRequests.WithLabelValues(kind, result).Inc()
}
