// Package metrics holds the provider's Prometheus instrumentation.
// Metrics are registered on the default registry via promauto.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fragment outcomes.
const (
	OutcomeReused  = "reused"
	OutcomeRebuilt = "rebuilt"
	OutcomeAdded   = "added"
	OutcomeRemoved = "removed"
	OutcomeFailed  = "failed"
	OutcomeCorrupt = "corrupt"
)

var (
	// FragmentsTotal counts per-file outcomes of incremental runs.
	//
	// Labels:
	//   - outcome: "reused", "rebuilt", "added", "removed", "failed", "corrupt"
	FragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "csharp_provider",
			Name:      "fragments_total",
			Help:      "Fragments processed by incremental runs, by outcome.",
		},
		[]string{"outcome"},
	)

	// InitDuration measures Init wall time.
	//
	// Labels:
	//   - status: "success" or "error"
	InitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "csharp_provider",
			Name:      "init_duration_seconds",
			Help:      "Duration of provider initialisation in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	// QueryDuration measures the time to drain a query stream.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "csharp_provider",
			Name:      "query_duration_seconds",
			Help:      "Duration of reference queries in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "csharp_provider",
		Name:      "matches_total",
		Help:      "Match records emitted by queries.",
	})

	// ActiveQueries is the number of queries holding a graph snapshot.
	ActiveQueries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "csharp_provider",
		Name:      "active_queries",
		Help:      "Queries currently reading a graph snapshot.",
	})
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveInit records one Init attempt.
func ObserveInit(start time.Time, err error) {
	InitDuration.WithLabelValues(status(err)).Observe(time.Since(start).Seconds())
}

// ObserveQuery records one drained or abandoned query.
func ObserveQuery(start time.Time, matches int, err error) {
	QueryDuration.WithLabelValues(status(err)).Observe(time.Since(start).Seconds())
	MatchesTotal.Add(float64(matches))
}

// AddFragments increments the outcome counter by n; n <= 0 is ignored.
func AddFragments(outcome string, n int) {
	if n > 0 {
		FragmentsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}
