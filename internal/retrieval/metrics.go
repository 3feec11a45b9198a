package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds retrieval pipeline metrics.
type Metrics struct {
	searchesTotal   *prometheus.CounterVec
	candidatesTotal prometheus.Counter
	deniedTotal     prometheus.Counter
	searchDuration  prometheus.Histogram
	feedbackTotal   prometheus.Counter
}

// NewMetrics registers retrieval metrics on the given registerer. A nil
// registerer uses the default prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		searchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retrieverd_searches_total",
			Help: "Total retrieval searches by ranking strategy.",
		}, []string{"strategy"}),
		candidatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "retrieverd_candidates_total",
			Help: "Total candidates produced by vector search before authorization.",
		}),
		deniedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "retrieverd_candidates_denied_total",
			Help: "Total candidates dropped by the authorization gate.",
		}),
		searchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "retrieverd_search_duration_seconds",
			Help:    "End-to-end retrieval duration in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		feedbackTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "retrieverd_feedback_increments_total",
			Help: "Total importance increments from confirmed feedback.",
		}),
	}
}
