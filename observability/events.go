package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	committed *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			committed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mm",
				Subsystem: "events",
				Name:      "committed_total",
				Help:      "Count of committed ledger events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.committed)
	})
	return eventRegistry
}

// Record increments the counter for the supplied event type.
func (m *eventMetrics) Record(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.ToLower(strings.TrimSpace(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.committed.WithLabelValues(normalized).Inc()
}
