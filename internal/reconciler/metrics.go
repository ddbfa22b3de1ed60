package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	attempts   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	queueDepth prometheus.GaugeFunc
}

func newMetrics(queue *Queue) *metrics {
	m := &metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapenv",
			Subsystem: "reconciler",
			Name:      "attempts_total",
			Help:      "Count of reconciliation attempts by action and outcome",
		}, []string{"action", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "snapenv",
			Subsystem: "reconciler",
			Name:      "attempt_duration_seconds",
			Help:      "Latency distribution of cluster driver operations",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"action"}),
		queueDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "snapenv",
			Subsystem: "reconciler",
			Name:      "queue_depth",
			Help:      "Environments waiting for reconciliation",
		}, func() float64 { return float64(queue.Len()) }),
	}

	for _, collector := range []prometheus.Collector{m.attempts, m.duration, m.queueDepth} {
		if err := prometheus.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch existing := already.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					m.attempts = existing
				case *prometheus.HistogramVec:
					m.duration = existing
				}
			}
		}
	}
	return m
}
