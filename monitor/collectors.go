package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles the Prometheus metrics the monitor feeds. All metrics
// share the "schedulekit" namespace.
type Collectors struct {
	evaluations *prometheus.CounterVec
	duration    prometheus.Histogram
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	alerts      *prometheus.CounterVec
	active      prometheus.Gauge
}

// NewCollectors creates and registers the collectors with registry.
func NewCollectors(registry *prometheus.Registry) *Collectors {
	c := &Collectors{
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "schedulekit",
				Subsystem: "engine",
				Name:      "evaluations_total",
				Help:      "Total constraint evaluations by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "schedulekit",
				Subsystem: "engine",
				Name:      "evaluation_duration_seconds",
				Help:      "Constraint evaluation latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "schedulekit",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total result cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "schedulekit",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total result cache misses",
			},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "schedulekit",
				Subsystem: "monitor",
				Name:      "alerts_total",
				Help:      "Total threshold alerts by metric and severity",
			},
			[]string{"metric", "severity"},
		),
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "schedulekit",
				Subsystem: "engine",
				Name:      "active_evaluations",
				Help:      "Currently in-flight evaluations",
			},
		),
	}

	registry.MustRegister(
		c.evaluations,
		c.duration,
		c.cacheHits,
		c.cacheMisses,
		c.alerts,
		c.active,
	)
	return c
}

func (c *Collectors) observe(rec Record) {
	outcome := "violated"
	switch {
	case rec.Err:
		outcome = "error"
	case rec.Satisfied:
		outcome = "satisfied"
	}
	c.evaluations.WithLabelValues(outcome).Inc()
	c.duration.Observe(rec.Duration.Seconds())
	if rec.Cached {
		c.cacheHits.Inc()
	} else {
		c.cacheMisses.Inc()
	}
}
