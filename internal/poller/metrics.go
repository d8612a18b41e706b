package poller

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joescharf/trackwatch/internal/models"
)

// Metrics holds the Prometheus collectors for polling cycles.
type Metrics struct {
	registry *prometheus.Registry

	Cycles        *prometheus.CounterVec
	Sessions      *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	Watermark     *prometheus.GaugeVec
}

// NewMetrics creates collectors under namespace in a private registry.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_cycles_total",
				Help:      "Total number of polling cycles by outcome",
			},
			[]string{"project", "status"},
		),
		Sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Edit sessions extracted, delivered and failed",
			},
			[]string{"project", "outcome"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_cycle_duration_seconds",
				Help:      "Polling cycle duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"project"},
		),
		Watermark: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "watermark_timestamp_seconds",
				Help:      "Unix time of the last synced feed event",
			},
			[]string{"project"},
		),
	}

	m.registry.MustRegister(
		m.Cycles,
		m.Sessions,
		m.CycleDuration,
		m.Watermark,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observe(r *Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(r.Project, string(r.Status)).Inc()
	m.CycleDuration.WithLabelValues(r.Project).Observe(elapsed.Seconds())
	m.Sessions.WithLabelValues(r.Project, "extracted").Add(float64(r.Sessions))
	m.Sessions.WithLabelValues(r.Project, "delivered").Add(float64(r.Delivered))
	if r.Status == models.RunStatusPartial {
		m.Sessions.WithLabelValues(r.Project, "failed").Add(float64(r.Sessions - r.Delivered))
	}
}

func (m *Metrics) setWatermark(project string, t time.Time) {
	if m == nil || t.IsZero() {
		return
	}
	m.Watermark.WithLabelValues(project).Set(float64(t.Unix()))
}
