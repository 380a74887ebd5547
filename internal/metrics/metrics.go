// Package metrics exposes Prometheus collectors for analysis runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowtriage"

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	Runs            *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	Flows           *prometheus.CounterVec
	Synthesized     prometheus.Counter
	PersistFailures prometheus.Counter
	ActiveRuns      prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Analysis runs by outcome.",
		}, []string{"outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		Flows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_classified_total",
			Help:      "Classified flows by predicted label.",
		}, []string{"label"}),
		Synthesized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_synthesis_total",
			Help:      "Times a replacement artifact trio was synthesized.",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Runs whose results could not be stored.",
		}),
		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Analysis runs currently in progress.",
		}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FlowsClassified(counts map[string]int) {
	if m == nil {
		return
	}
	for label, n := range counts {
		m.Flows.WithLabelValues(label).Add(float64(n))
	}
}

func (m *Metrics) ArtifactsSynthesized() {
	if m == nil {
		return
	}
	m.Synthesized.Inc()
}

func (m *Metrics) PersistenceFailed() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

func (m *Metrics) RunEnded() {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
}
