// Package metrics exposes Prometheus collectors for detection runs and ingestion.
package metrics

import (
	"net/http"
	"time"

	"github.com/opensource-finance/farehawk/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "farehawk"

// Metrics holds the collectors registered on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	anomaliesTotal  *prometheus.CounterVec
	latestAnomalies *prometheus.GaugeVec
	tripsAnalyzed   *prometheus.GaugeVec
	tripsIngested   *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_runs_total",
			Help:      "Detection runs by outcome.",
		}, []string{"tenant", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_run_duration_seconds",
			Help:      "Wall time of a detection run, including loading trips.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"tenant"}),
		anomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Anomaly records produced across runs, by type.",
		}, []string{"tenant", "type"}),
		latestAnomalies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_anomalies",
			Help:      "Anomaly count of the most recent run.",
		}, []string{"tenant"}),
		tripsAnalyzed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trips_analyzed",
			Help:      "Trips analysed by the most recent run.",
		}, []string{"tenant"}),
		tripsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trips_ingested_total",
			Help:      "Trips stored, by ingestion source.",
		}, []string{"tenant", "source"}),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.anomaliesTotal,
		m.latestAnomalies,
		m.tripsAnalyzed,
		m.tripsIngested,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records a completed run.
func (m *Metrics) ObserveRun(tenantID string, report *domain.AnomalyReport, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(tenantID, "ok").Inc()
	m.runDuration.WithLabelValues(tenantID).Observe(elapsed.Seconds())
	for typ, n := range report.CountByType() {
		m.anomaliesTotal.WithLabelValues(tenantID, string(typ)).Add(float64(n))
	}
	m.latestAnomalies.WithLabelValues(tenantID).Set(float64(report.Count()))
	m.tripsAnalyzed.WithLabelValues(tenantID).Set(float64(report.TotalAnalyzed))
}

// RunFailed records a run that did not complete.
func (m *Metrics) RunFailed(tenantID string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(tenantID, "error").Inc()
}

// TripsIngested records stored trips.
func (m *Metrics) TripsIngested(tenantID, source string, n int) {
	if m == nil {
		return
	}
	m.tripsIngested.WithLabelValues(tenantID, source).Add(float64(n))
}
