// Package metrics exposes the control plane's Prometheus collectors:
// adapter concurrency, deploy and mission outcomes, and drift counts.
// Grounded on the teacher's infrastructure/metrics package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the control plane registers.
type Metrics struct {
	AdapterInFlight   *prometheus.GaugeVec
	AdapterCallsTotal *prometheus.CounterVec
	AdapterCallErrors *prometheus.CounterVec

	DeployOutcomesTotal  *prometheus.CounterVec
	DeployDuration       *prometheus.HistogramVec
	MissionOutcomesTotal *prometheus.CounterVec
	MissionDuration      *prometheus.HistogramVec

	NetworkLeasesActive  prometheus.Gauge
	NetworkPoolAvailable prometheus.Gauge

	DriftDetectedTotal *prometheus.CounterVec
	DriftActiveGauge   *prometheus.GaugeVec
}

// New builds and registers every collector against registerer. Pass
// prometheus.DefaultRegisterer in production, prometheus.NewRegistry() in
// tests that need isolation.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdapterInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cyberrange_adapter_inflight",
				Help: "Current number of in-flight calls per platform adapter instance",
			},
			[]string{"backend_kind", "backend_instance"},
		),
		AdapterCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyberrange_adapter_calls_total",
				Help: "Total platform adapter calls",
			},
			[]string{"backend_kind", "backend_instance", "operation"},
		),
		AdapterCallErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyberrange_adapter_call_errors_total",
				Help: "Total platform adapter call errors",
			},
			[]string{"backend_kind", "backend_instance", "operation", "error_kind"},
		),
		DeployOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyberrange_deploy_outcomes_total",
				Help: "Total deployments by terminal state",
			},
			[]string{"state"},
		),
		DeployDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cyberrange_deploy_duration_seconds",
				Help:    "Deployment wall-clock duration",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"state"},
		),
		MissionOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyberrange_mission_outcomes_total",
				Help: "Total missions by terminal state",
			},
			[]string{"state"},
		),
		MissionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cyberrange_mission_duration_seconds",
				Help:    "Mission wall-clock duration",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"state"},
		),
		NetworkLeasesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cyberrange_network_leases_active",
				Help: "Current number of active VLAN leases",
			},
		),
		NetworkPoolAvailable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cyberrange_network_pool_available",
				Help: "Current number of free VLAN tags in the pool",
			},
		),
		DriftDetectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyberrange_drift_detected_total",
				Help: "Total drift_detected events emitted",
			},
			[]string{"lab_id", "rule"},
		),
		DriftActiveGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cyberrange_drift_active",
				Help: "Current number of unresolved drift entries per lab",
			},
			[]string{"lab_id"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.AdapterInFlight, m.AdapterCallsTotal, m.AdapterCallErrors,
			m.DeployOutcomesTotal, m.DeployDuration,
			m.MissionOutcomesTotal, m.MissionDuration,
			m.NetworkLeasesActive, m.NetworkPoolAvailable,
			m.DriftDetectedTotal, m.DriftActiveGauge,
		)
	}
	return m
}

// RecordAdapterCall observes one adapter call's outcome.
func (m *Metrics) RecordAdapterCall(backendKind, backendInstance, operation string, err error, errKind string) {
	m.AdapterCallsTotal.WithLabelValues(backendKind, backendInstance, operation).Inc()
	if err != nil {
		m.AdapterCallErrors.WithLabelValues(backendKind, backendInstance, operation, errKind).Inc()
	}
}

// RecordDeployOutcome observes one deployment's terminal state and duration.
func (m *Metrics) RecordDeployOutcome(state string, seconds float64) {
	m.DeployOutcomesTotal.WithLabelValues(state).Inc()
	m.DeployDuration.WithLabelValues(state).Observe(seconds)
}

// RecordMissionOutcome observes one mission's terminal state and duration.
func (m *Metrics) RecordMissionOutcome(state string, seconds float64) {
	m.MissionOutcomesTotal.WithLabelValues(state).Inc()
	m.MissionDuration.WithLabelValues(state).Observe(seconds)
}

// RecordDrift increments the drift_detected counter for one lab/rule pair
// and sets the current active-drift gauge for that lab.
func (m *Metrics) RecordDrift(labID, rule string, activeCount int) {
	m.DriftDetectedTotal.WithLabelValues(labID, rule).Inc()
	m.DriftActiveGauge.WithLabelValues(labID).Set(float64(activeCount))
}
