// Package telemetry defines the process's Prometheus collectors.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "glare",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "path", "status"},
)

var PolicyFiresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "glare",
		Subsystem: "dispatch",
		Name:      "policy_fires_total",
		Help:      "Total number of policy fires, by outcome.",
	},
	[]string{"outcome"},
)

var WorkerCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "glare",
		Subsystem: "worker",
		Name:      "call_duration_seconds",
		Help:      "Outbound worker call duration in seconds, by endpoint path.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"path", "outcome"},
)

var LeaseAcquisitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "glare",
		Subsystem: "lease",
		Name:      "acquisitions_total",
		Help:      "Total number of lease acquisition attempts, by result.",
	},
	[]string{"result"},
)

var SizeAnomaliesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "glare",
		Subsystem: "anomaly",
		Name:      "detected_total",
		Help:      "Total number of size anomalies detected, by severity.",
	},
	[]string{"severity"},
)

var SweepSynthesizedRunsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "glare",
		Subsystem: "sweep",
		Name:      "synthesized_runs_total",
		Help:      "Total number of runs synthesized by the reconciliation sweeper.",
	},
)

// All returns every control-plane Prometheus collector, for registration
// against the process's metrics registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		PolicyFiresTotal,
		WorkerCallDuration,
		LeaseAcquisitionsTotal,
		SizeAnomaliesTotal,
		SweepSynthesizedRunsTotal,
	}
}
