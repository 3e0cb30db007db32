// Package metrics exposes the Prometheus instrumentation for the detection
// core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type DetectorMetrics struct {
	TransactionsProcessed *prometheus.CounterVec
	FindingsEmitted       *prometheus.CounterVec
	DetectionDuration     *prometheus.HistogramVec
	GatewayFailures       *prometheus.CounterVec
	PendingSwaps          prometheus.Gauge
}

func NewDetectorMetrics() *DetectorMetrics {
	return &DetectorMetrics{
		TransactionsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevshield_transactions_processed_total",
			Help: "Total number of transactions handed to each detector",
		}, []string{"detector"}),
		FindingsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevshield_findings_emitted_total",
			Help: "Total number of findings emitted per detector and severity",
		}, []string{"detector", "severity"}),
		DetectionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mevshield_detection_duration_seconds",
			Help:    "Time taken by a single detection call",
			Buckets: prometheus.DefBuckets,
		}, []string{"detector"}),
		GatewayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevshield_gateway_failures_total",
			Help: "Total number of failed chain gateway calls per method",
		}, []string{"method"}),
		PendingSwaps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mevshield_pending_swaps",
			Help: "Current number of swaps held in the sandwich correlation window",
		}),
	}
}

func Register(m *DetectorMetrics) {
	prometheus.MustRegister(m.TransactionsProcessed, m.FindingsEmitted, m.DetectionDuration, m.GatewayFailures, m.PendingSwaps)
}
