package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transfer outcome and phase latency collectors. Registered on the default
// registry; the coordinator exposes them on /metrics.
var (
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atx_transfers_total",
		Help: "Transfers by terminal status.",
	}, []string{"status"})

	TransferRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atx_transfer_retries_total",
		Help: "Re-attempts made by TransferWithRetry beyond the first try.",
	})

	PhaseLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atx_phase_latency_seconds",
		Help:    "Latency of the prepare and decide phases.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	CriticalOutcomes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atx_critical_outcomes_total",
		Help: "Commits that lost a participant acknowledgement after the decision.",
	})

	SweeperAborts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atx_sweeper_aborts_total",
		Help: "Dangling pending transactions aborted by the background sweeper.",
	})
)
