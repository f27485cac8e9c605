package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every ptyctl collector. A dedicated registry keeps the
// textfile export free of Go runtime metrics.
var Registry = prometheus.NewRegistry()

// Bridge client metrics
var (
	BridgeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptyctl_bridge_requests_total",
			Help: "Total requests sent to the PTY bridge",
		},
		[]string{"op", "status"},
	)

	BridgeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ptyctl_bridge_request_duration_seconds",
			Help:    "Latency of PTY bridge requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"op"},
	)

	MarkerWaitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptyctl_marker_waits_total",
			Help: "Completed marker waits by outcome",
		},
		[]string{"outcome"},
	)

	MarkerPollAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ptyctl_marker_poll_attempts",
			Help:    "Buffer polls needed before a marker wait settled",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		},
	)
)

// Transfer metrics
var (
	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptyctl_transfers_total",
			Help: "Chunked payload transfers by final state",
		},
		[]string{"state"},
	)

	TransferChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ptyctl_transfer_chunks_total",
			Help: "Chunks appended to remote temp files",
		},
	)

	TransferBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ptyctl_transfer_bytes_total",
			Help: "Payload bytes delivered (before encoding)",
		},
	)
)

// Operator workflow metrics
var (
	RunbookStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptyctl_runbook_steps_total",
			Help: "Runbook steps executed by type and result",
		},
		[]string{"type", "result"},
	)

	EndpointChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptyctl_endpoint_checks_total",
			Help: "Application endpoint checks by result",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		BridgeRequestsTotal,
		BridgeRequestDuration,
		MarkerWaitsTotal,
		MarkerPollAttempts,
		TransfersTotal,
		TransferChunksTotal,
		TransferBytesTotal,
		RunbookStepsTotal,
		EndpointChecksTotal,
	)
}

// WriteTextfile writes every collector in the node-exporter textfile format.
// The write is atomic: the file is written to a temp name and renamed.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
