package evhttp

import "github.com/badu/evhttp/internal/metrics"

// metricsSnapshot extends the engine's metrics record with the
// worker-pool fields a supervising master contributes (worker counts,
// per-worker status, architecture tag), left zero-valued when no
// worker pool is attached.
type metricsSnapshot struct {
	metrics.Snapshot

	QueueSize int

	WorkerPoolAttached bool
	Architecture       string
	TotalWorkers       int
	AliveWorkers       int
	Workers            []WorkerStatus
}

// WorkerStatus is one supervised worker's point-in-time status.
type WorkerStatus struct {
	ID          int
	PID         int
	Connections int
	Running     bool
}
