// Package workerpool implements the dual-architecture multi-process
// master: a parent process that listens (or accepts) on behalf of a
// fixed pool of worker processes, reaping
// and restarting any worker that exits, using either kernel-level load
// balancing (shared-listen) or master-side dispatch over the FD control
// channel (centralized).
package workerpool

import (
	"time"
)

// Architecture selects how accepted connections reach a worker.
type Architecture string

const (
	// ArchitectureAuto probes the platform at startup and picks
	// ArchitectureSharedListen when SO_REUSEPORT is available, falling
	// back to ArchitectureCentralized otherwise.
	ArchitectureAuto Architecture = "auto"

	// ArchitectureSharedListen has every worker bind the same address
	// with SO_REUSEPORT set, letting the kernel load-balance accepts
	// across workers with no inter-process communication.
	ArchitectureSharedListen Architecture = "shared-listen"

	// ArchitectureCentralized has only the master bind the listener; it
	// accepts and hands each connection's file descriptor to a chosen
	// worker over a control socket.
	ArchitectureCentralized Architecture = "centralized"
)

// BalancerKind selects how the master picks a worker under
// ArchitectureCentralized.
type BalancerKind string

const (
	BalancerRoundRobin       BalancerKind = "round-robin"
	BalancerLeastConnections BalancerKind = "least-connections"
)

// Config configures the master, mirroring the worker_pool config
// section.
type Config struct {
	Workers      int
	Architecture Architecture
	Balancer     BalancerKind
	AutoRestart  bool
	RestartDelay time.Duration

	// ShutdownGrace bounds how long the master waits for workers to
	// drain in response to SIGTERM before sending SIGKILL.
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Architecture == "" {
		c.Architecture = ArchitectureAuto
	}
	if c.Balancer == "" {
		c.Balancer = BalancerRoundRobin
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	return c
}

// WorkerStatus is a point-in-time snapshot of one supervised worker,
// exposed for diagnostics/metrics.
type WorkerStatus struct {
	ID          int
	PID         int
	Restarts    int
	Connections int
	Running     bool
}
