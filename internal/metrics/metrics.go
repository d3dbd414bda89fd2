// Package metrics implements the engine's metrics record, wrapping
// prometheus/client_golang collectors behind a small typed API rather
// than exposing package-global collectors.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks the engine's counters and gauges and satisfies
// internal/server.Metrics.
type Metrics struct {
	startedAt time.Time

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	totalConnections   atomic.Int64
	closedConnections  atomic.Int64
	timedOutConns      atomic.Int64
	rejectedFull       atomic.Int64
	activeConnections  atomic.Int64
	cacheHits          atomic.Int64
	cacheMisses        atomic.Int64

	mu          sync.Mutex
	durationsMs []float64

	requestsCounter  prometheus.Counter
	failedCounter    prometheus.Counter
	connGauge        prometheus.Gauge
	cacheHitsCounter prometheus.Counter
}

// New constructs a Metrics instance and registers its collectors with
// reg. reg may be prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		startedAt: time.Now(),
		requestsCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evhttp_requests_total",
			Help: "Total HTTP requests processed.",
		}),
		failedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evhttp_failed_requests_total",
			Help: "Requests answered with a status >= 400.",
		}),
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evhttp_active_connections",
			Help: "Currently live connections.",
		}),
		cacheHitsCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evhttp_static_cache_hits_total",
			Help: "Static file cache hits.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requestsCounter, m.failedCounter, m.connGauge, m.cacheHitsCounter)
	}
	return m
}

func (m *Metrics) IncAccepted()    { m.totalConnections.Add(1) }
func (m *Metrics) IncRejectedFull() { m.rejectedFull.Add(1) }

func (m *Metrics) IncRequests() {
	m.totalRequests.Add(1)
	m.successfulRequests.Add(1)
	m.requestsCounter.Inc()
}

func (m *Metrics) IncFailedRequests() {
	m.totalRequests.Add(1)
	m.failedRequests.Add(1)
	m.requestsCounter.Inc()
	m.failedCounter.Inc()
}

func (m *Metrics) IncClosedConnections()   { m.closedConnections.Add(1) }
func (m *Metrics) IncTimedOutConnections() { m.timedOutConns.Add(1) }

func (m *Metrics) SetActiveConnections(n int) {
	m.activeConnections.Store(int64(n))
	m.connGauge.Set(float64(n))
}

// RecordCacheHit/RecordCacheMiss add one cache hit or miss to the
// shared metrics record. The static handler does not call them: the
// root package's GetMetrics copies the handler's own Stats() counts
// into its snapshot instead.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
	m.cacheHitsCounter.Inc()
}
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Add(1) }

// RecordRequestDuration feeds one request's wall-clock duration into
// the avg/min/max tracked for Snapshot.
func (m *Metrics) RecordRequestDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durationsMs = append(m.durationsMs, float64(d.Microseconds())/1000.0)
	if len(m.durationsMs) > 10000 {
		m.durationsMs = m.durationsMs[len(m.durationsMs)-10000:]
	}
}

// Snapshot is the metrics record, read-only and safe to serialize.
type Snapshot struct {
	UptimeSeconds        float64
	TotalRequests        int64
	SuccessfulRequests   int64
	FailedRequests       int64
	ActiveConnections    int64
	TotalConnections     int64
	ClosedConnections    int64
	TimedOutConnections  int64
	CacheHits            int64
	CacheMisses          int64
	CacheHitRate         float64
	AvgRequestDurationMs float64
	MinRequestDurationMs float64
	MaxRequestDurationMs float64
	RequestsPerSecond    float64
}

// Snapshot returns a point-in-time copy of every counter.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	durations := append([]float64(nil), m.durationsMs...)
	m.mu.Unlock()

	uptime := time.Since(m.startedAt).Seconds()
	total := m.totalRequests.Load()

	s := Snapshot{
		UptimeSeconds:       uptime,
		TotalRequests:       total,
		SuccessfulRequests:  m.successfulRequests.Load(),
		FailedRequests:      m.failedRequests.Load(),
		ActiveConnections:   m.activeConnections.Load(),
		TotalConnections:    m.totalConnections.Load(),
		ClosedConnections:   m.closedConnections.Load(),
		TimedOutConnections: m.timedOutConns.Load(),
		CacheHits:           m.cacheHits.Load(),
		CacheMisses:         m.cacheMisses.Load(),
	}
	if uptime > 0 {
		s.RequestsPerSecond = float64(total) / uptime
	}
	if hitTotal := s.CacheHits + s.CacheMisses; hitTotal > 0 {
		s.CacheHitRate = 100 * float64(s.CacheHits) / float64(hitTotal)
	}
	if len(durations) > 0 {
		sum, min, max := 0.0, durations[0], durations[0]
		for _, d := range durations {
			sum += d
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
		}
		s.AvgRequestDurationMs = sum / float64(len(durations))
		s.MinRequestDurationMs = min
		s.MaxRequestDurationMs = max
	}
	return s
}
