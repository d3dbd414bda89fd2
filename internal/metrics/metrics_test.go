package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestSnapshotCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncAccepted()
	m.IncAccepted()
	m.IncRequests()
	m.IncRequests()
	m.IncRequests()
	m.IncFailedRequests()
	m.IncClosedConnections()
	m.IncTimedOutConnections()
	m.SetActiveConnections(7)

	s := m.Snapshot()
	assert.Equal(t, int64(4), s.TotalRequests)
	assert.Equal(t, int64(3), s.SuccessfulRequests)
	assert.Equal(t, int64(1), s.FailedRequests)
	assert.Equal(t, int64(2), s.TotalConnections)
	assert.Equal(t, int64(1), s.ClosedConnections)
	assert.Equal(t, int64(1), s.TimedOutConnections)
	assert.Equal(t, int64(7), s.ActiveConnections)
	assert.Greater(t, s.UptimeSeconds, 0.0)
	assert.Greater(t, s.RequestsPerSecond, 0.0)
}

func TestSnapshotDurations(t *testing.T) {
	m := New(nil)
	m.RecordRequestDuration(10 * time.Millisecond)
	m.RecordRequestDuration(20 * time.Millisecond)
	m.RecordRequestDuration(60 * time.Millisecond)

	s := m.Snapshot()
	assert.InDelta(t, 30.0, s.AvgRequestDurationMs, 0.5)
	assert.InDelta(t, 10.0, s.MinRequestDurationMs, 0.5)
	assert.InDelta(t, 60.0, s.MaxRequestDurationMs, 0.5)
}

func TestSnapshotCacheHitRate(t *testing.T) {
	m := New(nil)
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()

	s := m.Snapshot()
	assert.Equal(t, int64(3), s.CacheHits)
	assert.Equal(t, int64(1), s.CacheMisses)
	assert.InDelta(t, 75.0, s.CacheHitRate, 0.01)
}

func TestSnapshotEmptyIsAllZero(t *testing.T) {
	m := New(nil)
	s := m.Snapshot()
	assert.Zero(t, s.TotalRequests)
	assert.Zero(t, s.AvgRequestDurationMs)
	assert.Zero(t, s.CacheHitRate)
	assert.Zero(t, s.RequestsPerSecond)
}
