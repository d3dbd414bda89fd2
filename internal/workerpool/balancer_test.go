package workerpool

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveHandle(id, conns int) *workerHandle {
	w := &workerHandle{id: id, cmd: &exec.Cmd{}, done: make(chan struct{})}
	w.conns.Store(int64(conns))
	return w
}

func deadHandle(id int) *workerHandle {
	w := liveHandle(id, 0)
	w.exited.Store(true)
	return w
}

func TestRoundRobinCycles(t *testing.T) {
	b := newRoundRobinBalancer()
	workers := []*workerHandle{liveHandle(0, 0), liveHandle(1, 0), liveHandle(2, 0)}

	var order []int
	for i := 0; i < 6; i++ {
		order = append(order, b.next(workers).id)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, order)
}

func TestRoundRobinSkipsDeadWorkers(t *testing.T) {
	b := newRoundRobinBalancer()
	workers := []*workerHandle{liveHandle(0, 0), deadHandle(1), liveHandle(2, 0)}

	var order []int
	for i := 0; i < 4; i++ {
		order = append(order, b.next(workers).id)
	}
	assert.NotContains(t, order, 1)
}

func TestRoundRobinAllDead(t *testing.T) {
	b := newRoundRobinBalancer()
	assert.Nil(t, b.next([]*workerHandle{deadHandle(0), deadHandle(1)}))
	assert.Nil(t, b.next(nil))
}

func TestLeastConnectionsPicksMinimum(t *testing.T) {
	b := newLeastConnectionsBalancer()
	workers := []*workerHandle{liveHandle(0, 5), liveHandle(1, 2), liveHandle(2, 9)}
	assert.Equal(t, 1, b.next(workers).id)
}

func TestLeastConnectionsIgnoresDead(t *testing.T) {
	b := newLeastConnectionsBalancer()
	dead := deadHandle(0) // fewest connections, but gone
	workers := []*workerHandle{dead, liveHandle(1, 3)}
	assert.Equal(t, 1, b.next(workers).id)
}

func TestLeastConnectionsTieBreaksWithinTiedSet(t *testing.T) {
	b := newLeastConnectionsBalancer()
	workers := []*workerHandle{liveHandle(0, 1), liveHandle(1, 1), liveHandle(2, 7)}

	for i := 0; i < 20; i++ {
		w := b.next(workers)
		require.NotNil(t, w)
		assert.Contains(t, []int{0, 1}, w.id)
	}
}

func TestNewBalancerSelection(t *testing.T) {
	_, rr := newBalancer(BalancerRoundRobin).(*roundRobinBalancer)
	assert.True(t, rr)
	_, lc := newBalancer(BalancerLeastConnections).(*leastConnectionsBalancer)
	assert.True(t, lc)
	// Unknown kinds fall back to round-robin.
	_, fallback := newBalancer("bogus").(*roundRobinBalancer)
	assert.True(t, fallback)
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, 1, c.Workers)
	assert.Equal(t, ArchitectureAuto, c.Architecture)
	assert.Equal(t, BalancerRoundRobin, c.Balancer)
	assert.NotZero(t, c.RestartDelay)
	assert.NotZero(t, c.ShutdownGrace)
}
