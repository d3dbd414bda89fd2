package conn

import (
	"net"
	"sync"
	"time"
)

// Ref is a generation-stamped pool index — a cheap, copyable stand-in
// for a *Conn that the request queue and pending-response map can hold
// without aliasing a connection that might already have been recycled
// into a new one at the same slot.
type Ref struct {
	slot       int
	generation uint64
}

type slotEntry struct {
	conn       *Conn
	generation uint64
	occupied   bool
}

// Pool is the bounded set of live connections: a mapping from
// connection identity to Conn, bounded by maxConns, rejecting Add
// when full.
type Pool struct {
	mu       sync.Mutex
	slots    []slotEntry
	free     []int
	maxConns int
	nextGen  uint64
}

// New returns an empty Pool bounded at maxConns live connections.
func New(maxConns int) *Pool {
	return &Pool{maxConns: maxConns}
}

// Add registers rwc as a new Conn. ok is false if the pool is at
// maxConns capacity — the caller must reject the accept.
func (p *Pool) Add(rwc net.Conn, remoteAddr, remotePort string) (Ref, *Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxConns > 0 && p.occupiedLocked() >= p.maxConns {
		return Ref{}, nil, false
	}

	p.nextGen++
	gen := p.nextGen
	now := time.Now()
	c := &Conn{
		rwc:          rwc,
		remoteAddr:   remoteAddr,
		remotePort:   remotePort,
		lastActivity: now,
		keepalive:    true,
		generation:   gen,
	}

	var slot int
	if n := len(p.free); n > 0 {
		slot = p.free[n-1]
		p.free = p.free[:n-1]
		p.slots[slot] = slotEntry{conn: c, generation: gen, occupied: true}
	} else {
		slot = len(p.slots)
		p.slots = append(p.slots, slotEntry{conn: c, generation: gen, occupied: true})
	}
	c.slot = slot
	c.generation = gen

	return Ref{slot: slot, generation: gen}, c, true
}

func (p *Pool) occupiedLocked() int {
	n := 0
	for _, s := range p.slots {
		if s.occupied {
			n++
		}
	}
	return n
}

// Get resolves ref to its live *Conn. ok is false if the slot has since
// been recycled (the original connection closed and removed).
func (p *Pool) Get(ref Ref) (*Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ref.slot < 0 || ref.slot >= len(p.slots) {
		return nil, false
	}
	s := p.slots[ref.slot]
	if !s.occupied || s.generation != ref.generation {
		return nil, false
	}
	return s.conn, true
}

// Valid reports whether ref still refers to a live connection in p,
// without needing the *Conn back.
func (p *Pool) Valid(ref Ref) bool {
	_, ok := p.Get(ref)
	return ok
}

// Remove closes and evicts the connection at ref, if still live.
// Removing an already-stale ref is a no-op.
func (p *Pool) Remove(ref Ref) {
	p.mu.Lock()
	c, slot, ok := p.lockedResolve(ref)
	p.mu.Unlock()
	if !ok {
		return
	}
	c.Close()
	p.mu.Lock()
	p.slots[slot] = slotEntry{}
	p.free = append(p.free, slot)
	p.mu.Unlock()
}

func (p *Pool) lockedResolve(ref Ref) (*Conn, int, bool) {
	if ref.slot < 0 || ref.slot >= len(p.slots) {
		return nil, 0, false
	}
	s := p.slots[ref.slot]
	if !s.occupied || s.generation != ref.generation {
		return nil, 0, false
	}
	return s.conn, ref.slot, true
}

// RemoveTimedOut scans every live connection and evicts those idle
// longer than idleTimeout, returning the Refs it removed so callers can
// drop any queue/pending-response entries keyed by them. A connection
// that is mid-response (queued, awaiting the host, or being written to)
// is exempt — the request timer, not the idle timer, governs those.
func (p *Pool) RemoveTimedOut(idleTimeout time.Duration) []Ref {
	p.mu.Lock()
	var stale []Ref
	for slot, s := range p.slots {
		if !s.occupied || !s.conn.IsIdleTimedOut(idleTimeout) {
			continue
		}
		switch s.conn.State() {
		case StateInQueue, StateAwaitingResponse, StateWritingResponse:
			continue
		}
		stale = append(stale, Ref{slot: slot, generation: s.generation})
	}
	p.mu.Unlock()

	for _, ref := range stale {
		p.Remove(ref)
	}
	return stale
}

// Len returns the number of currently live connections.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.occupiedLocked()
}

// Each calls fn for every live connection's Ref. fn must not call back
// into the Pool.
func (p *Pool) Each(fn func(Ref, *Conn)) {
	p.mu.Lock()
	snapshot := make([]struct {
		ref Ref
		c   *Conn
	}, 0, len(p.slots))
	for slot, s := range p.slots {
		if s.occupied {
			snapshot = append(snapshot, struct {
				ref Ref
				c   *Conn
			}{Ref{slot: slot, generation: s.generation}, s.conn})
		}
	}
	p.mu.Unlock()

	for _, e := range snapshot {
		fn(e.ref, e.c)
	}
}
