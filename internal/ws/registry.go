package ws

import (
	"sync"

	"github.com/badu/evhttp/internal/conn"
	"github.com/badu/evhttp/internal/wsframe"
	"github.com/google/uuid"
)

// Registry holds every open WS connection plus room membership.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]*Conn
	byConn map[*conn.Conn]*Conn
	rooms  map[string]map[string]*Conn
}

func newRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		byConn: make(map[*conn.Conn]*Conn),
		rooms:  make(map[string]map[string]*Conn),
	}
}

func (r *Registry) adopt(raw *conn.Conn, ref conn.Ref) *Conn {
	c := &Conn{
		id:    uuid.NewString(),
		raw:   raw,
		ref:   ref,
		state: StateOpen,
		rooms: make(map[string]bool),
	}
	r.mu.Lock()
	r.conns[c.id] = c
	r.byConn[raw] = c
	r.mu.Unlock()
	return c
}

// byRaw resolves the underlying transport Conn back to its ws.Conn
// wrapper — used by Handler.HandleData, which only ever sees the raw
// connection from the engine.
func (r *Registry) byRaw(raw *conn.Conn) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byConn[raw]
	return c, ok
}

// Get resolves a connection id to its Conn.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

// Each calls fn for every currently-registered connection.
func (r *Registry) Each(fn func(*Conn)) {
	r.mu.Lock()
	snapshot := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		snapshot = append(snapshot, c)
	}
	r.mu.Unlock()
	for _, c := range snapshot {
		fn(c)
	}
}

// JoinRoom adds c to room, maintaining both sides of the membership.
func (r *Registry) JoinRoom(c *Conn, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		r.rooms[room] = members
	}
	members[c.id] = c
	c.mu.Lock()
	c.rooms[room] = true
	c.mu.Unlock()
}

// LeaveRoom removes c from room.
func (r *Registry) LeaveRoom(c *Conn, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.rooms[room]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// Broadcast sends payload as a text frame to every open connection
// except exclude (nil to exclude none).
func (r *Registry) Broadcast(payload []byte, exclude *Conn) {
	r.broadcastFrame(wsframe.EncodeText(payload), exclude, r.snapshotAll())
}

// BroadcastToRoom restricts Broadcast to room membership.
func (r *Registry) BroadcastToRoom(room string, payload []byte, exclude *Conn) {
	r.mu.Lock()
	members := r.rooms[room]
	snapshot := make([]*Conn, 0, len(members))
	for _, c := range members {
		snapshot = append(snapshot, c)
	}
	r.mu.Unlock()
	r.broadcastFrame(wsframe.EncodeText(payload), exclude, snapshot)
}

func (r *Registry) snapshotAll() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		snapshot = append(snapshot, c)
	}
	return snapshot
}

func (r *Registry) broadcastFrame(frame []byte, exclude *Conn, conns []*Conn) {
	for _, c := range conns {
		if exclude != nil && c.id == exclude.id {
			continue
		}
		if c.State() != StateOpen {
			continue
		}
		c.raw.Write(frame)
	}
}

// CleanupClosedConnections removes every connection in state=closed
// from the registry and detaches it from all rooms.
func (r *Registry) CleanupClosedConnections() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conns {
		if c.State() != StateClosed {
			continue
		}
		delete(r.conns, id)
		delete(r.byConn, c.raw)
		c.mu.Lock()
		rooms := make([]string, 0, len(c.rooms))
		for room := range c.rooms {
			rooms = append(rooms, room)
		}
		c.mu.Unlock()
		for _, room := range rooms {
			if members, ok := r.rooms[room]; ok {
				delete(members, id)
				if len(members) == 0 {
					delete(r.rooms, room)
				}
			}
		}
	}
}
