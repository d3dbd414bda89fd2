package workerpool

import (
	"context"
	"net"
	"os"
	"strconv"

	"github.com/badu/evhttp/internal/fdchannel"
)

// WorkerRuntime is what a re-exec'd worker process reads from its
// environment to learn its role: its own ID, which architecture the
// master resolved to, the address to serve (shared-listen only), and
// its inherited control-socket fd (centralized only).
type WorkerRuntime struct {
	ID           int
	Architecture Architecture
	Addr         string
	controlFile  *os.File
}

// IsWorkerProcess reports whether the current process was re-exec'd by
// a Master as a worker, i.e. WorkerEnvID is set in its environment.
func IsWorkerProcess() bool {
	_, ok := os.LookupEnv(WorkerEnvID)
	return ok
}

// LoadWorkerRuntime parses the environment a Master-spawned worker
// process was started with.
func LoadWorkerRuntime() (WorkerRuntime, bool) {
	idStr, ok := os.LookupEnv(WorkerEnvID)
	if !ok {
		return WorkerRuntime{}, false
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return WorkerRuntime{}, false
	}

	rt := WorkerRuntime{
		ID:           id,
		Architecture: Architecture(os.Getenv("EVHTTP_WORKER_ARCH")),
		Addr:         os.Getenv("EVHTTP_WORKER_ADDR"),
	}
	if _, ok := os.LookupEnv(WorkerEnvControlFD); ok {
		rt.controlFile = os.NewFile(3, "evhttp-control")
	}
	return rt, true
}

// Listen binds rt.Addr with SO_REUSEPORT set, for a worker running
// under ArchitectureSharedListen.
func (rt WorkerRuntime) Listen(ctx context.Context) (net.Listener, error) {
	return ListenSharedPort(ctx, rt.Addr)
}

// ControlConn returns the worker's end of the FD-passing control
// socket, for a worker running under ArchitectureCentralized.
func (rt WorkerRuntime) ControlConn() (*net.UnixConn, error) {
	c, err := net.FileConn(rt.controlFile)
	if err != nil {
		return nil, err
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, os.ErrInvalid
	}
	return uc, nil
}

// Adopter is the subset of internal/server.Server a FDReceiveTask
// adopts accepted connections into.
type Adopter interface {
	AddExternalConnection(nc net.Conn, remoteAddr, remotePort string) bool
}

// FDReceiveTask is a Task (in the internal/server.Task sense) that
// drains the control socket once per tick and adopts every delivered
// connection into srv, without ever blocking the poll loop.
type FDReceiveTask struct {
	conn *net.UnixConn
	srv  Adopter
}

// NewFDReceiveTask builds a cooperative task a worker registers with
// its Server via RegisterTask, so FD deliveries are drained on the same
// cadence as everything else the host ticks.
func NewFDReceiveTask(conn *net.UnixConn, srv Adopter) *FDReceiveTask {
	return &FDReceiveTask{conn: conn, srv: srv}
}

// Step drains every currently pending FD delivery and adopts it. It
// never reports done on a healthy channel — the control socket stays
// open for the worker's whole lifetime — but a socket-level failure
// surfaces as err so the engine drops the task instead of spinning.
func (t *FDReceiveTask) Step() (done bool, err error) {
	for {
		r, ok, err := fdchannel.Recv(t.conn)
		if err != nil {
			if r.FD != 0 {
				os.NewFile(uintptr(r.FD), "evhttp-rejected").Close()
			}
			if !ok {
				// Socket-level failure, not one malformed delivery.
				return true, err
			}
			continue
		}
		if !ok {
			return false, nil
		}
		f := os.NewFile(uintptr(r.FD), "evhttp-adopted")
		nc, err := net.FileConn(f)
		f.Close()
		if err != nil {
			continue
		}
		port := ""
		t.srv.AddExternalConnection(nc, r.Meta.ClientIP, port)
	}
}
