package workerpool

import (
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"

	"github.com/badu/evhttp/internal/fdchannel"
)

// WorkerEnvID is the environment variable a re-exec'd worker process
// reads to learn its own worker ID.
const WorkerEnvID = "EVHTTP_WORKER_ID"

// WorkerEnvControlFD names the environment variable telling a
// centralized-dispatch worker which inherited file descriptor is its
// end of the control socket. The master always places it at
// ExtraFiles[0], i.e. fd 3.
const WorkerEnvControlFD = "EVHTTP_WORKER_CONTROL_FD"

// workerHandle is the master's view of one supervised worker process.
type workerHandle struct {
	id int

	cmd    *exec.Cmd
	done   chan struct{}
	exited atomic.Bool

	conns atomic.Int64

	// control is the master's end of the FD-passing pair, present only
	// under ArchitectureCentralized.
	control    *fdchannel.Pair
	controlNet *net.UnixConn
}

func (w *workerHandle) alive() bool    { return w.cmd != nil && !w.exited.Load() }
func (w *workerHandle) connCount() int { return int(w.conns.Load()) }

// spawnWorker re-execs the current binary as a worker, passing its ID via
// WorkerEnvID. For ArchitectureCentralized, pair's worker end is
// inherited as fd 3 and WorkerEnvControlFD records that.
func spawnWorker(id int, extraEnv []string, pair *fdchannel.Pair) (*workerHandle, error) {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(append([]string{}, os.Environ()...), extraEnv...)
	cmd.Env = append(cmd.Env, WorkerEnvID+"="+strconv.Itoa(id))

	w := &workerHandle{id: id, cmd: cmd, done: make(chan struct{})}

	if pair != nil {
		cmd.ExtraFiles = []*os.File{pair.Worker}
		cmd.Env = append(cmd.Env, WorkerEnvControlFD+"=3")
		w.control = pair
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	if pair != nil {
		pair.Worker.Close() // master keeps only its own end open
		uc, err := wrapUnixConn(pair.Master)
		if err == nil {
			w.controlNet = uc
		}
	}

	go func() {
		cmd.Wait()
		w.exited.Store(true)
		close(w.done)
	}()

	return w, nil
}

func wrapUnixConn(f *os.File) (*net.UnixConn, error) {
	c, err := net.FileConn(f)
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
