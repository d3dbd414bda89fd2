//go:build !linux

package server

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable fallback backing Poller on non-Linux
// targets, using unix.Poll — the closest x/sys analogue to a classic
// select(2) readiness scan, grounded the same way
// other_examples/searchktools-fast-server chooses a capability-probed
// backend per OS.
type pollPoller struct {
	mu  sync.Mutex
	fds map[int]struct{}
}

func newPlatformPoller() (Poller, error) {
	return &pollPoller{fds: make(map[int]struct{})}, nil
}

func (p *pollPoller) Add(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[fd] = struct{}{}
	return nil
}

func (p *pollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	return nil
}

func (p *pollPoller) Wait(timeout time.Duration) ([]int, error) {
	p.mu.Lock()
	pfds := make([]unix.PollFd, 0, len(p.fds))
	for fd := range p.fds {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	p.mu.Unlock()

	if len(pfds) == 0 {
		return nil, nil
	}

	ms := int(timeout / time.Millisecond)
	n, err := unix.Poll(pfds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	ready := make([]int, 0, n)
	for _, pfd := range pfds {
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			ready = append(ready, int(pfd.Fd))
		}
	}
	return ready, nil
}

func (p *pollPoller) Close() error { return nil }
