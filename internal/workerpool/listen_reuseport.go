package workerpool

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortListenConfig returns a net.ListenConfig whose Control hook
// sets SO_REUSEPORT (and SO_REUSEADDR) before bind, letting every
// worker under ArchitectureSharedListen bind the identical address and
// have the kernel load-balance accepts between them.
func reusePortListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				if sockErr != nil {
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// ListenSharedPort binds addr with SO_REUSEPORT set. Called once per
// worker process under ArchitectureSharedListen; the kernel fans
// incoming connections out across every process bound this way.
func ListenSharedPort(ctx context.Context, addr string) (net.Listener, error) {
	lc := reusePortListenConfig()
	return lc.Listen(ctx, "tcp", addr)
}

// probeSharedListenSupported reports whether SO_REUSEPORT is usable on
// this platform, used by ArchitectureAuto to pick a default.
func probeSharedListenSupported() bool {
	ln, err := ListenSharedPort(context.Background(), "127.0.0.1:0")
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
