// Package fdchannel implements the FD control channel: a Unix domain
// socket pair created before fork,
// carrying one accepted connection's file descriptor plus a small
// metadata blob from the master to a worker, using the OS's ancillary
// control-message mechanism for transferring descriptors across
// processes.
package fdchannel

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Metadata is the UTF-8 structured record carried alongside the FD.
type Metadata struct {
	WorkerID  int     `json:"worker_id"`
	ClientIP  string  `json:"client_ip"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Pair is a connected pair of Unix domain sockets, one end kept by the
// master and one handed to a forked worker — mirroring net.Pipe's
// symmetry but over a real fd-capable socketpair rather than an
// in-process pipe, since FD passing requires a genuine kernel socket.
type Pair struct {
	Master *os.File
	Worker *os.File
}

// NewPair creates a connected SOCK_STREAM socketpair suitable for FD
// passing, to be created before fork so both ends survive into the
// child.
func NewPair() (*Pair, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	return &Pair{
		Master: os.NewFile(uintptr(fds[0]), "fdchannel-master"),
		Worker: os.NewFile(uintptr(fds[1]), "fdchannel-worker"),
	}, nil
}

// Send writes fd plus meta's JSON encoding as an ancillary control
// message over conn (the master's end of the pair, as a net.Conn). The
// metadata is also written as the message's regular (non-ancillary)
// payload so a receiver observes both in a single read.
func Send(conn *net.UnixConn, fd int, meta Metadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	rights := unix.UnixRights(fd)

	f, err := conn.File()
	if err != nil {
		return err
	}
	defer f.Close()

	return unix.Sendmsg(int(f.Fd()), payload, rights, nil, 0)
}

// Received is one control-channel delivery: an adopted FD plus its
// metadata, or an error if the delivery was malformed.
type Received struct {
	FD   int
	Meta Metadata
}

// Recv performs one non-blocking read from conn, returning ok=false
// (not an error) when no message is currently available. A message
// whose metadata does not parse as valid JSON is reported as an error
// — the caller should log and close any FD it carried.
func Recv(conn *net.UnixConn) (r Received, ok bool, err error) {
	f, err := conn.File()
	if err != nil {
		return Received{}, false, err
	}
	defer f.Close()

	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(4))

	// (*os.File).Fd switches the descriptor to blocking mode on every
	// call, so it is taken once and then set non-blocking.
	sock := int(f.Fd())
	if err := unix.SetNonblock(sock, true); err != nil {
		return Received{}, false, err
	}

	n, oobn, _, _, err := unix.Recvmsg(sock, buf, oob, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return Received{}, false, nil
		}
		return Received{}, false, err
	}
	if n == 0 && oobn == 0 {
		return Received{}, false, nil
	}

	// Extract any fd first so a malformed-metadata error below still
	// hands the caller something to close instead of leaking it.
	var fd int
	haveFD := false
	if cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn]); err == nil {
		for _, cmsg := range cmsgs {
			if fds, err := unix.ParseUnixRights(&cmsg); err == nil && len(fds) > 0 {
				fd, haveFD = fds[0], true
				break
			}
		}
	}

	var meta Metadata
	if err := json.Unmarshal(buf[:n], &meta); err != nil {
		return Received{FD: fd}, true, fmt.Errorf("fdchannel: malformed metadata: %w", err)
	}
	if !haveFD {
		return Received{}, true, fmt.Errorf("fdchannel: no fd in control message")
	}
	return Received{FD: fd, Meta: meta}, true, nil
}
