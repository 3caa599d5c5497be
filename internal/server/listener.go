// Package server glues the streaming YAML parser to the data-access
// layer and frames responses back onto the socket. It also owns the
// listener setup and the per-connection socket options applied before
// a connection is handed to the work queue.
package server

import (
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Listen opens an IPv4 TCP listener on addr with SO_REUSEADDR set so a
// restart can rebind immediately, and the given accept backlog. The
// socket is built by hand because net.ListenConfig offers no way to set
// the backlog passed to listen(2).
func Listen(addr string, backlog int) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// net.FileListener dups the descriptor, so the os.File wrapper is
	// closed here either way.
	f := os.NewFile(uintptr(fd), "tcp4:"+addr)
	defer f.Close()
	return net.FileListener(f)
}

// ApplyClientTimeouts sets SO_RCVTIMEO and SO_SNDTIMEO on an accepted
// client socket before it is handed to the work queue, so a stalled
// peer times out instead of holding a worker forever. Only a
// *net.TCPConn is configured; any other conn is left unchanged and nil
// is returned.
func ApplyClientTimeouts(conn net.Conn, timeout time.Duration) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return err
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	var setErr error
	err = raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptTimeval(int(fd), unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); e != nil {
			setErr = e
			return
		}
		setErr = unix.SetsockoptTimeval(int(fd), unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
	})
	if err != nil {
		return err
	}
	return setErr
}
