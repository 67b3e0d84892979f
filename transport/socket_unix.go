//go:build linux || darwin || freebsd || netbsd || openbsd

package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// DefaultBacklog is the listen backlog used when none is configured.
const DefaultBacklog = 5

// SocketListener is a Listener over a raw non-blocking TCP socket.
type SocketListener struct {
	fd     int
	addr   string
	closed bool
}

// Listen binds a non-blocking TCP listener on host:port. Port 0 picks a free
// port; Addr reports the one chosen.
//
// Parameters:
//   - host: Interface to bind; "" means all IPv4 interfaces
//   - port: TCP port
//   - backlog: Pending connection queue length; <= 0 uses DefaultBacklog
//
// Returns:
//   - The listener
//   - A *BindError if any setup step fails
func Listen(host string, port int, backlog int) (*SocketListener, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}

	family, sa := toSockaddr(tcpAddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: fmt.Errorf("socket: %w", err)}
	}
	unix.CloseOnExec(fd)

	fail := func(step string, err error) (*SocketListener, error) {
		_ = unix.Close(fd)
		return nil, &BindError{Addr: addr, Err: fmt.Errorf("%s: %w", step, err)}
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("set nonblock", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}

	local, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}

	return &SocketListener{fd: fd, addr: sockaddrString(local)}, nil
}

func (l *SocketListener) Handle() int { return l.fd }

func (l *SocketListener) Addr() string { return l.addr }

// Accept implements Listener.
func (l *SocketListener) Accept() (Conn, error) {
	if l.closed {
		return nil, ErrClosed
	}

	nfd, sa, err := unix.Accept(l.fd)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}
		return nil, &TransportError{Op: "accept", Addr: l.addr, Err: err}
	}
	unix.CloseOnExec(nfd)

	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return nil, &TransportError{Op: "accept", Addr: l.addr, Err: err}
	}
	_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	return &SocketConn{fd: nfd, peer: sockaddrString(sa)}, nil
}

// Close implements Listener.
func (l *SocketListener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return unix.Close(l.fd)
}

// SocketConn is a Conn over a raw non-blocking TCP socket.
type SocketConn struct {
	fd     int
	peer   string
	closed bool
}

func (c *SocketConn) Handle() int { return c.fd }

func (c *SocketConn) RemoteAddr() string { return c.peer }

// Read implements Conn.
func (c *SocketConn) Read(p []byte) ReadResult {
	if c.closed {
		return ReadResult{Kind: ReadError, Err: ErrClosed}
	}

	n, err := unix.Read(c.fd, p)
	switch {
	case err == nil && n > 0:
		return ReadResult{Kind: ReadData, N: n}
	case err == nil:
		return ReadResult{Kind: ReadEOF}
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
		return ReadResult{Kind: ReadWouldBlock}
	default:
		return ReadResult{Kind: ReadError, Err: &TransportError{Op: "read", Addr: c.peer, Err: err}}
	}
}

// Write implements Conn.
func (c *SocketConn) Write(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}

	n, err := unix.Write(c.fd, p)
	if n < 0 {
		n = 0
	}
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
			return n, ErrWouldBlock
		}
		return n, &TransportError{Op: "write", Addr: c.peer, Err: err}
	}

	return n, nil
}

// Close implements Conn.
func (c *SocketConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

func toSockaddr(addr *net.TCPAddr) (int, unix.Sockaddr) {
	if addr.IP == nil || addr.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}

	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return unix.AF_INET6, sa
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return (&net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}).String()
	case *unix.SockaddrInet6:
		return (&net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}).String()
	default:
		return "unknown"
	}
}

func isTemporaryErrno(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}

	switch errno {
	case unix.EINTR, unix.EAGAIN, unix.ECONNABORTED, unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM:
		return true
	default:
		return false
	}
}
