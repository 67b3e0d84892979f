//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package transport

import (
	"net"
	"strconv"
)

// DefaultBacklog is the listen backlog used when none is configured.
const DefaultBacklog = 5

// Listen is unavailable on this platform.
func Listen(host string, port int, backlog int) (Listener, error) {
	return nil, &BindError{Addr: net.JoinHostPort(host, strconv.Itoa(port)), Err: ErrNotSupported}
}

func isTemporaryErrno(error) bool { return false }
