//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package poller

// NewPoll is unavailable on this platform.
func NewPoll() (Multiplexer, error) {
	return nil, ErrNotSupported
}
