//go:build !linux

package poller

// NewEpoll is only available on Linux.
func NewEpoll() (Multiplexer, error) {
	return nil, ErrNotSupported
}
