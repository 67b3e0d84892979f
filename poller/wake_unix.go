//go:build linux || darwin || freebsd || netbsd || openbsd

package poller

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// wakePipe is a self-pipe: writing a byte makes the read end readable, which
// interrupts whichever Wait is watching it.
type wakePipe struct {
	mu     sync.Mutex
	r, w   int
	closed bool
}

func newWakePipe() (*wakePipe, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("wake pipe: %w", err)
	}

	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, fmt.Errorf("wake pipe nonblock: %w", err)
		}
	}

	return &wakePipe{r: fds[0], w: fds[1]}, nil
}

func (p *wakePipe) wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	_, err := unix.Write(p.w, []byte{1})
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("wake: %w", err)
	}

	// A full pipe already guarantees a pending wake-up.
	return nil
}

func (p *wakePipe) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *wakePipe) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	return errors.Join(unix.Close(p.r), unix.Close(p.w))
}
