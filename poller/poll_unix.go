//go:build linux || darwin || freebsd || netbsd || openbsd

package poller

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const readyMask = unix.POLLIN | unix.POLLHUP | unix.POLLERR | unix.POLLNVAL

// pollMux implements Multiplexer with poll(2). The interest set is rebuilt on
// every call, matching the select()-style contract exactly.
type pollMux struct {
	wake   *wakePipe
	fds    []unix.PollFd
	closed bool
}

// NewPoll returns a poll(2) based Multiplexer.
func NewPoll() (Multiplexer, error) {
	wake, err := newWakePipe()
	if err != nil {
		return nil, err
	}

	return &pollMux{wake: wake}, nil
}

func (p *pollMux) Wait(interests []Interest) ([]Event, error) {
	if p.closed {
		return nil, ErrClosed
	}

	p.fds = p.fds[:0]
	p.fds = append(p.fds, unix.PollFd{Fd: int32(p.wake.r), Events: unix.POLLIN})
	for _, in := range interests {
		events := int16(unix.POLLIN)
		if in.Write {
			events |= unix.POLLOUT
		}
		p.fds = append(p.fds, unix.PollFd{Fd: int32(in.Handle), Events: events})
	}

	n, err := unix.Poll(p.fds, -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("poll: %w", err)
	}

	ready := make([]Event, 0, n)
	for i, fd := range p.fds {
		if fd.Revents == 0 {
			continue
		}
		if i == 0 {
			p.wake.drain()
			continue
		}

		ready = append(ready, Event{
			Handle:   int(fd.Fd),
			Readable: fd.Revents&readyMask != 0,
			Writable: fd.Revents&unix.POLLOUT != 0,
		})
	}

	return ready, nil
}

// Forget is a no-op: poll(2) keeps no registrations between calls.
func (p *pollMux) Forget(int) {}

func (p *pollMux) Wake() error {
	return p.wake.wake()
}

func (p *pollMux) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.wake.close()
}
