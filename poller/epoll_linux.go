//go:build linux

package poller

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const maxEpollEvents = 128

// epollMux implements Multiplexer with a level-triggered epoll instance. Each
// Wait reconciles the kernel registrations with the requested interest set.
type epollMux struct {
	epfd       int
	wake       *wakePipe
	registered map[int]uint32
	wanted     map[int]uint32
	events     []unix.EpollEvent
	closed     bool
}

// NewEpoll returns an epoll(7) based Multiplexer.
func NewEpoll() (Multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wake, err := newWakePipe()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wake.r)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wake.r, &ev); err != nil {
		_ = wake.close()
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl wake pipe: %w", err)
	}

	return &epollMux{
		epfd:       epfd,
		wake:       wake,
		registered: make(map[int]uint32),
		wanted:     make(map[int]uint32),
		events:     make([]unix.EpollEvent, maxEpollEvents),
	}, nil
}

func (e *epollMux) Wait(interests []Interest) ([]Event, error) {
	if e.closed {
		return nil, ErrClosed
	}

	if err := e.reconcile(interests); err != nil {
		return nil, err
	}

	n, err := unix.EpollWait(e.epfd, e.events, -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}

	ready := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := e.events[i]
		if int(ev.Fd) == e.wake.r {
			e.wake.drain()
			continue
		}

		ready = append(ready, Event{
			Handle:   int(ev.Fd),
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
		})
	}

	return ready, nil
}

func (e *epollMux) reconcile(interests []Interest) error {
	clear(e.wanted)
	for _, in := range interests {
		mask := uint32(unix.EPOLLIN | unix.EPOLLRDHUP)
		if in.Write {
			mask |= unix.EPOLLOUT
		}
		e.wanted[in.Handle] = mask
	}

	for fd := range e.registered {
		if _, ok := e.wanted[fd]; !ok {
			e.Forget(fd)
		}
	}

	for fd, mask := range e.wanted {
		old, ok := e.registered[fd]
		if ok && old == mask {
			continue
		}

		op := unix.EPOLL_CTL_ADD
		if ok {
			op = unix.EPOLL_CTL_MOD
		}

		ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
		err := unix.EpollCtl(e.epfd, op, fd, &ev)
		switch {
		case err == nil:
		case op == unix.EPOLL_CTL_ADD && errors.Is(err, unix.EEXIST):
			err = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
		case op == unix.EPOLL_CTL_MOD && errors.Is(err, unix.ENOENT):
			err = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
		}
		if err != nil {
			return fmt.Errorf("epoll_ctl fd %d: %w", fd, err)
		}

		e.registered[fd] = mask
	}

	return nil
}

// Forget removes handle from the epoll set. ENOENT and EBADF are expected when
// the descriptor is already gone.
func (e *epollMux) Forget(handle int) {
	if _, ok := e.registered[handle]; !ok {
		return
	}
	delete(e.registered, handle)
	_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, handle, nil)
}

func (e *epollMux) Wake() error {
	return e.wake.wake()
}

func (e *epollMux) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	return errors.Join(e.wake.close(), unix.Close(e.epfd))
}
