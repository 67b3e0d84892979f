// Package poller wraps the operating system's readiness primitives behind one
// small interface: hand it the handles you care about, get back the ready ones.
//
// Implementations are level-triggered. A handle with unread input is reported
// again on every Wait until it is drained. Only Wake may be called from other
// goroutines; everything else belongs to the loop that owns the multiplexer.
package poller

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotSupported is returned on platforms without a readiness primitive.
	ErrNotSupported = errors.New("readiness multiplexing is not supported on this platform")
	// ErrClosed is returned by Wait after Close.
	ErrClosed = errors.New("multiplexer is closed")
)

// Interest asks Wait to watch Handle for input, and for output when Write is set.
type Interest struct {
	Handle int
	Write  bool
}

// Event reports one ready handle. Hang-ups and socket errors are reported as
// Readable so that the following read observes them.
type Event struct {
	Handle   int
	Readable bool
	Writable bool
}

// Multiplexer blocks until at least one watched handle is ready.
type Multiplexer interface {
	// Wait blocks until at least one interest is ready or Wake is called.
	// The order of the returned events is unspecified. With an empty interest
	// set Wait blocks until Wake. A wake-up or a signal interruption returns an
	// empty event list and a nil error.
	Wait(interests []Interest) ([]Event, error)

	// Forget drops any registration held for handle. Callers invoke it just
	// before closing the handle so a recycled descriptor starts clean.
	Forget(handle int)

	// Wake interrupts a blocked (or the next) Wait. Safe for concurrent use.
	Wake() error

	// Close releases the multiplexer's descriptors.
	Close() error
}

// Kind names a multiplexer implementation.
type Kind string

const (
	KindPoll  Kind = "poll"
	KindEpoll Kind = "epoll"
)

// New builds the multiplexer named by kind ("poll" or "epoll").
//
// Returns:
//   - The multiplexer
//   - An error for unknown kinds or when the platform lacks the primitive
func New(kind string) (Multiplexer, error) {
	switch Kind(strings.ToLower(kind)) {
	case KindPoll, "":
		return NewPoll()
	case KindEpoll:
		return NewEpoll()
	default:
		return nil, fmt.Errorf("unknown poller %q (supported: poll, epoll)", kind)
	}
}
