// Package transport provides the non-blocking socket handles the reactor
// multiplexes: a passive listener and accepted connections, both exposing the
// raw descriptor used for readiness registration.
package transport

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrWouldBlock means the operation could not make progress without blocking.
	ErrWouldBlock = errors.New("operation would block")
	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("handle is closed")
	// ErrNotSupported is returned on platforms without raw socket support.
	ErrNotSupported = errors.New("raw sockets are not supported on this platform")
)

// ReadKind classifies the outcome of a single non-blocking read.
type ReadKind int

const (
	ReadData       ReadKind = iota // N bytes were read
	ReadEOF                        // peer closed its side
	ReadWouldBlock                 // spurious readiness, nothing to read
	ReadError                      // transport failure, Err is set
)

// String returns a human-readable name for the read kind.
func (k ReadKind) String() string {
	switch k {
	case ReadData:
		return "Data"
	case ReadEOF:
		return "EOF"
	case ReadWouldBlock:
		return "WouldBlock"
	case ReadError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ReadResult is the explicit outcome of Conn.Read; disconnects are values, not errors.
type ReadResult struct {
	Kind ReadKind
	N    int
	Err  error
}

// Conn is an accepted, non-blocking stream connection.
type Conn interface {
	// Handle returns the descriptor registered with the multiplexer.
	Handle() int
	// Read performs one non-blocking read into p.
	Read(p []byte) ReadResult
	// Write performs one non-blocking write. It returns the bytes written and
	// ErrWouldBlock when the socket buffer is full.
	Write(p []byte) (int, error)
	// Close releases the descriptor. Only the first call has an effect.
	Close() error
	// RemoteAddr is informational.
	RemoteAddr() string
}

// Listener is a passive, non-blocking listening socket.
type Listener interface {
	// Handle returns the descriptor registered with the multiplexer.
	Handle() int
	// Accept returns one pending connection, or ErrWouldBlock when none is queued.
	Accept() (Conn, error)
	// Close releases the descriptor. Only the first call has an effect.
	Close() error
	// Addr returns the bound host:port.
	Addr() string
}

// BindError reports a listener that could not be set up. It is fatal at startup.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// TransportError reports an accept, read or write failure on one handle.
type TransportError struct {
	Op   string // "accept", "read", "write"
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTemporary reports whether an accept failure is worth ignoring and retrying
// on the next readiness notification.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrWouldBlock) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return isTemporaryErrno(err)
}
