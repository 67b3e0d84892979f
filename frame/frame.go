// Package frame turns accumulated connection bytes into discrete protocol
// frames and encodes outbound payloads the same way.
//
// Codecs are pure: they inspect a buffer, report how many bytes make up the
// next complete frame and never block or touch the network.
package frame

import (
	"errors"
	"fmt"
)

// Codec extracts frames from a receive buffer and encodes outbound payloads.
type Codec interface {
	// Next looks for one complete frame at the start of buf.
	//
	// Parameters:
	//   - buf: Bytes received so far and not yet consumed
	//
	// Returns:
	//   - The frame (a copy, safe to keep after buf changes)
	//   - The number of bytes of buf the frame occupied; 0 means "incomplete, read more"
	//   - A *Error when buf can never yield a valid frame
	Next(buf []byte) (frame []byte, n int, err error)

	// Encode wraps payload for the wire.
	//
	// Parameters:
	//   - payload: The bytes to send
	//
	// Returns:
	//   - The encoded bytes
	//   - An error if the payload cannot be encoded
	Encode(payload []byte) ([]byte, error)
}

// Error reports input that cannot be turned into a frame. The reactor drops
// the offending connection when it sees one.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("frame: %s: %v", e.Reason, e.Err)
	}
	return "frame: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a *Error with a formatted reason.
func Errorf(format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds a *Error around an underlying failure.
func Wrap(reason string, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

// IsFrameError reports whether err is, or wraps, a *Error.
func IsFrameError(err error) bool {
	var fe *Error
	return errors.As(err, &fe)
}
