// Package command implements line-oriented command dispatch for the text
// protocols served by the reactor. A Table maps the leading token of a line to a
// Handler; handlers read and advance the per-connection Session.
package command

import (
	"context"
	"fmt"
	"strings"
)

// State is the protocol state of one connection.
type State int

const (
	StateNew State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosing
	StateGreeted
	StateMailFrom
	StateRecipients
	StateData
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateAuthenticating:
		return "Authenticating"
	case StateAuthenticated:
		return "Authenticated"
	case StateClosing:
		return "Closing"
	case StateGreeted:
		return "Greeted"
	case StateMailFrom:
		return "MailFrom"
	case StateRecipients:
		return "Recipients"
	case StateData:
		return "Data"
	default:
		return "Unknown"
	}
}

// Session is the protocol view of one connection.
type Session struct {
	ID    uint32
	Peer  string
	State State
	// User is the name given to USER (ftp) or MAIL FROM (mail).
	User string
	// Data holds protocol-specific values such as an open mail transaction.
	Data any
}

// Reply is one status line. A zero Code means nothing is sent.
type Reply struct {
	Code  int
	Text  string
	Close bool
}

// Reply constructors shared by the protocol tables.
var (
	NotImplemented = Reply{Code: 502, Text: "Command not implemented"}
	BadSequence    = Reply{Code: 503, Text: "Bad sequence of commands"}
	SyntaxError    = Reply{Code: 501, Text: "Syntax error in parameters or arguments"}
)

// Empty reports whether r carries no status line.
func (r Reply) Empty() bool {
	return r.Code == 0
}

// String renders the reply as "<code> <text>" without a line terminator.
func (r Reply) String() string {
	if r.Text == "" {
		return fmt.Sprintf("%03d", r.Code)
	}
	return fmt.Sprintf("%03d %s", r.Code, r.Text)
}

// Bytes renders the reply for a frame codec.
func (r Reply) Bytes() []byte {
	return []byte(r.String())
}

// Handler runs one command. arg is the text after the leading token with
// surrounding whitespace removed.
type Handler func(ctx context.Context, sess *Session, arg string) Reply

// RawHandler receives an unparsed line while its table's raw mode is active.
type RawHandler func(ctx context.Context, sess *Session, line string) Reply

// Table dispatches lines by their case-insensitive leading token.
type Table struct {
	handlers  map[string]Handler
	rawActive func(*Session) bool
	raw       RawHandler
}

// NewTable creates an empty Table. Unregistered tokens answer NotImplemented.
func NewTable() *Table {
	return &Table{handlers: make(map[string]Handler)}
}

// Register binds verb to h, replacing any previous handler.
//
// Parameters:
//   - verb: The leading token, matched case-insensitively
//   - h: The handler to run
func (t *Table) Register(verb string, h Handler) {
	t.handlers[strings.ToUpper(verb)] = h
}

// SetRawHook routes whole lines to h whenever active reports true for the
// session. Mail uses it to collect message bodies after DATA.
func (t *Table) SetRawHook(active func(*Session) bool, h RawHandler) {
	t.rawActive = active
	t.raw = h
}

// Verbs returns the number of registered commands.
func (t *Table) Verbs() int {
	return len(t.handlers)
}

// Handle dispatches one line and applies the resulting transition. A session in
// StateClosing accepts nothing more and every further line yields an empty
// Reply. A Reply with Close moves the session to StateClosing.
//
// Parameters:
//   - ctx: Context passed through to the handler
//   - sess: The connection's session
//   - line: One frame with its delimiter already removed
//
// Returns:
//   - The reply to send; Empty() when nothing should be sent
func (t *Table) Handle(ctx context.Context, sess *Session, line string) Reply {
	if sess.State == StateClosing {
		return Reply{}
	}

	var reply Reply
	if t.raw != nil && t.rawActive != nil && t.rawActive(sess) {
		reply = t.raw(ctx, sess, line)
	} else {
		verb, arg := Split(line)
		if h, ok := t.handlers[verb]; ok {
			reply = h(ctx, sess, arg)
		} else {
			reply = NotImplemented
		}
	}

	if reply.Close {
		sess.State = StateClosing
	}

	return reply
}

// Split separates a command line into its upper-cased leading token and the
// trimmed remainder.
func Split(line string) (verb, arg string) {
	verb, arg, _ = strings.Cut(strings.TrimSpace(line), " ")
	return strings.ToUpper(verb), strings.TrimSpace(arg)
}
