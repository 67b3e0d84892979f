package reactor

import (
	"context"

	"github.com/cyberinferno/netreactor/command"
)

// Response is what a Dispatcher wants sent back for one frame. Payload is
// unframed; the server encodes it with its codec. An empty Payload sends nothing.
type Response struct {
	Payload []byte
	Close   bool
}

// Dispatcher turns frames into responses. It is only ever called from the loop
// goroutine. A returned error or a panic drops the connection.
type Dispatcher interface {
	// Open is called once per accepted connection and may return a greeting payload.
	Open(ctx context.Context, rec *Record) ([]byte, error)

	// Dispatch handles one complete frame.
	Dispatch(ctx context.Context, rec *Record, frame []byte) (Response, error)
}

// CommandDispatcher serves a line protocol described by a command.Table.
type CommandDispatcher struct {
	Table *command.Table
	// Greeting is sent on accept when non-empty.
	Greeting string
}

// NewCommandDispatcher wraps table.
func NewCommandDispatcher(table *command.Table, greeting string) *CommandDispatcher {
	return &CommandDispatcher{Table: table, Greeting: greeting}
}

func (d *CommandDispatcher) session(rec *Record) *command.Session {
	sess, ok := rec.Session.(*command.Session)
	if !ok {
		sess = &command.Session{ID: rec.ID, Peer: rec.Peer, State: rec.State}
		rec.Session = sess
	}
	return sess
}

// Open creates the command session.
func (d *CommandDispatcher) Open(_ context.Context, rec *Record) ([]byte, error) {
	d.session(rec)
	if d.Greeting == "" {
		return nil, nil
	}
	return []byte(d.Greeting), nil
}

// Dispatch runs one command line through the table.
func (d *CommandDispatcher) Dispatch(ctx context.Context, rec *Record, frame []byte) (Response, error) {
	sess := d.session(rec)
	reply := d.Table.Handle(ctx, sess, string(frame))
	rec.State = sess.State

	resp := Response{Close: reply.Close}
	if !reply.Empty() {
		resp.Payload = reply.Bytes()
	}
	return resp, nil
}
