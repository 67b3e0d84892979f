package reactor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cyberinferno/netreactor/frame"
	"github.com/cyberinferno/netreactor/logger"
	"github.com/cyberinferno/netreactor/metrics"
	"github.com/cyberinferno/netreactor/poller"
	"github.com/cyberinferno/netreactor/transport"
)

// fakeConn is a scripted connection. Each queued chunk is returned by one Read.
type fakeConn struct {
	handle   int
	peer     string
	chunks   [][]byte
	eof      bool
	readErr  error
	writeCap int
	written  bytes.Buffer
	closes   int
}

func (c *fakeConn) Handle() int        { return c.handle }
func (c *fakeConn) RemoteAddr() string { return c.peer }

func (c *fakeConn) Read(p []byte) transport.ReadResult {
	switch {
	case c.closes > 0:
		return transport.ReadResult{Kind: transport.ReadError, Err: transport.ErrClosed}
	case len(c.chunks) > 0:
		n := copy(p, c.chunks[0])
		if n < len(c.chunks[0]) {
			c.chunks[0] = c.chunks[0][n:]
		} else {
			c.chunks = c.chunks[1:]
		}
		return transport.ReadResult{Kind: transport.ReadData, N: n}
	case c.readErr != nil:
		return transport.ReadResult{Kind: transport.ReadError, Err: c.readErr}
	case c.eof:
		return transport.ReadResult{Kind: transport.ReadEOF}
	}
	return transport.ReadResult{Kind: transport.ReadWouldBlock}
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.closes > 0 {
		return 0, transport.ErrClosed
	}
	n := len(p)
	if c.writeCap > 0 && n > c.writeCap {
		n = c.writeCap
	}
	c.written.Write(p[:n])
	if n < len(p) {
		return n, transport.ErrWouldBlock
	}
	return n, nil
}

func (c *fakeConn) Close() error {
	c.closes++
	return nil
}

func (c *fakeConn) readable() bool {
	return len(c.chunks) > 0 || c.eof || c.readErr != nil
}

func (c *fakeConn) push(data string) {
	c.chunks = append(c.chunks, []byte(data))
}

type fakeListener struct {
	handle  int
	pending []*fakeConn
	errs    []error
	closes  int
}

func (l *fakeListener) Handle() int  { return l.handle }
func (l *fakeListener) Addr() string { return "127.0.0.1:2121" }

func (l *fakeListener) Accept() (transport.Conn, error) {
	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		return nil, err
	}
	if len(l.pending) == 0 {
		return nil, transport.ErrWouldBlock
	}
	c := l.pending[0]
	l.pending = l.pending[1:]
	return c, nil
}

func (l *fakeListener) Close() error {
	l.closes++
	return nil
}

func (l *fakeListener) ready() bool {
	return len(l.pending) > 0 || len(l.errs) > 0
}

// fakeMux derives level-triggered readiness from the fakes. When nothing is
// ready it runs the next idle step; with no steps left it cancels the server.
type fakeMux struct {
	listener  *fakeListener
	conns     map[int]*fakeConn
	idle      []func()
	cancel    context.CancelFunc
	wake      chan struct{}
	forgotten map[int]int
	closes    int
	waits     int
	writes    int
	last      []poller.Interest
}

func (m *fakeMux) Wait(interests []poller.Interest) ([]poller.Event, error) {
	m.waits++
	if m.waits > 10_000 {
		return nil, errors.New("loop did not settle")
	}
	m.last = append(m.last[:0], interests...)

	var events []poller.Event
	for _, in := range interests {
		if in.Write {
			m.writes++
		}
		ev := poller.Event{Handle: in.Handle}
		if in.Handle == m.listener.handle {
			ev.Readable = m.listener.ready()
		} else if c, ok := m.conns[in.Handle]; ok {
			ev.Readable = c.readable()
			ev.Writable = in.Write
		}
		if ev.Readable || ev.Writable {
			events = append(events, ev)
		}
	}
	if len(events) > 0 {
		return events, nil
	}

	switch {
	case len(m.idle) > 0:
		step := m.idle[0]
		m.idle = m.idle[1:]
		step()
	case m.cancel != nil:
		m.cancel()
	default:
		<-m.wake
	}
	return nil, nil
}

func (m *fakeMux) Forget(handle int) { m.forgotten[handle]++ }

func (m *fakeMux) Wake() error {
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

func (m *fakeMux) Close() error {
	m.closes++
	return nil
}

type harness struct {
	srv      *Server
	listener *fakeListener
	mux      *fakeMux
	next     int
}

func newHarness(codec frame.Codec, d Dispatcher) *harness {
	l := &fakeListener{handle: 3}
	mux := &fakeMux{
		listener:  l,
		conns:     make(map[int]*fakeConn),
		wake:      make(chan struct{}, 1),
		forgotten: make(map[int]int),
	}

	return &harness{
		srv: &Server{
			Logger:     logger.NewNopLogger(),
			Name:       "test",
			Listener:   l,
			Mux:        mux,
			Table:      NewTable(),
			Codec:      codec,
			Dispatcher: d,
			Metrics:    metrics.New(),
			ReadChunk:  16,
			MaxBuffer:  DefaultMaxBuffer,
		},
		listener: l,
		mux:      mux,
		next:     10,
	}
}

// dial queues a new connection on the listener with the given input chunks.
func (h *harness) dial(chunks ...string) *fakeConn {
	c := &fakeConn{handle: h.next, peer: fmt.Sprintf("10.0.0.1:%d", 40000+h.next)}
	h.next++
	for _, ch := range chunks {
		c.push(ch)
	}
	h.mux.conns[c.handle] = c
	h.listener.pending = append(h.listener.pending, c)
	return c
}

// then schedules step to run the next time the loop goes idle.
func (h *harness) then(step func()) {
	h.mux.idle = append(h.mux.idle, step)
}

// run serves until the loop is idle with no steps left.
func (h *harness) run(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.mux.cancel = cancel
	return h.srv.Serve(ctx)
}

// echoDispatcher replies "ok <frame>", closes on QUIT and misbehaves on demand.
type echoDispatcher struct {
	greeting string
	panicOn  string
	failOn   string
	opens    int
	frames   map[uint32][]string
}

func newEcho() *echoDispatcher {
	return &echoDispatcher{frames: make(map[uint32][]string)}
}

func (d *echoDispatcher) Open(context.Context, *Record) ([]byte, error) {
	d.opens++
	if d.greeting == "" {
		return nil, nil
	}
	return []byte(d.greeting), nil
}

func (d *echoDispatcher) Dispatch(_ context.Context, rec *Record, f []byte) (Response, error) {
	s := string(f)
	if d.panicOn != "" && s == d.panicOn {
		panic("handler blew up")
	}
	if d.failOn != "" && s == d.failOn {
		return Response{}, errors.New("dispatch failed")
	}

	d.frames[rec.ID] = append(d.frames[rec.ID], s)
	if s == "QUIT" {
		return Response{Payload: []byte("221 Goodbye"), Close: true}, nil
	}
	return Response{Payload: []byte("ok " + s)}, nil
}
