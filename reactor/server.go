// Package reactor runs a single-threaded, readiness driven connection server.
// One goroutine owns the listener, every connection record and the multiplexer;
// the only place it blocks is Multiplexer.Wait.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cyberinferno/netreactor/frame"
	"github.com/cyberinferno/netreactor/logger"
	"github.com/cyberinferno/netreactor/metrics"
	"github.com/cyberinferno/netreactor/poller"
	"github.com/cyberinferno/netreactor/transport"
)

const (
	// DefaultReadChunk is the number of bytes read per readiness notification.
	DefaultReadChunk = 4096
	// DefaultMaxBuffer caps the unconsumed receive buffer of one connection.
	// It holds one envelope of frame.DefaultMaxFrame.
	DefaultMaxBuffer = frame.DefaultMaxFrame + frame.HeaderSize
)

// ErrServerRunning is returned by Serve when the server is already serving.
var ErrServerRunning = errors.New("server already running")

// Server is the reactor loop. Fill in the exported fields and call Serve.
// Serve takes ownership of Listener and Mux and closes both when it returns.
type Server struct {
	Logger     logger.Logger
	Name       string
	Listener   transport.Listener
	Mux        poller.Multiplexer
	Table      *Table
	Codec      frame.Codec
	Dispatcher Dispatcher
	Metrics    *metrics.Collector

	// ReadChunk defaults to DefaultReadChunk.
	ReadChunk int
	// MaxBuffer bounds a connection's unconsumed input; 0 means unbounded.
	MaxBuffer int

	running  atomic.Bool
	stopping atomic.Bool
}

// Running reports whether Serve is active.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Serve runs the loop until ctx is cancelled or Stop is called. On the way out
// every connection is closed, the Table is emptied and the listener and
// multiplexer are closed.
//
// Parameters:
//   - ctx: Cancelling it stops the loop; it is also passed to the Dispatcher
//
// Returns:
//   - nil after a requested stop
//   - An error if the server is misconfigured, already running, or the multiplexer fails
func (s *Server) Serve(ctx context.Context) error {
	if s.Listener == nil || s.Mux == nil || s.Dispatcher == nil {
		return fmt.Errorf("server %s: listener, multiplexer and dispatcher are required", s.Name)
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}
	defer func() {
		s.stopping.Store(false)
		s.running.Store(false)
	}()

	s.applyDefaults()

	stopWake := context.AfterFunc(ctx, func() {
		s.stopping.Store(true)
		_ = s.Mux.Wake()
	})
	defer stopWake()

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.F("addr", s.Listener.Addr()))

	chunk := make([]byte, s.ReadChunk)
	interests := make([]poller.Interest, 0, 64)

	var loopErr error
	for !s.stopping.Load() && ctx.Err() == nil {
		interests = s.interests(interests[:0])

		events, err := s.Mux.Wait(interests)
		if err != nil {
			loopErr = fmt.Errorf("server %s wait: %w", s.Name, err)
			s.Logger.Error(fmt.Sprintf("%s server multiplexer failed", s.Name), logger.F("error", err))
			break
		}

		for _, ev := range events {
			if s.stopping.Load() {
				break
			}
			s.handle(ctx, ev, chunk)
		}
	}

	s.shutdown()
	return loopErr
}

// Stop asks a running Serve to return. Safe to call from any goroutine and
// when the server is not running. It only touches atomics and the multiplexer,
// so it never races the defaults Serve fills in.
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}

	s.stopping.Store(true)
	_ = s.Mux.Wake()
}

func (s *Server) applyDefaults() {
	if s.Logger == nil {
		s.Logger = logger.NewNopLogger()
	}
	if s.Table == nil {
		s.Table = NewTable()
	}
	if s.Codec == nil {
		s.Codec = frame.NewLineCodec(frame.DefaultMaxLine)
	}
	if s.ReadChunk <= 0 {
		s.ReadChunk = DefaultReadChunk
	}
	if s.Name == "" {
		s.Name = "netreactor"
	}
}

// interests builds {listener} ∪ keys(Table), with write interest for records
// holding queued output.
func (s *Server) interests(dst []poller.Interest) []poller.Interest {
	dst = append(dst, poller.Interest{Handle: s.Listener.Handle()})
	s.Table.Range(func(rec *Record) bool {
		dst = append(dst, poller.Interest{Handle: rec.Handle(), Write: rec.Pending()})
		return true
	})
	return dst
}

func (s *Server) handle(ctx context.Context, ev poller.Event, chunk []byte) {
	if ev.Handle == s.Listener.Handle() {
		if ev.Readable {
			s.accept(ctx)
		}
		return
	}

	// Records removed earlier in this iteration are no longer in the Table.
	rec, ok := s.Table.Get(ev.Handle)
	if !ok {
		return
	}

	if ev.Writable && rec.Pending() {
		if !s.flush(rec) {
			return
		}
	}

	if ev.Readable {
		s.read(ctx, rec, chunk)
	}
}

func (s *Server) accept(ctx context.Context) {
	conn, err := s.Listener.Accept()
	if err != nil {
		if !errors.Is(err, transport.ErrWouldBlock) {
			terr := &transport.TransportError{Op: "accept", Addr: s.Listener.Addr(), Err: err}
			s.Metrics.RecordError(terr.Error())
			s.Logger.Warn(fmt.Sprintf("%s server accept error", s.Name), logger.F("error", terr))
		}
		return
	}

	rec := s.Table.Add(conn)
	s.Metrics.ConnectionOpened()
	s.Logger.Info("connection accepted",
		logger.F("conn_id", rec.ID),
		logger.F("peer", rec.Peer),
		logger.F("handle", rec.Handle()))

	greeting, err := s.open(ctx, rec)
	if err != nil {
		s.drop(rec, err)
		return
	}
	if len(greeting) > 0 {
		s.reply(rec, greeting)
	}
}

func (s *Server) read(ctx context.Context, rec *Record, chunk []byte) {
	res := rec.Conn.Read(chunk)

	switch res.Kind {
	case transport.ReadWouldBlock:
		return
	case transport.ReadEOF:
		s.remove(rec, "peer closed")
		return
	case transport.ReadError:
		s.drop(rec, &transport.TransportError{Op: "read", Addr: rec.Peer, Err: res.Err})
		return
	}

	s.Metrics.BytesReceived(res.N)

	// A closing record only waits for its output to drain; input is discarded.
	if rec.closing {
		return
	}

	rec.RecvBuf = append(rec.RecvBuf, chunk[:res.N]...)
	s.process(ctx, rec)
}

// process extracts and dispatches every complete frame in rec.RecvBuf, in order.
func (s *Server) process(ctx context.Context, rec *Record) {
	off := 0
	for off < len(rec.RecvBuf) && !rec.closing {
		f, n, err := s.Codec.Next(rec.RecvBuf[off:])
		if err != nil {
			s.drop(rec, err)
			return
		}
		if n == 0 {
			break
		}
		off += n

		s.Metrics.FrameDispatched()
		resp, err := s.dispatch(ctx, rec, f)
		if err != nil {
			s.drop(rec, err)
			return
		}

		if len(resp.Payload) > 0 && !s.reply(rec, resp.Payload) {
			return
		}
		if resp.Close {
			rec.closing = true
		}
	}

	if rec.closing {
		rec.RecvBuf = nil
		if !rec.Pending() {
			s.remove(rec, "closed by protocol")
		}
		return
	}

	rest := copy(rec.RecvBuf, rec.RecvBuf[off:])
	rec.RecvBuf = rec.RecvBuf[:rest]

	if s.MaxBuffer > 0 && len(rec.RecvBuf) > s.MaxBuffer {
		s.drop(rec, frame.Errorf("receive buffer holds %d bytes without a complete frame (max %d)", len(rec.RecvBuf), s.MaxBuffer))
	}
}

func (s *Server) open(ctx context.Context, rec *Record) (greeting []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panic on open: %v", r)
		}
	}()
	return s.Dispatcher.Open(ctx, rec)
}

func (s *Server) dispatch(ctx context.Context, rec *Record, f []byte) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
	}()
	return s.Dispatcher.Dispatch(ctx, rec, f)
}

// reply encodes payload and writes it, queueing what the socket does not take.
// It returns false when the record was dropped.
func (s *Server) reply(rec *Record, payload []byte) bool {
	wire, err := s.Codec.Encode(payload)
	if err != nil {
		s.drop(rec, err)
		return false
	}
	s.Metrics.ReplySent()

	if rec.Pending() {
		rec.enqueue(wire)
		return true
	}

	n, err := rec.Conn.Write(wire)
	s.Metrics.BytesSent(n)
	switch {
	case err == nil && n == len(wire):
		return true
	case err == nil || errors.Is(err, transport.ErrWouldBlock):
		rec.enqueue(wire[n:])
		return true
	default:
		s.drop(rec, &transport.TransportError{Op: "write", Addr: rec.Peer, Err: err})
		return false
	}
}

// flush writes queued output until the socket is full. It returns false when
// the record is gone afterwards.
func (s *Server) flush(rec *Record) bool {
	for rec.out.Length() > 0 {
		head := rec.out.Peek().(*pendingWrite)

		n, err := rec.Conn.Write(head.data)
		s.Metrics.BytesSent(n)
		head.data = head.data[n:]

		if err != nil && !errors.Is(err, transport.ErrWouldBlock) {
			s.drop(rec, &transport.TransportError{Op: "write", Addr: rec.Peer, Err: err})
			return false
		}
		if len(head.data) > 0 {
			return true
		}
		rec.out.Remove()
	}

	if rec.closing {
		s.remove(rec, "closed by protocol")
		return false
	}
	return true
}

// drop removes rec after a per-connection failure.
func (s *Server) drop(rec *Record, err error) {
	kind := "dispatch"
	var terr *transport.TransportError
	switch {
	case frame.IsFrameError(err):
		kind = "frame"
	case errors.As(err, &terr):
		kind = "transport"
	}

	s.Metrics.RecordError(err.Error())
	s.Logger.Error("connection dropped",
		logger.F("conn_id", rec.ID),
		logger.F("peer", rec.Peer),
		logger.F("kind", kind),
		logger.F("error", err))
	s.remove(rec, kind+" error")
}

// remove takes rec out of the Table and closes it. Only the first call for a
// record has any effect.
func (s *Server) remove(rec *Record, reason string) {
	if !s.Table.Remove(rec) {
		return
	}

	s.Mux.Forget(rec.Handle())
	_ = rec.Conn.Close()
	s.Metrics.ConnectionClosed()
	s.Logger.Info("connection closed",
		logger.F("conn_id", rec.ID),
		logger.F("peer", rec.Peer),
		logger.F("reason", reason))
}

func (s *Server) shutdown() {
	for _, rec := range s.Table.Drain() {
		s.Mux.Forget(rec.Handle())
		_ = rec.Conn.Close()
		s.Metrics.ConnectionClosed()
	}

	_ = s.Listener.Close()
	_ = s.Mux.Close()

	snap := s.Metrics.Snapshot()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name),
		logger.F("connections_total", snap.ConnectionsTotal),
		logger.F("frames_in", snap.FramesIn),
		logger.F("errors", snap.ErrorsTotal))
}
