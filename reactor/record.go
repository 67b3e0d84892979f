package reactor

import (
	"github.com/eapache/queue"

	"github.com/cyberinferno/netreactor/command"
	"github.com/cyberinferno/netreactor/transport"
)

// Record is the per-connection state owned by the loop. It lives in the Table
// from accept until removal, and is never touched again once removed.
type Record struct {
	// ID is a sequence number assigned on accept, used to correlate log lines.
	ID   uint32
	Conn transport.Conn
	Peer string

	// RecvBuf holds bytes received but not yet consumed as a frame.
	RecvBuf []byte

	// State mirrors the protocol state after every dispatch.
	State command.State

	// Session carries protocol-specific values owned by the Dispatcher.
	Session any

	out     *queue.Queue
	closing bool
}

// pendingWrite is one encoded reply not yet fully accepted by the socket.
type pendingWrite struct {
	data []byte
}

// Handle returns the descriptor the record is registered under.
func (r *Record) Handle() int {
	return r.Conn.Handle()
}

// Closing reports whether the protocol asked for the connection to end.
func (r *Record) Closing() bool {
	return r.closing
}

// Pending reports whether encoded output is waiting for write readiness.
func (r *Record) Pending() bool {
	return r.out != nil && r.out.Length() > 0
}

func (r *Record) enqueue(b []byte) {
	if r.out == nil {
		r.out = queue.New()
	}
	r.out.Add(&pendingWrite{data: b})
}

// Table maps handles to their records. It is owned by a single loop goroutine
// and does no locking.
type Table struct {
	records map[int]*Record
	seq     uint32
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{records: make(map[int]*Record)}
}

// Add registers conn and returns its new record.
//
// Parameters:
//   - conn: An accepted, non-blocking connection
//
// Returns:
//   - The record, keyed by conn.Handle()
func (t *Table) Add(conn transport.Conn) *Record {
	t.seq++
	rec := &Record{
		ID:   t.seq,
		Conn: conn,
		Peer: conn.RemoteAddr(),
	}
	t.records[conn.Handle()] = rec
	return rec
}

// Get returns the record registered under handle.
func (t *Table) Get(handle int) (*Record, bool) {
	rec, ok := t.records[handle]
	return rec, ok
}

// Remove deletes rec if it is still the record registered under its handle.
//
// Returns:
//   - true only for the call that actually removed the record
func (t *Table) Remove(rec *Record) bool {
	h := rec.Handle()
	if cur, ok := t.records[h]; !ok || cur != rec {
		return false
	}
	delete(t.records, h)
	return true
}

// Len returns the number of live records.
func (t *Table) Len() int {
	return len(t.records)
}

// Range calls fn for every record until fn returns false. Order is unspecified.
func (t *Table) Range(fn func(rec *Record) bool) {
	for _, rec := range t.records {
		if !fn(rec) {
			return
		}
	}
}

// Drain removes and returns every record.
func (t *Table) Drain() []*Record {
	out := make([]*Record, 0, len(t.records))
	for h, rec := range t.records {
		out = append(out, rec)
		delete(t.records, h)
	}
	return out
}
