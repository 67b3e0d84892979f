// Package client provides an event-driven TCP client for the protocols served by
// netreactor. Incoming bytes are reassembled into frames with the same frame
// codecs the server uses, and handlers are notified of frames, state changes
// and errors.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/netreactor/frame"
	"github.com/cyberinferno/netreactor/logger"
)

// ConnectionState represents the current state of the client connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not trying
	Connecting                          // Dial in progress
	Connected                           // Ready to send and receive
	Reconnecting                        // Waiting to redial after a failure
	Closed                              // Closed for good
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client is closed")
	// ErrNotConnected is returned by Send while no connection is up.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by Connect on a live client.
	ErrAlreadyConnected = errors.New("already connected or connecting")
)

// ConnectionStateEvent is emitted on every state change.
type ConnectionStateEvent struct {
	State     ConnectionState
	Address   string
	Timestamp time.Time
	Error     error // set when the change was caused by a failure
}

// FrameEvent carries one complete decoded frame.
type FrameEvent struct {
	Frame     []byte
	Timestamp time.Time
}

// ErrorEvent is emitted for dial, read, write and framing failures.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

type (
	ConnectionStateHandler func(event ConnectionStateEvent)
	FrameHandler           func(event FrameEvent)
	ErrorHandler           func(event ErrorEvent)
)

// Config holds client settings.
type Config struct {
	// Address is the "host:port" to connect to.
	Address string
	// Codec frames outgoing payloads and splits incoming bytes. Defaults to CRLF lines.
	Codec frame.Codec
	// AutoReconnect redials after the connection is lost.
	AutoReconnect bool
	// ReconnectInterval is the delay between redials.
	ReconnectInterval time.Duration
	// ReadBufferSize is the size of each socket read.
	ReadBufferSize int
	// WriteTimeout bounds one Send; 0 disables it.
	WriteTimeout time.Duration
	// ConnectTimeout bounds one dial.
	ConnectTimeout time.Duration
	// Logger receives state changes at debug level. Optional.
	Logger logger.Logger
}

// DefaultConfig returns a Config for address speaking CRLF lines.
//
// Returns:
//   - A Config with ReconnectInterval 5s, ReadBufferSize 4096, WriteTimeout 10s
//     and ConnectTimeout 10s; AutoReconnect is off
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		Codec:             frame.NewLineCodec(frame.DefaultMaxLine),
		ReconnectInterval: 5 * time.Second,
		ReadBufferSize:    4096,
		WriteTimeout:      10 * time.Second,
		ConnectTimeout:    10 * time.Second,
	}
}

// Client is an event-driven TCP client. Register handlers, then call Connect.
// It is safe for concurrent use.
//
// Frame handlers run on the read goroutine, in arrival order. State and error
// handlers run on their own goroutines.
type Client struct {
	config Config
	log    logger.Logger

	mu      sync.RWMutex
	conn    net.Conn
	state   ConnectionState
	closed  bool
	onState ConnectionStateHandler
	onFrame FrameHandler
	onError ErrorHandler

	writeMu   sync.Mutex
	stop      chan struct{}
	reconnect chan struct{}
	wg        sync.WaitGroup
}

// New creates a client in the Disconnected state.
func New(config Config) *Client {
	if config.Codec == nil {
		config.Codec = frame.NewLineCodec(frame.DefaultMaxLine)
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = 4096
	}

	log := config.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	c := &Client{
		config:    config,
		log:       log.With(logger.F("remote", config.Address)),
		state:     Disconnected,
		stop:      make(chan struct{}),
		reconnect: make(chan struct{}, 1),
	}

	if config.AutoReconnect {
		c.wg.Add(1)
		go c.reconnectLoop()
	}

	return c
}

// OnConnectionState replaces the state change handler. nil clears it.
func (c *Client) OnConnectionState(h ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = h
}

// OnFrame replaces the frame handler. nil clears it.
func (c *Client) OnFrame(h FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = h
}

// OnError replaces the error handler. nil clears it.
func (c *Client) OnError(h ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = h
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is Connected.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// Connect dials the configured address and starts reading.
//
// Returns:
//   - ErrClosed, ErrAlreadyConnected, or the dial error
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state == Connected || c.state == Connecting:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	c.setState(Connecting, nil)

	d := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return fmt.Errorf("dial %s: %w", c.config.Address, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	// Added under mu so Close cannot reach wg.Wait between the check and here.
	c.wg.Add(1)
	c.mu.Unlock()

	c.setState(Connected, nil)

	go c.readLoop(conn)

	return nil
}

// Send encodes payload with the configured codec and writes it.
//
// Returns:
//   - ErrNotConnected when there is no connection, or the encode or write error
func (c *Client) Send(payload []byte) error {
	wire, err := c.config.Codec.Encode(payload)
	if err != nil {
		return err
	}
	return c.SendRaw(wire)
}

// SendRaw writes already framed bytes.
func (c *Client) SendRaw(data []byte) error {
	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()
	}

	if _, err := conn.Write(data); err != nil {
		c.emitError(err)
		c.drop(conn, err)
		return err
	}
	return nil
}

// Disconnect closes the current connection. Connect may be called again.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	c.setState(Disconnected, nil)
	return err
}

// Close disconnects and stops every goroutine. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	close(c.stop)
	c.wg.Wait()

	c.setState(Closed, nil)
	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	chunk := make([]byte, c.config.ReadBufferSize)
	var buf []byte

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			off := 0
			for off < len(buf) {
				f, used, ferr := c.config.Codec.Next(buf[off:])
				if ferr != nil {
					c.emitError(ferr)
					c.drop(conn, ferr)
					return
				}
				if used == 0 {
					break
				}
				off += used
				c.emitFrame(f)
			}
			rest := copy(buf, buf[off:])
			buf = buf[:rest]
		}

		if err != nil {
			if !c.isClosed() && c.current() == conn {
				c.emitError(err)
				c.drop(conn, err)
			}
			return
		}
	}
}

// drop tears down conn after a failure, unless it was already replaced.
func (c *Client) drop(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	_ = conn.Close()
	c.setState(Disconnected, cause)

	if c.config.AutoReconnect && !c.isClosed() {
		select {
		case c.reconnect <- struct{}{}:
		default:
		}
	}
}

func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stop:
			return
		case <-c.reconnect:
		}

		c.setState(Reconnecting, nil)
		select {
		case <-c.stop:
			return
		case <-time.After(c.config.ReconnectInterval):
		}

		if err := c.dial(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
			select {
			case c.reconnect <- struct{}{}:
			default:
			}
		}
	}
}

func (c *Client) current() net.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = state
	h := c.onState
	c.mu.Unlock()

	c.log.Debug("client state changed", logger.F("state", state.String()), logger.F("error", err))

	if h != nil {
		go h(ConnectionStateEvent{State: state, Address: c.config.Address, Timestamp: time.Now(), Error: err})
	}
}

func (c *Client) emitFrame(f []byte) {
	c.mu.RLock()
	h := c.onFrame
	c.mu.RUnlock()

	if h != nil {
		h(FrameEvent{Frame: f, Timestamp: time.Now()})
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	h := c.onError
	c.mu.RUnlock()

	if h != nil {
		go h(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}
