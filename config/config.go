// Package config defines the runtime configuration of a netreactor server.
package config

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/cyberinferno/netreactor/frame"
)

// Supported protocols.
const (
	ProtocolFTP   = "ftp"
	ProtocolMail  = "mail"
	ProtocolRelay = "relay"
	ProtocolHTTP  = "http"
)

// Config holds every tuneable of one server process.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	Protocol string // ftp, mail, relay or http
	Host     string
	Port     int
	Backlog  int

	// ── Reactor ──────────────────────────────────────────────────────
	Poller    string // poll or epoll
	ReadChunk int
	MaxBuffer int // 0 disables the cap

	// ── Framing ──────────────────────────────────────────────────────
	MaxFrame   int
	Compress   bool   // command lines travel in compressed envelopes
	Serializer string // relay message encoding: json, cbor or xml
	Banner     string // greeting sent on accept; empty sends none

	// ── Logging ──────────────────────────────────────────────────────
	LogLevel string
	LogDir   string // daily rotated files are written here when set

	// ── Redis ────────────────────────────────────────────────────────
	RedisAddr    string // enables the Redis context cache and publisher
	RedisChannel string

	// ── Caches ───────────────────────────────────────────────────────
	HistorySize int
	HistoryTTL  time.Duration
	ContextTTL  time.Duration
}

// Default returns a Config populated with the package defaults.
func Default() *Config {
	return &Config{
		Protocol:     DefaultProtocol,
		Host:         DefaultHost,
		Port:         DefaultPort,
		Backlog:      DefaultBacklog,
		Poller:       DefaultPoller,
		ReadChunk:    DefaultReadChunk,
		MaxBuffer:    DefaultMaxBuffer,
		MaxFrame:     DefaultMaxFrame,
		Serializer:   DefaultSerializer,
		LogLevel:     DefaultLogLevel,
		RedisChannel: DefaultRedisChannel,
		HistorySize:  DefaultHistorySize,
		HistoryTTL:   DefaultHistoryTTL,
		ContextTTL:   DefaultContextTTL,
	}
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Enveloped reports whether connections carry length-prefixed envelopes.
func (c *Config) Enveloped() bool {
	return c.Protocol == ProtocolRelay || c.Compress
}

// ── Validation ───────────────────────────────────────────────────────

// Error reports one invalid configuration value.
type Error struct {
	Field   string // flag name
	Value   any    // the rejected value
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: --%s=%v: %s", e.Field, e.Value, e.Message)
}

// Validate checks that the configuration is usable.
//
// Returns:
//   - nil, or a *Error naming the first bad field
func (c *Config) Validate() error {
	if !slices.Contains([]string{ProtocolFTP, ProtocolMail, ProtocolRelay, ProtocolHTTP}, c.Protocol) {
		return &Error{Field: "protocol", Value: c.Protocol, Message: "must be ftp, mail, relay or http"}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &Error{Field: "port", Value: c.Port, Message: "out of range 0-65535"}
	}
	if c.Backlog < 1 {
		return &Error{Field: "backlog", Value: c.Backlog, Message: "must be at least 1"}
	}
	if c.Poller != "poll" && c.Poller != "epoll" {
		return &Error{Field: "poller", Value: c.Poller, Message: "must be poll or epoll"}
	}
	if c.ReadChunk < 1 {
		return &Error{Field: "read-chunk", Value: c.ReadChunk, Message: "must be positive"}
	}
	if c.MaxBuffer < 0 {
		return &Error{Field: "max-buffer", Value: c.MaxBuffer, Message: "must not be negative"}
	}
	if c.MaxFrame < 1 {
		return &Error{Field: "max-frame", Value: c.MaxFrame, Message: "must be positive"}
	}
	if !slices.Contains([]string{"json", "cbor", "xml"}, c.Serializer) {
		return &Error{Field: "serializer", Value: c.Serializer, Message: "must be json, cbor or xml"}
	}
	if c.Compress && c.Protocol == ProtocolRelay {
		return &Error{Field: "compress", Value: c.Compress, Message: "relay envelopes are always compressed"}
	}
	if c.Compress && c.Protocol == ProtocolHTTP {
		return &Error{Field: "compress", Value: c.Compress, Message: "http bodies are always compressed"}
	}
	if need := c.MaxFrame + frame.HeaderSize; c.Enveloped() && c.MaxBuffer > 0 && c.MaxBuffer < need {
		msg := fmt.Sprintf("must be 0 or at least %d to hold one envelope of --max-frame=%d", need, c.MaxFrame)
		return &Error{Field: "max-buffer", Value: c.MaxBuffer, Message: msg}
	}
	if c.HistorySize < 1 {
		return &Error{Field: "history-size", Value: c.HistorySize, Message: "must be positive"}
	}
	if c.HistoryTTL < 0 {
		return &Error{Field: "history-ttl", Value: c.HistoryTTL, Message: "must not be negative"}
	}
	if c.ContextTTL < 0 {
		return &Error{Field: "context-ttl", Value: c.ContextTTL, Message: "must not be negative"}
	}

	return nil
}
