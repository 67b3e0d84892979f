package config

import (
	"time"

	"github.com/cyberinferno/netreactor/frame"
)

// ── Default values ───────────────────────────────────────────────────
//
// Defaults shared by Default(), the CLI flag definitions and the env
// loader.

const (
	// DefaultProtocol is the protocol served when none is chosen.
	DefaultProtocol = ProtocolFTP

	// DefaultHost is the bind address.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the bind port.
	DefaultPort = 8021

	// DefaultBacklog is the listen backlog.
	DefaultBacklog = 5

	// DefaultPoller is the readiness multiplexer.
	DefaultPoller = "poll"

	// DefaultReadChunk is the number of bytes read per readiness event.
	DefaultReadChunk = 4096

	// DefaultMaxFrame caps one envelope body.
	DefaultMaxFrame = frame.DefaultMaxFrame

	// DefaultMaxBuffer caps a connection's unconsumed input. It holds one
	// complete envelope of DefaultMaxFrame bytes.
	DefaultMaxBuffer = DefaultMaxFrame + frame.HeaderSize

	// DefaultSerializer encodes relay messages.
	DefaultSerializer = "json"

	// DefaultLogLevel is the minimum level written.
	DefaultLogLevel = "info"

	// DefaultRedisChannel receives relayed messages when Redis is enabled.
	DefaultRedisChannel = "netreactor:messages"

	// DefaultHistorySize is the number of messages kept per user.
	DefaultHistorySize = 50

	// DefaultHistoryTTL expires idle per-user histories.
	DefaultHistoryTTL = time.Hour

	// DefaultContextTTL caches a user's working context.
	DefaultContextTTL = 5 * time.Minute
)
