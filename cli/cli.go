// Package cli wires the command line flags of the netreactor binaries to the
// server and client packages.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/cyberinferno/netreactor/config"
	"github.com/cyberinferno/netreactor/logger"
)

// version is overridable at link time:
//
//	go build -ldflags "-X github.com/cyberinferno/netreactor/cli.version=1.1.0"
var version = "1.0.0" //nolint:gochecknoglobals

// serviceName tags every log entry.
const serviceName = "netreactor"

// Execute parses args and serves until ctx is cancelled.
//
// Returns:
//   - nil after a clean shutdown or when only help/version was requested
//   - A flag, validation or startup error; *transport.BindError when the port is taken
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()
	config.LoadFromEnv(cfg)

	fs := newFlagSet(cfg)

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(os.Stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printUsage(os.Stderr, fs)
		return nil
	}
	if showVersion {
		fmt.Printf("netreactor %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── build components ─────────────────────────────────────────
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	app, err := Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	log.Info("netreactor starting",
		logger.F("version", version),
		logger.F("protocol", cfg.Protocol),
		logger.F("addr", app.Server.Listener.Addr()),
		logger.F("poller", cfg.Poller))

	if err := app.Serve(ctx); err != nil {
		return err
	}

	log.Debug("final metrics", logger.F("metrics", app.Metrics.JSON()))
	return nil
}

// newFlagSet registers one flag per Config field. Defaults come from cfg, which
// already carries the env overlay, so flags win over env and env over defaults.
func newFlagSet(cfg *config.Config) *flag.FlagSet {
	fs := flag.NewFlagSet("netreactor", flag.ContinueOnError)

	// ── listener ─────────────────────────────────────────────────
	fs.StringVarP(&cfg.Protocol, "protocol", "P", cfg.Protocol, "Protocol to serve: ftp, mail, relay or http")
	fs.StringVarP(&cfg.Host, "host", "H", cfg.Host, "Address to bind")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Port to bind (0 picks a free port)")
	fs.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "Listen backlog")

	// ── reactor ──────────────────────────────────────────────────
	fs.StringVar(&cfg.Poller, "poller", cfg.Poller, "Readiness multiplexer: poll or epoll")
	fs.IntVar(&cfg.ReadChunk, "read-chunk", cfg.ReadChunk, "Bytes read per readiness event")
	fs.IntVar(&cfg.MaxBuffer, "max-buffer", cfg.MaxBuffer, "Max unconsumed bytes per connection (0 = unbounded)")

	// ── framing ──────────────────────────────────────────────────
	fs.IntVar(&cfg.MaxFrame, "max-frame", cfg.MaxFrame, "Max envelope body size")
	fs.BoolVarP(&cfg.Compress, "compress", "z", cfg.Compress, "Carry command lines in compressed envelopes")
	fs.StringVar(&cfg.Serializer, "serializer", cfg.Serializer, "Relay message encoding: json, cbor or xml")
	fs.StringVar(&cfg.Banner, "banner", cfg.Banner, "Greeting line sent on accept")

	// ── logging ──────────────────────────────────────────────────
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Write daily rotated log files here")

	// ── redis ────────────────────────────────────────────────────
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the context cache and publisher")
	fs.StringVar(&cfg.RedisChannel, "redis-channel", cfg.RedisChannel, "Redis channel relayed messages are published on")

	// ── caches ───────────────────────────────────────────────────
	fs.IntVar(&cfg.HistorySize, "history-size", cfg.HistorySize, "Messages kept per user")
	fs.DurationVar(&cfg.HistoryTTL, "history-ttl", cfg.HistoryTTL, "Idle lifetime of a user's history (0 = forever)")
	fs.DurationVar(&cfg.ContextTTL, "context-ttl", cfg.ContextTTL, "Lifetime of a cached working context")

	return fs
}

// newLogger builds the console logger, or the rotating file logger when a
// log directory is configured.
func newLogger(cfg *config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, &config.Error{Field: "log-level", Value: cfg.LogLevel, Message: err.Error()}
	}

	if cfg.LogDir != "" {
		return logger.NewZerologFileLogger(serviceName, cfg.LogDir, level)
	}
	return logger.NewConsoleLogger(os.Stderr, serviceName, level), nil
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `netreactor v%s

A single-threaded, readiness driven connection server.

Usage:
  netreactor [options]

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Environment:
  Every option can also be set as %s<OPTION>, e.g. %sPORT=2121.

Examples:
  netreactor -p 2121                             FTP style server on 2121
  netreactor -P mail -p 2525 --banner "220 ready" Mail server with a greeting
  netreactor -P relay --serializer cbor          Relay server for CBOR messages
  netreactor -P http -p 8080                     Compressed JSON status pages on 8080
`, config.EnvPrefix, config.EnvPrefix)
}
