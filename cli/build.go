package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyberinferno/netreactor/cacher"
	"github.com/cyberinferno/netreactor/config"
	"github.com/cyberinferno/netreactor/frame"
	"github.com/cyberinferno/netreactor/ftp"
	"github.com/cyberinferno/netreactor/logger"
	"github.com/cyberinferno/netreactor/mail"
	"github.com/cyberinferno/netreactor/message"
	"github.com/cyberinferno/netreactor/metrics"
	"github.com/cyberinferno/netreactor/poller"
	"github.com/cyberinferno/netreactor/reactor"
	"github.com/cyberinferno/netreactor/relay"
	"github.com/cyberinferno/netreactor/transport"
	"github.com/cyberinferno/netreactor/web"
)

// contextNamespace prefixes working-context keys in Redis.
const contextNamespace = "netreactor:context:"

// App is a fully wired server and the resources it owns.
type App struct {
	Config  *config.Config
	Server  *reactor.Server
	Bus     *relay.Bus
	History *relay.HistorySubscriber
	Metrics *metrics.Collector

	redis  redis.UniversalClient
	served bool
}

// Build wires every component described by cfg. The listener is bound here,
// so bind failures surface as *transport.BindError before anything is served.
//
// Parameters:
//   - ctx: Bounds the Redis connectivity check
//   - cfg: A validated configuration
//   - log: Logger shared by every component
//
// Returns:
//   - The wired App; call Serve, then Close
//   - A startup error
func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	app := &App{Config: cfg, Metrics: metrics.New()}

	// ── redis ────────────────────────────────────────────────────
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		app.redis = client
	}

	// ── relay bus ────────────────────────────────────────────────
	app.Bus = relay.NewBus(log)
	app.Bus.Subscribe(&relay.LogSubscriber{Log: log})
	app.History = relay.NewHistorySubscriber(cfg.HistorySize, cfg.HistoryTTL)
	app.Bus.Subscribe(app.History)
	if app.redis != nil {
		app.Bus.Subscribe(relay.NewRedisPublisher(app.redis, cfg.RedisChannel))
	}

	// ── protocol ─────────────────────────────────────────────────
	codec, dispatcher, err := app.protocol(log)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	// ── reactor ──────────────────────────────────────────────────
	mux, err := poller.New(cfg.Poller)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	ln, err := transport.Listen(cfg.Host, cfg.Port, cfg.Backlog)
	if err != nil {
		_ = mux.Close()
		_ = app.Close()
		return nil, err
	}

	app.Server = &reactor.Server{
		Logger:     log,
		Name:       cfg.Protocol,
		Listener:   ln,
		Mux:        mux,
		Table:      reactor.NewTable(),
		Codec:      codec,
		Dispatcher: dispatcher,
		Metrics:    app.Metrics,
		ReadChunk:  cfg.ReadChunk,
		MaxBuffer:  cfg.MaxBuffer,
	}

	return app, nil
}

func (a *App) protocol(log logger.Logger) (frame.Codec, reactor.Dispatcher, error) {
	cfg := a.Config

	var lines frame.Codec = frame.NewLineCodec(frame.DefaultMaxLine)
	if cfg.Compress {
		lines = frame.NewLineEnvelopeCodec(cfg.MaxFrame)
	}

	switch cfg.Protocol {
	case config.ProtocolFTP:
		var cache cacher.Cacher[string]
		if a.redis != nil {
			cache = cacher.NewRedisCacher[string](a.redis, contextNamespace)
		} else {
			cache = cacher.NewMemoryCacher[string](cfg.ContextTTL, time.Minute)
		}
		resolver := &ftp.WorkingDirResolver{Cache: cache, TTL: cfg.ContextTTL, Scope: ftp.ProcessScope()}
		return lines, reactor.NewCommandDispatcher(ftp.NewTable(resolver, log), cfg.Banner), nil

	case config.ProtocolMail:
		table := mail.NewTable(mail.Options{Publisher: a.Bus}, log)
		return lines, reactor.NewCommandDispatcher(table, cfg.Banner), nil

	case config.ProtocolRelay:
		s, err := message.SerializerByName(cfg.Serializer)
		if err != nil {
			return nil, nil, err
		}
		codec := message.NewCodec(s, cfg.MaxFrame)
		return codec.Frames, relay.NewDispatcher(codec, a.Bus), nil

	case config.ProtocolHTTP:
		return frame.NewHeadCodec(frame.DefaultMaxHead), web.NewDispatcher(log), nil

	default:
		return nil, nil, fmt.Errorf("unknown protocol %q", cfg.Protocol)
	}
}

// Serve runs the server until ctx is cancelled. The server owns the listener
// and multiplexer from here on.
func (a *App) Serve(ctx context.Context) error {
	a.served = true
	return a.Server.Serve(ctx)
}

// Close releases what Build acquired. The listener and multiplexer are only
// closed here when Serve never ran.
func (a *App) Close() error {
	var errs []error
	if a.Server != nil && !a.served {
		errs = append(errs, a.Server.Listener.Close(), a.Server.Mux.Close())
	}
	if a.redis != nil {
		if err := a.redis.Close(); !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
