package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/cyberinferno/netreactor/logger"
	"github.com/cyberinferno/netreactor/message"
)

// LogSubscriber writes every message to a logger.
type LogSubscriber struct {
	Log logger.Logger
}

func (s *LogSubscriber) Name() string { return "log" }

func (s *LogSubscriber) Deliver(_ context.Context, msg message.Message) error {
	s.Log.Info("Received message",
		logger.F("username", msg.Username),
		logger.F("text", msg.Text),
		logger.F("timestamp", msg.Timestamp))
	return nil
}

// DefaultHistorySize is the number of messages kept per user when none is configured.
const DefaultHistorySize = 50

// HistorySubscriber keeps the most recent messages of each user in memory.
// A user's history expires ttl after their last message.
type HistorySubscriber struct {
	mu    sync.Mutex
	items *cache.Cache
	size  int
	ttl   time.Duration
}

// NewHistorySubscriber creates a history of size messages per user.
//
// Parameters:
//   - size: Messages kept per user; values <= 0 use DefaultHistorySize
//   - ttl: Idle lifetime of a user's history; 0 keeps it forever
func NewHistorySubscriber(size int, ttl time.Duration) *HistorySubscriber {
	if size <= 0 {
		size = DefaultHistorySize
	}

	cleanup := time.Minute
	if ttl <= 0 {
		ttl = cache.NoExpiration
	} else if ttl < cleanup {
		cleanup = ttl
	}

	return &HistorySubscriber{
		items: cache.New(ttl, cleanup),
		size:  size,
		ttl:   ttl,
	}
}

func (h *HistorySubscriber) Name() string { return "history" }

func (h *HistorySubscriber) Deliver(_ context.Context, msg message.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var prev []message.Message
	if v, ok := h.items.Get(msg.Username); ok {
		prev = v.([]message.Message)
	}

	keep := len(prev) + 1
	if keep > h.size {
		keep = h.size
	}
	next := make([]message.Message, 0, keep)
	next = append(next, prev[len(prev)+1-keep:]...)
	next = append(next, msg)

	h.items.Set(msg.Username, next, h.ttl)
	return nil
}

// Recent returns the user's messages, oldest first.
func (h *HistorySubscriber) Recent(username string) []message.Message {
	v, ok := h.items.Get(username)
	if !ok {
		return nil
	}
	msgs := v.([]message.Message)
	return append([]message.Message(nil), msgs...)
}

// Users returns the number of users with a live history.
func (h *HistorySubscriber) Users() int {
	return h.items.ItemCount()
}

// DefaultPublishTimeout bounds one PUBLISH round trip.
const DefaultPublishTimeout = 2 * time.Second

// RedisPublisher publishes each message, JSON encoded, on a Redis channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	// Timeout bounds each publish; it runs on the reactor goroutine.
	Timeout time.Duration
}

// NewRedisPublisher creates a publisher for channel.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, Timeout: DefaultPublishTimeout}
}

func (p *RedisPublisher) Name() string { return "redis:" + p.channel }

func (p *RedisPublisher) Deliver(ctx context.Context, msg message.Message) error {
	data, err := message.JSONSerializer{}.Marshal(msg)
	if err != nil {
		return err
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}
