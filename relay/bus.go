// Package relay fans decoded messages out to subscribers. The relay protocol
// and accepted mail both end up on a Bus.
package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/netreactor/logger"
	"github.com/cyberinferno/netreactor/message"
)

// Subscriber receives every published message.
type Subscriber interface {
	// Name identifies the subscriber in logs.
	Name() string
	// Deliver handles one message. A returned error is logged and does not
	// affect other subscribers.
	Deliver(ctx context.Context, msg message.Message) error
}

// Bus is a concurrency-safe registry of subscribers keyed by subscription id.
type Bus struct {
	log  logger.Logger
	subs sync.Map
	seq  atomic.Uint32
}

// NewBus creates an empty Bus.
func NewBus(log logger.Logger) *Bus {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Bus{log: log}
}

// Subscribe registers s.
//
// Returns:
//   - The subscription id to pass to Unsubscribe
func (b *Bus) Subscribe(s Subscriber) uint32 {
	id := b.seq.Add(1)
	b.subs.Store(id, s)
	return id
}

// Unsubscribe removes a subscription. It reports whether id was registered.
func (b *Bus) Unsubscribe(id uint32) bool {
	_, loaded := b.subs.LoadAndDelete(id)
	return loaded
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	n := 0
	b.subs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

type subscription struct {
	id  uint32
	sub Subscriber
}

// snapshot returns the subscribers in subscription order.
func (b *Bus) snapshot() []subscription {
	var out []subscription
	b.subs.Range(func(k, v any) bool {
		out = append(out, subscription{id: k.(uint32), sub: v.(Subscriber)})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Publish delivers msg to every subscriber in subscription order. Failures and
// panics are logged per subscriber.
func (b *Bus) Publish(ctx context.Context, msg message.Message) {
	for _, s := range b.snapshot() {
		if err := deliver(ctx, s.sub, msg); err != nil {
			b.log.Warn("subscriber failed",
				logger.F("subscriber", s.sub.Name()),
				logger.F("username", msg.Username),
				logger.F("error", err))
		}
	}
}

func deliver(ctx context.Context, s Subscriber, msg message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.Deliver(ctx, msg)
}
