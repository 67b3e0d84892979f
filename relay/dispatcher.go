package relay

import (
	"context"

	"github.com/cyberinferno/netreactor/message"
	"github.com/cyberinferno/netreactor/reactor"
)

// Dispatcher serves the relay protocol: every frame is one serialized Message,
// published to the Bus. Nothing is sent back.
type Dispatcher struct {
	Messages *message.Codec
	Bus      *Bus
}

// NewDispatcher creates a relay dispatcher.
func NewDispatcher(messages *message.Codec, bus *Bus) *Dispatcher {
	return &Dispatcher{Messages: messages, Bus: bus}
}

// Open implements reactor.Dispatcher. Relay connections get no greeting.
func (d *Dispatcher) Open(context.Context, *reactor.Record) ([]byte, error) {
	return nil, nil
}

// Dispatch decodes and publishes one message. Undecodable frames are returned
// as *frame.Error and drop the connection. Relay connections keep no session.
func (d *Dispatcher) Dispatch(ctx context.Context, _ *reactor.Record, f []byte) (reactor.Response, error) {
	msg, err := d.Messages.Decode(f)
	if err != nil {
		return reactor.Response{}, err
	}

	d.Bus.Publish(ctx, msg)
	return reactor.Response{}, nil
}
