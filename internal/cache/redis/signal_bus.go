package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/solwatch/copybot/internal/domain"
)

// signalChannel is the namespaced pub/sub channel the wallet tracker
// publishes copy signals on.
const signalChannel = "signals:wallet"

// eventStreamMaxLen bounds each durable event stream, enforced via
// XADD MAXLEN ~.
const eventStreamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus. Inbound wallet signals arrive on a
// single pub/sub channel; outbound engine events are announced on their own
// channel and appended to a stream of the same name so consumers that were
// offline can replay what they missed.
type SignalBus struct {
	c *Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

// Signals subscribes to the wallet-signal channel and returns a read-only
// channel of raw signal payloads. The subscription closes when the context is
// cancelled; the returned channel is closed at that point as well.
func (sb *SignalBus) Signals(ctx context.Context) (<-chan []byte, error) {
	name := sb.c.key(signalChannel)
	pubsub := sb.c.rdb.Subscribe(ctx, name)

	// Receive the subscription confirmation before handing the channel out.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", name, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Announce publishes an engine event on the channel and appends it to the
// channel's durable stream. Channels are namespaced under "events", so
// Announce(ctx, "orders", ...) lands on "copybot:events:orders".
func (sb *SignalBus) Announce(ctx context.Context, channel string, payload []byte) error {
	name := sb.c.key("events", channel)

	if err := sb.c.rdb.Publish(ctx, name, payload).Err(); err != nil {
		return fmt.Errorf("redis: announce %s: %w", channel, err)
	}

	args := &redis.XAddArgs{
		Stream: name,
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := sb.c.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: announce stream %s: %w", channel, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
