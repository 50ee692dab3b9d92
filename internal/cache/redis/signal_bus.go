package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// subscriberBuffer is the per-subscription channel capacity.
const subscriberBuffer = 128

// SignalBus implements domain.SignalBus using Redis Pub/Sub, so market events
// published by one server process reach WebSocket clients of every other
// process sharing the namespace.
//
// Channel schema:
//
//	{prefix}bus:{channel}
type SignalBus struct {
	c      *Client
	logger *slog.Logger
}

// NewSignalBus creates a SignalBus in c's namespace.
func NewSignalBus(c *Client, logger *slog.Logger) *SignalBus {
	return &SignalBus{
		c:      c,
		logger: logger.With(slog.String("component", "redis_bus")),
	}
}

func (sb *SignalBus) channel(name string) string { return sb.c.Key("bus:" + name) }

// Publish sends payload on channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.channel(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns payloads published on channel until ctx is cancelled.
// Glob characters in channel switch to a pattern subscription. A subscriber
// that falls subscriberBuffer messages behind drops the excess.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	full := sb.channel(channel)

	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.c.rdb.PSubscribe(ctx, full)
	} else {
		pubsub = sb.c.rdb.Subscribe(ctx, full)
	}

	// Wait for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		var dropped int
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				if dropped > 0 {
					sb.logger.Warn("subscriber dropped messages",
						slog.String("channel", channel),
						slog.Int("dropped", dropped),
					)
				}
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					dropped++
				}
			}
		}
	}()

	return out, nil
}

// hasPattern reports whether channel contains glob wildcards and therefore
// needs PSubscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
