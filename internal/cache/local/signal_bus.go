// Package local provides single-process implementations of the cache
// interfaces, used when no Redis is configured.
package local

import (
	"context"
	"sync"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

const subscriberBuffer = 128

// SignalBus is an in-memory domain.SignalBus. Publish never blocks: a
// subscriber whose buffer is full misses the message.
type SignalBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch   chan []byte
	once sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.ch) }) }

// NewSignalBus returns an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[string]map[*subscriber]struct{})}
}

// Publish delivers a copy of payload to every current subscriber of channel.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers for messages on channel until ctx is cancelled, at
// which point the returned channel is closed.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscriber{ch: make(chan []byte, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub.ch, nil
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscriber]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], sub)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		b.mu.Unlock()
		sub.close()
	}()

	return sub.ch, nil
}

// Close ends every subscription.
func (b *SignalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for channel, subs := range b.subs {
		for sub := range subs {
			sub.close()
		}
		delete(b.subs, channel)
	}
	return nil
}

// Subscribers returns the number of live subscriptions on channel.
func (b *SignalBus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
