package ws

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/agustinlozano/ur-partner-realtime/internal/transport"
)

const relayPrefix = "relay:"

// RedisBus carries frames to sockets held by other instances. Every instance
// subscribes to relay:{id} for each socket it holds.
type RedisBus struct {
	rdb redis.UniversalClient
	log *slog.Logger
	ps  *redis.PubSub
}

// NewRedisBus opens one pubsub connection; channels are added per socket
func NewRedisBus(ctx context.Context, rdb redis.UniversalClient, log *slog.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, log: log, ps: rdb.Subscribe(ctx)}
}

// Watch starts receiving frames addressed to connID
func (b *RedisBus) Watch(ctx context.Context, connID string) error {
	if err := b.ps.Subscribe(ctx, channel(connID)); err != nil {
		return fmt.Errorf("relay watch %s: %w", connID, err)
	}
	return nil
}

// Unwatch stops receiving frames addressed to connID
func (b *RedisBus) Unwatch(ctx context.Context, connID string) error {
	if err := b.ps.Unsubscribe(ctx, channel(connID)); err != nil {
		return fmt.Errorf("relay unwatch %s: %w", connID, err)
	}
	return nil
}

// Relay publishes payload for connID. No subscriber means no instance holds
// the socket any more.
func (b *RedisBus) Relay(ctx context.Context, connID string, payload []byte) error {
	n, err := b.rdb.Publish(ctx, channel(connID), payload).Result()
	if err != nil {
		return fmt.Errorf("relay %s: %w", connID, err)
	}
	if n == 0 {
		return fmt.Errorf("relay %s: %w", connID, transport.ErrGone)
	}
	return nil
}

// Run forwards received frames to fn until ctx is done
func (b *RedisBus) Run(ctx context.Context, fn func(connID string, payload []byte)) {
	ch := b.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			id, found := strings.CutPrefix(msg.Channel, relayPrefix)
			if !found {
				continue
			}
			fn(id, []byte(msg.Payload))
		}
	}
}

// Close shuts down the pubsub connection
func (b *RedisBus) Close() error { return b.ps.Close() }

// channel namespacing for per-socket relay
func channel(connID string) string { return relayPrefix + connID }
