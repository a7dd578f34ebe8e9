// Package transport provides the realtime client: a connection state machine
// with bounded exponential-backoff reconnection, idempotent channel
// subscriptions multiplexed over one backing pub/sub connection, and native
// presence primitives where the backend supports them.
package transport

import (
	"context"
	"time"
)

// Broker is the backing pub/sub service the client multiplexes logical
// channels over. Implementations: redisbroker, wsbroker, membroker.
type Broker interface {
	// Connect establishes the underlying connection.
	Connect(ctx context.Context) error

	// Close tears down the connection and all subscriptions.
	Close() error

	// Publish broadcasts one payload on a channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a receive channel for payloads broadcast on the
	// named channel. The returned channel is closed when the subscription
	// ends or the connection drops.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	// Unsubscribe removes the subscription for a channel.
	Unsubscribe(ctx context.Context, channel string) error

	// Disconnects returns a channel receiving an error each time the
	// underlying connection drops. May return nil if the backend cannot
	// detect drops.
	Disconnects() <-chan error
}

// PresenceBroker extends Broker with native presence primitives keyed by a
// member key (userId), carrying an opaque tracked payload.
type PresenceBroker interface {
	Broker

	// Track registers or refreshes a member's presence payload on a channel.
	Track(ctx context.Context, channel, key string, payload []byte, ttl time.Duration) error

	// Untrack removes a member from a channel's presence set.
	Untrack(ctx context.Context, channel, key string) error

	// PresenceList returns the live presence payloads on a channel, keyed
	// by member key.
	PresenceList(ctx context.Context, channel string) (map[string][]byte, error)
}
