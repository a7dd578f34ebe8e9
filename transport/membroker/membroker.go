// Package membroker provides an in-memory Broker for tests and single-process
// use. It supports the presence primitives with logical TTLs.
package membroker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c0deZ3R0/collab-kit/transport"
)

var _ transport.PresenceBroker = (*Broker)(nil)

// Broker is an in-memory pub/sub implementation of transport.PresenceBroker.
type Broker struct {
	mu          sync.Mutex
	connected   bool
	subscribers map[string][]chan []byte
	presence    map[string]map[string]presenceEntry
	disconnects chan error

	// FailConnects makes the next n Connect calls fail. Used to exercise
	// reconnection behavior.
	FailConnects int

	// ConnectCalls counts Connect invocations.
	ConnectCalls int
}

type presenceEntry struct {
	payload  []byte
	expireAt time.Time
}

// New returns an empty in-memory broker.
func New() *Broker {
	return &Broker{
		subscribers: make(map[string][]chan []byte),
		presence:    make(map[string]map[string]presenceEntry),
		disconnects: make(chan error, 1),
	}
}

func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ConnectCalls++
	if b.FailConnects > 0 {
		b.FailConnects--
		return fmt.Errorf("membroker: connect refused")
	}
	b.connected = true
	return nil
}

// Connects returns the number of Connect calls observed so far.
func (b *Broker) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ConnectCalls
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subscribers = make(map[string][]chan []byte)
	return nil
}

// Drop simulates a connection loss: all subscriber streams close and a
// disconnect notification is emitted.
func (b *Broker) Drop(err error) {
	b.mu.Lock()
	b.connected = false
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subscribers = make(map[string][]chan []byte)
	b.mu.Unlock()

	select {
	case b.disconnects <- err:
	default:
	}
}

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return fmt.Errorf("membroker: not connected")
	}
	for _, ch := range b.subscribers[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, fmt.Errorf("membroker: not connected")
	}
	ch := make(chan []byte, 64)
	b.subscribers[channel] = append(b.subscribers[channel], ch)
	return ch, nil
}

func (b *Broker) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers[channel] {
		close(ch)
	}
	delete(b.subscribers, channel)
	return nil
}

func (b *Broker) Disconnects() <-chan error {
	return b.disconnects
}

func (b *Broker) Track(ctx context.Context, channel, key string, payload []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.presence[channel] == nil {
		b.presence[channel] = make(map[string]presenceEntry)
	}
	b.presence[channel][key] = presenceEntry{payload: payload, expireAt: time.Now().Add(ttl)}
	return nil
}

func (b *Broker) Untrack(ctx context.Context, channel, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.presence[channel], key)
	return nil
}

func (b *Broker) PresenceList(ctx context.Context, channel string) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	out := make(map[string][]byte)
	for key, entry := range b.presence[channel] {
		if entry.expireAt.Before(now) {
			delete(b.presence[channel], key)
			continue
		}
		out[key] = entry.payload
	}
	return out, nil
}
