// Package redisbroker implements the transport Broker over Redis pub/sub,
// with presence primitives backed by a sorted set whose scores carry logical
// expiry times.
package redisbroker

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	kiterr "github.com/c0deZ3R0/collab-kit/errors"
	"github.com/c0deZ3R0/collab-kit/transport"
)

var _ transport.PresenceBroker = (*Broker)(nil)

// Broker multiplexes collab channels over Redis pub/sub.
type Broker struct {
	rdb *redis.Client

	mu          sync.Mutex
	subs        map[string]*subscription
	disconnects chan error
}

type subscription struct {
	pubsub *redis.PubSub
	out    chan []byte
	cancel context.CancelFunc
	refs   int
}

// New wraps an existing Redis client. The caller owns the client lifecycle.
func New(rdb *redis.Client) *Broker {
	return &Broker{
		rdb:         rdb,
		subs:        make(map[string]*subscription),
		disconnects: make(chan error, 1),
	}
}

func (b *Broker) Connect(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return kiterr.NewNetworkError("redisbroker.Connect", err)
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, sub := range b.subs {
		sub.cancel()
		_ = sub.pubsub.Close()
		delete(b.subs, name)
	}
	return nil
}

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channelKey(channel), payload).Err(); err != nil {
		return kiterr.NewNetworkError("redisbroker.Publish", err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[channel]; ok {
		sub.refs++
		return sub.out, nil
	}

	pubsub := b.rdb.Subscribe(ctx, channelKey(channel))
	// Force the subscription onto the wire before returning.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, kiterr.NewNetworkError("redisbroker.Subscribe", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		pubsub: pubsub,
		out:    make(chan []byte, 64),
		cancel: cancel,
		refs:   1,
	}
	b.subs[channel] = sub

	go func() {
		defer close(sub.out)
		src := pubsub.Channel()
		for {
			select {
			case <-pumpCtx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					select {
					case b.disconnects <- kiterr.NewNetworkError("redisbroker.pump", context.Canceled):
					default:
					}
					return
				}
				select {
				case sub.out <- []byte(msg.Payload):
				default:
				}
			}
		}
	}()

	return sub.out, nil
}

func (b *Broker) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[channel]
	if !ok {
		return nil
	}
	sub.refs--
	if sub.refs > 0 {
		return nil
	}
	delete(b.subs, channel)
	sub.cancel()
	if err := sub.pubsub.Close(); err != nil {
		return kiterr.NewNetworkError("redisbroker.Unsubscribe", err)
	}
	return nil
}

func (b *Broker) Disconnects() <-chan error {
	return b.disconnects
}

// sweepExpired removes presence members whose logical expiry has passed and
// drops their tracked payloads, atomically.
//
// KEYS[1] = presence member zset, KEYS[2] = payload hash, ARGV[1] = now (unix).
var sweepExpired = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

func (b *Broker) Track(ctx context.Context, channel, key string, payload []byte, ttl time.Duration) error {
	expireAt := time.Now().Add(ttl).Unix()
	tx := b.rdb.TxPipeline()
	tx.ZAdd(ctx, membersKey(channel), redis.Z{Score: float64(expireAt), Member: key})
	tx.HSet(ctx, payloadsKey(channel), key, payload)
	if _, err := tx.Exec(ctx); err != nil {
		return kiterr.NewNetworkError("redisbroker.Track", err)
	}
	return nil
}

func (b *Broker) Untrack(ctx context.Context, channel, key string) error {
	tx := b.rdb.TxPipeline()
	tx.ZRem(ctx, membersKey(channel), key)
	tx.HDel(ctx, payloadsKey(channel), key)
	if _, err := tx.Exec(ctx); err != nil {
		return kiterr.NewNetworkError("redisbroker.Untrack", err)
	}
	return nil
}

func (b *Broker) PresenceList(ctx context.Context, channel string) (map[string][]byte, error) {
	now := time.Now().Unix()

	if _, err := sweepExpired.Run(ctx, b.rdb, []string{membersKey(channel), payloadsKey(channel)}, now).Int(); err != nil && err != redis.Nil {
		return nil, kiterr.NewNetworkError("redisbroker.PresenceList", err)
	}

	keys, err := b.rdb.ZRangeByScore(ctx, membersKey(channel), &redis.ZRangeBy{
		Min: "(" + formatInt(now),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, kiterr.NewNetworkError("redisbroker.PresenceList", err)
	}
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	payloads, err := b.rdb.HMGet(ctx, payloadsKey(channel), keys...).Result()
	if err != nil && err != redis.Nil {
		return nil, kiterr.NewNetworkError("redisbroker.PresenceList", err)
	}

	out := make(map[string][]byte, len(keys))
	for i, raw := range payloads {
		if raw == nil {
			continue
		}
		if s, ok := raw.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}
