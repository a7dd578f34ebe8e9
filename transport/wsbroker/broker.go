// Package wsbroker implements the transport Broker over a websocket relay.
// One socket carries all logical channels, multiplexed by frame.
package wsbroker

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	kiterr "github.com/c0deZ3R0/collab-kit/errors"
	"github.com/c0deZ3R0/collab-kit/transport"
)

var _ transport.Broker = (*Broker)(nil)

// frame is the websocket wire format. Action is one of subscribe,
// unsubscribe, publish, message.
type frame struct {
	Action  string          `json:"action"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Broker speaks the relay protocol over a single gorilla/websocket
// connection with dedicated read and write pumps.
type Broker struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu          sync.Mutex
	conn        *websocket.Conn
	send        chan frame
	subs        map[string]chan []byte
	disconnects chan error
	writeStop   chan struct{}
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeader sets extra handshake headers (e.g. authorization).
func WithHeader(h http.Header) Option {
	return func(b *Broker) { b.header = h }
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(b *Broker) { b.dialer = d }
}

// New returns a Broker that will dial the given websocket URL on Connect.
func New(url string, opts ...Option) *Broker {
	b := &Broker{
		url:         url,
		dialer:      websocket.DefaultDialer,
		subs:        make(map[string]chan []byte),
		disconnects: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return nil
	}

	conn, _, err := b.dialer.DialContext(ctx, b.url, b.header)
	if err != nil {
		return kiterr.NewNetworkError("wsbroker.Connect", err)
	}
	b.conn = conn
	b.send = make(chan frame, 64)
	b.writeStop = make(chan struct{})

	go b.writePump(conn, b.send, b.writeStop)
	go b.readPump(conn)

	// Re-issue subscribe frames for channels that survived a reconnect.
	for name := range b.subs {
		b.send <- frame{Action: "subscribe", Channel: name}
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	if b.writeStop != nil {
		close(b.writeStop)
		b.writeStop = nil
	}
	for name, ch := range b.subs {
		close(ch)
		delete(b.subs, name)
	}
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}

func (b *Broker) writePump(conn *websocket.Conn, send <-chan frame, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case f := <-send:
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
	}
}

func (b *Broker) readPump(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			b.onDrop(err)
			return
		}
		if f.Action != "message" {
			continue
		}
		b.mu.Lock()
		out, ok := b.subs[f.Channel]
		b.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case out <- []byte(f.Payload):
		default:
		}
	}
}

// onDrop closes subscriber streams and signals the disconnect watcher. The
// subscription set is kept so the next Connect resubscribes.
func (b *Broker) onDrop(err error) {
	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	if b.writeStop != nil {
		close(b.writeStop)
		b.writeStop = nil
	}
	for name, ch := range b.subs {
		close(ch)
		b.subs[name] = make(chan []byte, 64)
	}
	b.mu.Unlock()

	select {
	case b.disconnects <- kiterr.NewNetworkError("wsbroker.read", err):
	default:
	}
}

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	send := b.send
	stop := b.writeStop
	connected := b.conn != nil
	b.mu.Unlock()

	if !connected {
		return kiterr.NewNetworkError("wsbroker.Publish", errNotConnected)
	}
	f := frame{Action: "publish", Channel: channel, Payload: json.RawMessage(payload)}
	select {
	case send <- f:
		return nil
	case <-stop:
		// Write pump is gone; the frame would sit in the buffer forever.
		return kiterr.NewNetworkError("wsbroker.Publish", errNotConnected)
	case <-ctx.Done():
		return kiterr.E(kiterr.Op("wsbroker.Publish"), kiterr.Component("transport"), kiterr.KindTimeout, ctx.Err())
	}
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[channel]; ok {
		return ch, nil
	}
	ch := make(chan []byte, 64)
	b.subs[channel] = ch
	if b.conn != nil {
		select {
		case b.send <- frame{Action: "subscribe", Channel: channel}:
		default:
		}
	}
	return ch, nil
}

func (b *Broker) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[channel]
	if !ok {
		return nil
	}
	close(ch)
	delete(b.subs, channel)
	if b.conn != nil {
		select {
		case b.send <- frame{Action: "unsubscribe", Channel: channel}:
		default:
		}
	}
	return nil
}

func (b *Broker) Disconnects() <-chan error {
	return b.disconnects
}
