package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kiterr "github.com/c0deZ3R0/collab-kit/errors"
	"github.com/c0deZ3R0/collab-kit/logging"
)

// State is the connection state of the realtime client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// ConnectionStatus is a snapshot of the client's connection for callers that
// want to surface it.
type ConnectionStatus struct {
	State             State
	LastConnected     time.Time
	ReconnectAttempts int
	Err               error
}

// Config holds reconnection tunables.
type Config struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultConfig returns the default reconnection configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        10,
		BaseDelay:         1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
	}
}

// Client multiplexes logical channel subscriptions over one Broker
// connection and reconnects automatically with exponential backoff while not
// manually disconnected. Exceeding MaxRetries settles the client in a
// terminal error state until Connect is called again.
type Client struct {
	broker  Broker
	cfg     Config
	backoff BackoffStrategy
	logger  *logging.Logger

	mu           sync.Mutex
	state        State
	status       ConnectionStatus
	channels     map[string]*Channel
	manualClose  bool
	stateChanged chan struct{}
	watchStop    chan struct{}
}

// NewClient constructs a Client over the given broker. Zero-value config
// fields take the defaults from DefaultConfig.
func NewClient(broker Broker, cfg Config, logger *logging.Logger) *Client {
	def := DefaultConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.BackoffMultiplier == 0 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		broker: broker,
		cfg:    cfg,
		backoff: &ExponentialBackoff{
			BaseDelay:  cfg.BaseDelay,
			MaxDelay:   cfg.MaxDelay,
			Multiplier: cfg.BackoffMultiplier,
		},
		logger:       logger.WithComponent("transport"),
		state:        StateDisconnected,
		status:       ConnectionStatus{State: StateDisconnected},
		channels:     make(map[string]*Channel),
		stateChanged: make(chan struct{}),
	}
}

// Broker exposes the underlying broker, e.g. for presence primitives.
func (c *Client) Broker() Broker { return c.broker }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the connection status.
func (c *Client) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setState(s State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(s, err)
}

func (c *Client) setStateLocked(s State, err error) {
	c.state = s
	c.status.State = s
	c.status.Err = err
	if s == StateConnected {
		c.status.LastConnected = time.Now()
		c.status.ReconnectAttempts = 0
	}
	close(c.stateChanged)
	c.stateChanged = make(chan struct{})
}

// Connect establishes the broker connection. On failure the client keeps
// retrying in the background with exponential backoff; the returned error
// reports only the first attempt. Calling Connect after a terminal error
// restarts the cycle.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.manualClose = false
	c.setStateLocked(StateConnecting, nil)
	c.mu.Unlock()

	if err := c.broker.Connect(ctx); err != nil {
		c.setState(StateConnecting, err)
		go c.reconnectLoop(context.WithoutCancel(ctx))
		return kiterr.NewNetworkError("transport.Connect", err)
	}

	c.onConnected(ctx)
	return nil
}

func (c *Client) onConnected(ctx context.Context) {
	c.setState(StateConnected, nil)
	c.backoff.Reset()
	c.resubscribeAll(ctx)
	c.startWatch()
	c.logger.InfoContext(ctx, "connected")
}

// Disconnect closes the connection and stops reconnection attempts.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.manualClose = true
	if c.watchStop != nil {
		close(c.watchStop)
		c.watchStop = nil
	}
	c.setStateLocked(StateDisconnected, nil)
	c.mu.Unlock()

	return c.broker.Close()
}

// reconnectLoop retries the broker connection up to MaxRetries times with
// delay min(BaseDelay * BackoffMultiplier^(attempt-1), MaxDelay). Exceeding
// MaxRetries settles the client in the error state.
func (c *Client) reconnectLoop(ctx context.Context) {
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		delay := c.backoff.NextDelay(attempt)

		c.mu.Lock()
		if c.manualClose {
			c.mu.Unlock()
			return
		}
		c.status.ReconnectAttempts = attempt
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		if c.manualClose {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.logger.InfoContext(ctx, "reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)

		err := c.broker.Connect(ctx)
		if err == nil {
			c.onConnected(ctx)
			return
		}
		c.setState(StateConnecting, err)
	}

	err := fmt.Errorf("reconnection gave up after %d attempts", c.cfg.MaxRetries)
	c.setState(StateError, err)
	c.logger.LogError(ctx, kiterr.NewNetworkError("transport.reconnect", err), "reconnection exhausted")
}

// startWatch watches the broker's disconnect channel and triggers the
// reconnect loop on drops.
func (c *Client) startWatch() {
	disconnects := c.broker.Disconnects()
	if disconnects == nil {
		return
	}

	c.mu.Lock()
	if c.watchStop != nil {
		close(c.watchStop)
	}
	stop := make(chan struct{})
	c.watchStop = stop
	c.mu.Unlock()

	go func() {
		select {
		case <-stop:
			return
		case err, ok := <-disconnects:
			if !ok {
				return
			}
			c.mu.Lock()
			if c.manualClose {
				c.mu.Unlock()
				return
			}
			c.setStateLocked(StateConnecting, err)
			c.mu.Unlock()
			c.reconnectLoop(context.Background())
		}
	}()
}

// WaitForConnection blocks until the connected state is observed, or fails
// on timeout or when the client settles in the error state. This is the only
// blocking point the transport exposes to callers.
func (c *Client) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		state := c.state
		err := c.status.Err
		changed := c.stateChanged
		c.mu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateError:
			return kiterr.E(kiterr.Op("transport.WaitForConnection"), kiterr.Component("transport"), kiterr.KindNetwork, err)
		}

		select {
		case <-ctx.Done():
			return kiterr.E(kiterr.Op("transport.WaitForConnection"), kiterr.Component("transport"), kiterr.KindTimeout, ctx.Err())
		case <-deadline.C:
			return kiterr.E(kiterr.Op("transport.WaitForConnection"), kiterr.Component("transport"), kiterr.KindTimeout,
				fmt.Errorf("connection not established within %s", timeout))
		case <-changed:
		}
	}
}

// Subscribe returns the channel handle for channelName, creating the
// subscription if needed. Subscribing to an already-subscribed channel
// returns the existing handle.
func (c *Client) Subscribe(ctx context.Context, channelName string) (*Channel, error) {
	c.mu.Lock()
	if ch, ok := c.channels[channelName]; ok {
		c.mu.Unlock()
		return ch, nil
	}
	ch := newChannel(channelName, c)
	c.channels[channelName] = ch
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		if err := ch.pump(ctx); err != nil {
			c.mu.Lock()
			delete(c.channels, channelName)
			c.mu.Unlock()
			return nil, err
		}
	}
	return ch, nil
}

// Unsubscribe tears down the subscription for channelName.
func (c *Client) Unsubscribe(ctx context.Context, channelName string) error {
	c.mu.Lock()
	ch, ok := c.channels[channelName]
	delete(c.channels, channelName)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	ch.close()
	return c.broker.Unsubscribe(ctx, channelName)
}

func (c *Client) resubscribeAll(ctx context.Context) {
	c.mu.Lock()
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		if err := ch.pump(ctx); err != nil {
			c.logger.LogError(ctx, err, "resubscribe failed", slog.String("channel", ch.Name()))
		}
	}
}

// Channel is a logical subscription multiplexed over the client connection.
// Its message stream survives reconnects.
type Channel struct {
	name   string
	client *Client

	mu     sync.Mutex
	out    chan []byte
	closed bool
	stop   chan struct{}
}

func newChannel(name string, client *Client) *Channel {
	return &Channel{
		name:   name,
		client: client,
		out:    make(chan []byte, 64),
	}
}

// Name returns the channel name.
func (ch *Channel) Name() string { return ch.name }

// Messages returns the stream of payloads received on this channel.
func (ch *Channel) Messages() <-chan []byte { return ch.out }

// Publish broadcasts a payload on this channel.
func (ch *Channel) Publish(ctx context.Context, payload []byte) error {
	return ch.client.broker.Publish(ctx, ch.name, payload)
}

// pump subscribes on the broker and copies payloads into the handle's
// stream until the broker stream closes or the handle is closed.
func (ch *Channel) pump(ctx context.Context) error {
	src, err := ch.client.broker.Subscribe(ctx, ch.name)
	if err != nil {
		return kiterr.NewNetworkError("transport.Subscribe", err)
	}

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	if ch.stop != nil {
		close(ch.stop)
	}
	stop := make(chan struct{})
	ch.stop = stop
	ch.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case payload, ok := <-src:
				if !ok {
					return
				}
				ch.deliver(payload)
			}
		}
	}()
	return nil
}

// deliver hands a payload to the consumer stream. The send happens under
// the channel mutex so close never shuts the stream mid-send.
func (ch *Channel) deliver(payload []byte) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	select {
	case ch.out <- payload:
	default:
		// Slow consumer; drop rather than block the pump.
	}
}

func (ch *Channel) close() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	ch.closed = true
	if ch.stop != nil {
		close(ch.stop)
		ch.stop = nil
	}
	close(ch.out)
}
