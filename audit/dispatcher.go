// Package audit publishes conflict audit events to Kafka through a bounded
// local queue with background workers. Detection and resolution paths only
// enqueue; they never block on the broker.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/c0deZ3R0/collab-kit/conflict"
	kiterr "github.com/c0deZ3R0/collab-kit/errors"
	"github.com/c0deZ3R0/collab-kit/logging"
	"github.com/c0deZ3R0/collab-kit/resolve"
)

// EventKind distinguishes audit event flavors on the wire.
type EventKind string

const (
	KindConflictDetected EventKind = "conflict_detected"
	KindConflictResolved EventKind = "conflict_resolved"
)

// Event is the audit record published per detected or resolved conflict.
type Event struct {
	Kind       EventKind           `json:"kind"`
	Item       conflict.Item       `json:"item"`
	Resolution *resolve.Resolution `json:"resolution,omitempty"`
	At         time.Time           `json:"at"`
}

// Producer is the subset of sarama.SyncProducer the dispatcher needs.
type Producer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
}

// Options configures a Dispatcher. Zero values get defaults.
type Options struct {
	QueueSize   int           // default 1024
	Workers     int           // default 2
	MaxRetry    int           // default 3
	BaseBackoff time.Duration // default 100ms
	MaxBackoff  time.Duration // default 5s
	Logger      *logging.Logger
}

func (o *Options) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
}

// Dispatcher drains a bounded queue into Kafka with capped-exponential
// retry per event. An event that exhausts its retries is dropped and
// logged; audit publication is best effort, not strongly consistent.
type Dispatcher struct {
	producer Producer
	topic    string
	queue    chan Event
	logger   *logging.Logger

	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher starts the worker pool immediately.
func NewDispatcher(producer Producer, topic string, opt Options) *Dispatcher {
	opt.setDefaults()
	d := &Dispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan Event, opt.QueueSize),
		logger:      opt.Logger.WithComponent("audit"),
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	for i := 0; i < opt.Workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
	return d
}

// ConflictDetected enqueues a detection audit event.
func (d *Dispatcher) ConflictDetected(ctx context.Context, item conflict.Item) error {
	return d.enqueue(ctx, Event{Kind: KindConflictDetected, Item: item, At: time.Now()})
}

// ConflictResolved enqueues a resolution audit event.
func (d *Dispatcher) ConflictResolved(ctx context.Context, item conflict.Item, res resolve.Resolution) error {
	return d.enqueue(ctx, Event{Kind: KindConflictResolved, Item: item, Resolution: &res, At: time.Now()})
}

// enqueue blocks only while the queue is full, up to the context deadline.
func (d *Dispatcher) enqueue(ctx context.Context, ev Event) error {
	const op = kiterr.Op("audit.enqueue")
	select {
	case d.queue <- ev:
		return nil
	case <-ctx.Done():
		return kiterr.NewTimeoutError(op, ctx.Err())
	}
}

// Close stops accepting events and waits for the workers to drain the
// queue.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}

func (d *Dispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for ev := range d.queue {
		d.sendWithRetry(workerID, ev)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, ev Event) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		err := d.sendOnce(ev)
		if err == nil {
			return
		}
		if attempt == d.maxRetry {
			d.logger.Warn("audit event dropped after retries",
				slog.String("kind", string(ev.Kind)),
				slog.String("conflict_id", ev.Item.ID),
				slog.Int("worker", workerID),
				slog.String("error", err.Error()),
			)
			return
		}
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *Dispatcher) sendOnce(ev Event) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(ev.Item.PageName),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}

// NewSyncProducer builds a sarama.SyncProducer with settings suited to
// audit traffic: acks from all in-sync replicas and bounded retries.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	return sarama.NewSyncProducer(brokers, cfg)
}
