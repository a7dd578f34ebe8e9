package collab

import (
	"context"
	"time"

	"github.com/c0deZ3R0/collab-kit/conflict"
	kiterr "github.com/c0deZ3R0/collab-kit/errors"
	"github.com/c0deZ3R0/collab-kit/event"
	"github.com/c0deZ3R0/collab-kit/logging"
	"github.com/c0deZ3R0/collab-kit/presence"
	"github.com/c0deZ3R0/collab-kit/resolve"
	"github.com/c0deZ3R0/collab-kit/transport"
)

// Engine runs the check, classify, resolve flow for one editing session.
type Engine struct {
	self     Identity
	detector conflict.Detector
	resolver *resolve.Resolver

	client     *transport.Client
	serializer *event.Serializer
	presence   *presence.Tracker
	sink       AuditSink
	publisher  AuditPublisher
	logger     *logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransport attaches a realtime client used to broadcast
// conflict_detected events to other editors on the page.
func WithTransport(c *transport.Client, s *event.Serializer) Option {
	return func(e *Engine) {
		e.client = c
		e.serializer = s
	}
}

// WithPresence attaches a presence tracker whose lifecycle the engine
// manages on Close.
func WithPresence(t *presence.Tracker) Option {
	return func(e *Engine) { e.presence = t }
}

// WithAuditSink attaches a durable conflict store.
func WithAuditSink(s AuditSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithAuditPublisher attaches a streaming audit publisher.
func WithAuditPublisher(p AuditPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine constructs an Engine for the given editor identity.
func NewEngine(self Identity, detector conflict.Detector, resolver *resolve.Resolver, opts ...Option) *Engine {
	e := &Engine{
		self:     self,
		detector: detector,
		resolver: resolver,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("engine")
	return e
}

// Presence returns the attached presence tracker, if any.
func (e *Engine) Presence() *presence.Tracker { return e.presence }

// CheckContentEdit checks an optimistic content edit before it is
// committed. remoteValue is the server-side value when the caller has it;
// nil is allowed and pushes any conflict to manual resolution.
func (e *Engine) CheckContentEdit(ctx context.Context, pageName, componentID, contentKey, expectedVersion string, localValue, remoteValue interface{}) (*Report, error) {
	res, err := e.detector.DetectConflict(ctx, pageName, contentKey, expectedVersion, localValue, e.self.UserID, e.self.SessionID)
	if err != nil {
		return nil, err
	}
	if !res.HasConflict {
		return &Report{Detection: res}, nil
	}

	item := conflict.NewItem(conflict.ItemContent, pageName, componentID, contentKey,
		localValue, remoteValue, res.ConflictedBy, conflict.Metadata{
			Who:        res.ConflictedBy,
			When:       time.Now(),
			What:       contentKey,
			ChangeType: "content_change",
			ContentKey: contentKey,
			PageName:   pageName,
			SessionID:  e.self.SessionID,
		})
	return e.handleConflict(ctx, res, item), nil
}

// CheckStructuralChange checks a layout mutation against recent changes to
// the same component.
func (e *Engine) CheckStructuralChange(ctx context.Context, change conflict.StructuralChange, localValue, remoteValue interface{}) (*Report, error) {
	res, err := e.detector.DetectStructuralConflict(ctx, change, e.self.UserID, e.self.SessionID)
	if err != nil {
		return nil, err
	}
	if !res.HasConflict {
		return &Report{Detection: res}, nil
	}

	item := conflict.NewItem(conflict.ItemStructure, change.PageName, change.ComponentID, "",
		localValue, remoteValue, res.ConflictedBy, conflict.Metadata{
			Who:         res.ConflictedBy,
			When:        time.Now(),
			What:        change.ComponentID,
			ChangeType:  change.ChangeType,
			ComponentID: change.ComponentID,
			PageName:    change.PageName,
			SessionID:   e.self.SessionID,
		})
	return e.handleConflict(ctx, res, item), nil
}

// handleConflict records, broadcasts, classifies, and attempts
// auto-resolution. Auditing and broadcasting are best effort: a sink
// failure never blocks the report.
func (e *Engine) handleConflict(ctx context.Context, res conflict.DetectionResult, item conflict.Item) *Report {
	e.detector.AddToHistory(e.historyKey(item), item)

	if e.sink != nil {
		if err := e.sink.RecordConflict(ctx, item); err != nil {
			e.logger.LogError(ctx, err, "conflict audit write failed")
		}
	}
	if e.publisher != nil {
		if err := e.publisher.ConflictDetected(ctx, item); err != nil {
			e.logger.LogError(ctx, err, "conflict audit publish failed")
		}
	}
	e.broadcastConflict(ctx, res, item)

	class := e.detector.Classify(item)
	report := &Report{Detection: res, Item: &item, Classification: &class}

	if resolution := e.resolver.AutoResolve(ctx, item, class, e.self.UserID); resolution != nil {
		e.finishResolution(ctx, item, *resolution)
		report.Resolution = resolution
	}
	return report
}

// Resolve applies a strategy manually. force applies only to keep_local.
func (e *Engine) Resolve(ctx context.Context, item conflict.Item, strategy conflict.Strategy, force bool) (resolve.Resolution, error) {
	const op = kiterr.Op("engine.Resolve")

	var (
		res resolve.Resolution
		err error
	)
	switch strategy {
	case conflict.StrategyAcceptRemote:
		res, err = e.resolver.AcceptRemote(ctx, item, e.self.UserID)
	case conflict.StrategyKeepLocal:
		res, err = e.resolver.KeepLocal(ctx, item, e.self.UserID, force)
	case conflict.StrategyMerge:
		res, err = e.resolver.Merge(ctx, item, e.self.UserID)
	case conflict.StrategyThreeWayMerge:
		res, err = e.resolver.ThreeWayMerge(ctx, item, e.self.UserID, nil)
	default:
		return resolve.Resolution{}, kiterr.NewValidationError(op,
			errUnknownStrategy(strategy))
	}
	if err != nil {
		return resolve.Resolution{}, err
	}

	e.finishResolution(ctx, item, res)
	return res, nil
}

// History returns the recorded conflicts for a component or content key.
func (e *Engine) History(key string) []conflict.Item {
	return e.detector.ConflictHistory(key)
}

// Close shuts down the presence tracker and disconnects the transport.
func (e *Engine) Close(ctx context.Context) error {
	var first error
	if e.presence != nil {
		if err := e.presence.Close(ctx); err != nil {
			first = err
		}
	}
	if e.client != nil {
		if err := e.client.Disconnect(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (e *Engine) historyKey(item conflict.Item) string {
	if item.ComponentID != "" {
		return item.ComponentID
	}
	return item.ContentKey
}

func (e *Engine) finishResolution(ctx context.Context, item conflict.Item, res resolve.Resolution) {
	e.detector.MarkResolved(item.ID)
	if e.sink != nil {
		if err := e.sink.RecordResolution(ctx, item.ID, res); err != nil {
			e.logger.LogError(ctx, err, "resolution audit write failed")
		}
	}
	if e.publisher != nil {
		if err := e.publisher.ConflictResolved(ctx, item, res); err != nil {
			e.logger.LogError(ctx, err, "resolution audit publish failed")
		}
	}
}

// broadcastConflict tells other editors on the page about the conflict so
// their UIs can react. Best effort.
func (e *Engine) broadcastConflict(ctx context.Context, res conflict.DetectionResult, item conflict.Item) {
	if e.client == nil || e.serializer == nil {
		return
	}
	ev := event.New(event.TypeConflictDetected, item.PageName, e.self.UserID, res.CurrentVersion,
		map[string]interface{}{
			"conflictId":   item.ID,
			"conflictType": string(res.ConflictType),
		})
	payload, err := e.serializer.Marshal(ev)
	if err != nil {
		e.logger.LogError(ctx, err, "conflict event encode failed")
		return
	}
	ch, err := e.client.Subscribe(ctx, pageChannel(item.PageName))
	if err != nil {
		e.logger.LogError(ctx, err, "conflict event channel unavailable")
		return
	}
	if err := ch.Publish(ctx, payload); err != nil {
		e.logger.LogError(ctx, err, "conflict event publish failed")
	}
}

func pageChannel(pageName string) string {
	return "page:" + pageName
}

type errUnknownStrategy conflict.Strategy

func (e errUnknownStrategy) Error() string {
	return "unknown resolution strategy " + string(e)
}
