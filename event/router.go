package event

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c0deZ3R0/collab-kit/logging"
)

// Handler processes a routed event. Handler errors are logged and isolated;
// one failing handler never blocks or poisons the others.
type Handler func(ctx context.Context, e Event) error

// Subscription is the handle returned by Router.Register. Unsubscribe is
// idempotent.
type Subscription struct {
	once sync.Once
	stop func()
}

// Unsubscribe removes the handler from the router.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.stop)
}

// Router maps event types to registered handlers and fans events out to all
// of them concurrently. Construct one per page/session scope and pass it by
// reference; there is no package-level instance.
type Router struct {
	mu        sync.RWMutex
	nextID    int
	handlers  map[Type]map[int]Handler
	validator *Validator
	logger    *logging.Logger
}

// NewRouter constructs a Router. A nil logger discards output.
func NewRouter(v *Validator, logger *logging.Logger) *Router {
	if v == nil {
		v = NewValidator()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Router{
		handlers:  make(map[Type]map[int]Handler),
		validator: v,
		logger:    logger.WithComponent("event.router"),
	}
}

// Register attaches a handler for the given event type and returns a
// Subscription handle to detach it.
func (r *Router) Register(typ Type, h Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers[typ] == nil {
		r.handlers[typ] = make(map[int]Handler)
	}
	id := r.nextID
	r.nextID++
	r.handlers[typ][id] = h

	return &Subscription{stop: func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers[typ], id)
	}}
}

// HandlerCount returns the number of handlers registered for a type.
func (r *Router) HandlerCount(typ Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[typ])
}

// Route validates the event and fans it out to all handlers registered for
// its type, concurrently. Validation failures are rejected at this boundary
// and never delivered. Routing to a type with zero handlers is a no-op
// warning, not an error.
func (r *Router) Route(ctx context.Context, e Event) error {
	if err := r.validator.Validate(&e); err != nil {
		r.logger.LogError(ctx, err, "rejected malformed event",
			slog.String("event_id", e.ID),
			slog.String("event_type", string(e.Type)),
		)
		return err
	}

	r.mu.RLock()
	registered := r.handlers[e.Type]
	handlers := make([]Handler, 0, len(registered))
	for _, h := range registered {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	if len(handlers) == 0 {
		r.logger.WarnContext(ctx, "no handlers registered for event type",
			slog.String("event_type", string(e.Type)),
		)
		return nil
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.ErrorContext(ctx, "handler panicked",
						slog.String("event_type", string(e.Type)),
						slog.Any("panic", rec),
					)
				}
			}()
			if err := h(ctx, e); err != nil {
				r.logger.LogError(ctx, err, "handler error",
					slog.String("event_id", e.ID),
					slog.String("event_type", string(e.Type)),
				)
			}
		}(h)
	}
	wg.Wait()

	return nil
}
