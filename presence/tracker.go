package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	kiterr "github.com/c0deZ3R0/collab-kit/errors"
	"github.com/c0deZ3R0/collab-kit/event"
	"github.com/c0deZ3R0/collab-kit/logging"
	"github.com/c0deZ3R0/collab-kit/transport"
)

// Subscription detaches a notification callback. Unsubscribe is idempotent.
type Subscription struct {
	once sync.Once
	stop func()
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(s.stop)
}

// Tracker maintains the per-page presence state for one local user. States
// per user-page pair: offline -> joining -> online{idle|editing} -> offline.
// Construct one per session scope; there is no package-level instance.
type Tracker struct {
	client     *transport.Client
	serializer *event.Serializer
	cfg        Config
	logger     *logging.Logger
	self       Presence

	mu          sync.Mutex
	pages       map[string]*pageState
	subscribers map[int]func(Notification)
	nextSubID   int
	timersStop  chan struct{}
	closed      bool
}

type pageState struct {
	channel *transport.Channel
	// remote presences plus the local record, keyed by userId
	state    map[string]Presence
	pumpStop chan struct{}
}

// NewTracker constructs a Tracker for the given local user. Zero-value
// config fields take the defaults.
func NewTracker(client *transport.Client, self Presence, cfg Config, logger *logging.Logger) *Tracker {
	def := DefaultConfig()
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.PresenceTimeout == 0 {
		cfg.PresenceTimeout = def.PresenceTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if self.Action == "" {
		self.Action = ActionIdle
	}
	return &Tracker{
		client:      client,
		serializer:  event.NewSerializer(nil),
		cfg:         cfg,
		logger:      logger.WithComponent("presence"),
		self:        self,
		pages:       make(map[string]*pageState),
		subscribers: make(map[int]func(Notification)),
	}
}

// Subscribe registers a callback for presence notifications.
func (t *Tracker) Subscribe(fn func(Notification)) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = fn
	return &Subscription{stop: func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subscribers, id)
	}}
}

func (t *Tracker) notify(n Notification) {
	t.mu.Lock()
	fns := make([]func(Notification), 0, len(t.subscribers))
	for _, fn := range t.subscribers {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

func presenceChannel(pageName string) string {
	return "presence:" + pageName
}

// JoinPage tracks the local user's presence on the page's channel and
// broadcasts a join. Idempotent per page.
func (t *Tracker) JoinPage(ctx context.Context, pageName string) error {
	const op = kiterr.Op("presence.JoinPage")

	t.mu.Lock()
	if _, ok := t.pages[pageName]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	ch, err := t.client.Subscribe(ctx, presenceChannel(pageName))
	if err != nil {
		return kiterr.Wrap(err, op, "presence")
	}

	self := t.selfRecord()

	ps := &pageState{
		channel:  ch,
		state:    map[string]Presence{self.UserID: self},
		pumpStop: make(chan struct{}),
	}

	t.mu.Lock()
	t.pages[pageName] = ps
	if t.timersStop == nil {
		t.timersStop = make(chan struct{})
		go t.heartbeatLoop(t.timersStop)
		go t.cleanupLoop(t.timersStop)
	}
	t.mu.Unlock()

	go t.inboundPump(pageName, ps)

	if err := t.track(ctx, pageName, self); err != nil {
		t.logger.LogError(ctx, err, "native presence track failed", slog.String("page", pageName))
	}
	if err := t.broadcast(ctx, pageName, "join", self); err != nil {
		return kiterr.Wrap(err, op, "presence")
	}
	return nil
}

// UpdatePresence mutates the local user's record and rebroadcasts it.
func (t *Tracker) UpdatePresence(ctx context.Context, pageName string, action Action, componentID, avatar string) error {
	const op = kiterr.Op("presence.UpdatePresence")

	t.mu.Lock()
	ps, ok := t.pages[pageName]
	if !ok {
		t.mu.Unlock()
		return kiterr.E(op, kiterr.Component("presence"), kiterr.KindInvalid, errNotJoined(pageName))
	}
	t.self.Action = action
	t.self.ComponentID = componentID
	if avatar != "" {
		t.self.Avatar = avatar
	}
	self := t.selfRecordLocked()
	ps.state[self.UserID] = self
	t.mu.Unlock()

	if err := t.track(ctx, pageName, self); err != nil {
		t.logger.LogError(ctx, err, "native presence track failed", slog.String("page", pageName))
	}
	return t.broadcast(ctx, pageName, string(action), self)
}

// LeavePage broadcasts a leave, untracks, and unsubscribes the page channel.
func (t *Tracker) LeavePage(ctx context.Context, pageName string) error {
	t.mu.Lock()
	ps, ok := t.pages[pageName]
	delete(t.pages, pageName)
	self := t.selfRecordLocked()
	t.mu.Unlock()

	if !ok {
		return nil
	}
	close(ps.pumpStop)

	if err := t.broadcast(ctx, pageName, "leave", self); err != nil {
		t.logger.LogError(ctx, err, "leave broadcast failed", slog.String("page", pageName))
	}
	if err := t.untrack(ctx, pageName, self.UserID); err != nil {
		t.logger.LogError(ctx, err, "native presence untrack failed", slog.String("page", pageName))
	}
	return t.client.Unsubscribe(ctx, presenceChannel(pageName))
}

// Snapshot returns the current presence state for a page, keyed by userId.
func (t *Tracker) Snapshot(pageName string) map[string]Presence {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.pages[pageName]
	if !ok {
		return map[string]Presence{}
	}
	out := make(map[string]Presence, len(ps.state))
	for k, v := range ps.state {
		out[k] = v
	}
	return out
}

// Close leaves all pages and stops the heartbeat and cleanup timers.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	pages := make([]string, 0, len(t.pages))
	for name := range t.pages {
		pages = append(pages, name)
	}
	if t.timersStop != nil {
		close(t.timersStop)
		t.timersStop = nil
	}
	t.mu.Unlock()

	var firstErr error
	for _, name := range pages {
		if err := t.LeavePage(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Tracker) selfRecord() Presence {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selfRecordLocked()
}

func (t *Tracker) selfRecordLocked() Presence {
	self := t.self
	self.LastSeen = time.Now()
	return self
}

// track refreshes the local record on the broker's native presence set,
// when the backend supports it.
func (t *Tracker) track(ctx context.Context, pageName string, self Presence) error {
	pb, ok := t.client.Broker().(transport.PresenceBroker)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(self)
	if err != nil {
		return err
	}
	return pb.Track(ctx, presenceChannel(pageName), self.UserID, payload, t.cfg.PresenceTimeout)
}

func (t *Tracker) untrack(ctx context.Context, pageName, userID string) error {
	pb, ok := t.client.Broker().(transport.PresenceBroker)
	if !ok {
		return nil
	}
	return pb.Untrack(ctx, presenceChannel(pageName), userID)
}

func (t *Tracker) broadcast(ctx context.Context, pageName, action string, self Presence) error {
	data := map[string]interface{}{
		"action":   action,
		"userName": self.UserName,
	}
	if self.ComponentID != "" {
		data["componentId"] = self.ComponentID
	}
	if self.Avatar != "" {
		data["avatar"] = self.Avatar
	}
	ev := event.New(event.TypePresenceUpdate, pageName, self.UserID, "", data)
	payload, err := t.serializer.Marshal(ev)
	if err != nil {
		return err
	}

	t.mu.Lock()
	ps, ok := t.pages[pageName]
	t.mu.Unlock()
	if !ok {
		// Leave broadcast races page removal; publish directly.
		return t.client.Broker().Publish(ctx, presenceChannel(pageName), payload)
	}
	return ps.channel.Publish(ctx, payload)
}

// inboundPump applies presence events received on the page channel.
func (t *Tracker) inboundPump(pageName string, ps *pageState) {
	for {
		select {
		case <-ps.pumpStop:
			return
		case payload, ok := <-ps.channel.Messages():
			if !ok {
				return
			}
			ev, err := t.serializer.Unmarshal(payload)
			if err != nil {
				t.logger.LogError(context.Background(), err, "dropping malformed presence payload")
				continue
			}
			if ev.Type != event.TypePresenceUpdate {
				continue
			}
			t.applyRemote(pageName, ev)
		}
	}
}

// applyRemote folds one broadcast presence event into the page state,
// last-write-wins by observation time.
func (t *Tracker) applyRemote(pageName string, ev event.Event) {
	action, _ := ev.Data["action"].(string)
	userName, _ := ev.Data["userName"].(string)
	componentID, _ := ev.Data["componentId"].(string)
	avatar, _ := ev.Data["avatar"].(string)

	observed := ev.Time()
	if observed.IsZero() {
		observed = time.Now()
	}

	record := Presence{
		UserID:      ev.UserID,
		UserName:    userName,
		Avatar:      avatar,
		ComponentID: componentID,
		Action:      ActionIdle,
		LastSeen:    observed,
	}

	t.mu.Lock()
	ps, ok := t.pages[pageName]
	if !ok || ev.UserID == t.self.UserID {
		t.mu.Unlock()
		return
	}

	var notification *Notification
	switch action {
	case "leave":
		if _, present := ps.state[ev.UserID]; present {
			delete(ps.state, ev.UserID)
			notification = &Notification{Kind: KindLeft, PageName: pageName, Presence: record}
		}
	case "join":
		if existing, present := ps.state[ev.UserID]; !present || existing.LastSeen.Before(observed) {
			ps.state[ev.UserID] = record
			notification = &Notification{Kind: KindJoined, PageName: pageName, Presence: record}
		}
	case "heartbeat":
		// Liveness refresh only. Keeps the existing record's action and
		// emits no notification; a heartbeat from an unknown user means
		// we missed the join, so install the record.
		existing, present := ps.state[ev.UserID]
		if !present {
			ps.state[ev.UserID] = record
			notification = &Notification{Kind: KindJoined, PageName: pageName, Presence: record}
		} else if !existing.LastSeen.After(observed) {
			existing.LastSeen = observed
			ps.state[ev.UserID] = existing
		}
	default:
		// editing / idle updates
		record.Action = Action(action)
		existing, present := ps.state[ev.UserID]
		if !present {
			ps.state[ev.UserID] = record
			notification = &Notification{Kind: KindJoined, PageName: pageName, Presence: record}
		} else if existing.LastSeen.Before(observed) || existing.LastSeen.Equal(observed) {
			ps.state[ev.UserID] = record
			notification = &Notification{Kind: KindUpdated, PageName: pageName, Presence: record}
		}
	}
	t.mu.Unlock()

	if notification != nil {
		t.notify(*notification)
	}
}

// heartbeatLoop refreshes the local user's lastSeen for every joined
// page: through the broker's native presence set when the backend has
// one, otherwise by rebroadcasting a heartbeat on the page channel so
// peers without native presence never expire a live user.
func (t *Tracker) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			pages := make([]string, 0, len(t.pages))
			for name, ps := range t.pages {
				pages = append(pages, name)
				self := t.selfRecordLocked()
				ps.state[self.UserID] = self
			}
			self := t.selfRecordLocked()
			t.mu.Unlock()

			_, native := t.client.Broker().(transport.PresenceBroker)
			ctx, cancel := context.WithTimeout(context.Background(), t.cfg.HeartbeatInterval)
			for _, name := range pages {
				if native {
					if err := t.track(ctx, name, self); err != nil {
						t.logger.LogError(ctx, err, "heartbeat track failed", slog.String("page", name))
					}
					continue
				}
				if err := t.broadcast(ctx, name, "heartbeat", self); err != nil {
					t.logger.LogError(ctx, err, "heartbeat broadcast failed", slog.String("page", name))
				}
			}
			cancel()
		}
	}
}

// cleanupLoop scans tracked remote presences, merges the broker's native
// presence list, and synthesizes a leave for any record whose lastSeen
// exceeds the presence timeout. This reclaims presence from clients that
// disconnected without an explicit leave.
func (t *Tracker) cleanupLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *Tracker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.CleanupInterval)
	defer cancel()

	t.mu.Lock()
	pages := make([]string, 0, len(t.pages))
	for name := range t.pages {
		pages = append(pages, name)
	}
	t.mu.Unlock()

	for _, name := range pages {
		t.syncNative(ctx, name)
		t.expireStale(name)
	}
}

// syncNative merges the broker's native presence list into the page state,
// taking the most recently observed record on conflicting reports.
func (t *Tracker) syncNative(ctx context.Context, pageName string) {
	pb, ok := t.client.Broker().(transport.PresenceBroker)
	if !ok {
		return
	}
	listed, err := pb.PresenceList(ctx, presenceChannel(pageName))
	if err != nil {
		t.logger.LogError(ctx, err, "native presence list failed", slog.String("page", pageName))
		return
	}

	var joined []Presence
	t.mu.Lock()
	ps, ok := t.pages[pageName]
	if !ok {
		t.mu.Unlock()
		return
	}
	for key, payload := range listed {
		if key == t.self.UserID {
			continue
		}
		var record Presence
		if err := json.Unmarshal(payload, &record); err != nil {
			continue
		}
		existing, present := ps.state[key]
		if !present {
			ps.state[key] = record
			joined = append(joined, record)
		} else if existing.LastSeen.Before(record.LastSeen) {
			ps.state[key] = record
		}
	}
	t.mu.Unlock()

	for _, record := range joined {
		t.notify(Notification{Kind: KindJoined, PageName: pageName, Presence: record})
	}
}

// expireStale removes remote records older than the presence timeout and
// emits a synthetic leave for each, exactly once.
func (t *Tracker) expireStale(pageName string) {
	cutoff := time.Now().Add(-t.cfg.PresenceTimeout)

	var left []Presence
	t.mu.Lock()
	ps, ok := t.pages[pageName]
	if ok {
		for userID, record := range ps.state {
			if userID == t.self.UserID {
				continue
			}
			if record.LastSeen.Before(cutoff) {
				delete(ps.state, userID)
				left = append(left, record)
			}
		}
	}
	t.mu.Unlock()

	for _, record := range left {
		t.notify(Notification{Kind: KindLeft, PageName: pageName, Presence: record})
	}
}

type errNotJoined string

func (e errNotJoined) Error() string { return "not joined to page " + string(e) }
