package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/c0deZ3R0/collab-kit/conflict"
	"github.com/c0deZ3R0/collab-kit/event"
	"github.com/c0deZ3R0/collab-kit/logging"
	"github.com/c0deZ3R0/collab-kit/resolve"
	"github.com/c0deZ3R0/collab-kit/transport"
	"github.com/c0deZ3R0/collab-kit/transport/membroker"
)

type stubVersions struct {
	info *conflict.VersionInfo
}

func (s *stubVersions) GetVersion(ctx context.Context, pageName, contentKey string) (*conflict.VersionInfo, error) {
	return s.info, nil
}

type recordingSink struct {
	mu          sync.Mutex
	conflicts   []conflict.Item
	resolutions map[string]resolve.Resolution
}

func newRecordingSink() *recordingSink {
	return &recordingSink{resolutions: make(map[string]resolve.Resolution)}
}

func (s *recordingSink) RecordConflict(ctx context.Context, item conflict.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = append(s.conflicts, item)
	return nil
}

func (s *recordingSink) RecordResolution(ctx context.Context, conflictID string, res resolve.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolutions[conflictID] = res
	return nil
}

func testIdentity() Identity {
	return Identity{UserID: "u-local", UserName: "Local", SessionID: "s-local"}
}

func newTestEngine(t *testing.T, versions conflict.VersionStore, opts ...Option) *Engine {
	t.Helper()
	detector := conflict.NewDetector(versions, conflict.WithoutSessionTracking())
	resolver := resolve.NewResolver()
	return NewEngine(testIdentity(), detector, resolver, opts...)
}

func TestCheckContentEditClean(t *testing.T) {
	e := newTestEngine(t, &stubVersions{info: nil})
	report, err := e.CheckContentEdit(context.Background(), "home", "hero", "hero.title", "1.0", "text", nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Detection.HasConflict {
		t.Error("new content must not conflict")
	}
	if report.Item != nil || report.Resolution != nil {
		t.Errorf("clean report carries conflict state: %+v", report)
	}
}

func TestCheckContentEditConflictNeedsUser(t *testing.T) {
	sink := newRecordingSink()
	e := newTestEngine(t, &stubVersions{info: &conflict.VersionInfo{
		Version: "2.0",
		UserID:  "u-remote",
	}}, WithAuditSink(sink))

	report, err := e.CheckContentEdit(context.Background(), "home", "hero", "hero.title", "1.0",
		"completely different text", "nothing alike whatsoever!!")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Detection.HasConflict || report.Detection.ConflictType != conflict.TypeVersionMismatch {
		t.Fatalf("detection = %+v", report.Detection)
	}
	if report.Item == nil || report.Classification == nil {
		t.Fatal("conflicting report must carry item and classification")
	}
	if report.Classification.AutoResolvable {
		t.Error("divergent strings must not auto-resolve")
	}
	if report.Resolved() {
		t.Error("no resolution expected")
	}

	history := e.History("hero")
	if len(history) != 1 || history[0].ID != report.Item.ID {
		t.Errorf("history = %+v", history)
	}
	if history[0].Status != conflict.StatusPending {
		t.Errorf("status = %q, want pending", history[0].Status)
	}
	if len(sink.conflicts) != 1 {
		t.Errorf("sink recorded %d conflicts", len(sink.conflicts))
	}
}

func TestCheckContentEditAutoResolves(t *testing.T) {
	sink := newRecordingSink()
	e := newTestEngine(t, &stubVersions{info: &conflict.VersionInfo{
		Version: "2.0",
		UserID:  "u-remote",
	}}, WithAuditSink(sink))

	// Near-identical strings classify low severity and merge automatically.
	report, err := e.CheckContentEdit(context.Background(), "home", "hero", "hero.title", "1.0",
		"The quick brown fox jumps over the lazy dog",
		"The quick brown fox jumps over the lazy dog!")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Resolved() {
		t.Fatal("expected auto-resolution")
	}
	if report.Resolution.Strategy != conflict.StrategyMerge {
		t.Errorf("strategy = %q", report.Resolution.Strategy)
	}

	history := e.History("hero")
	if history[0].Status != conflict.StatusResolved {
		t.Errorf("history status = %q, want resolved", history[0].Status)
	}
	if _, ok := sink.resolutions[report.Item.ID]; !ok {
		t.Error("resolution not recorded in sink")
	}
}

func TestConflictBroadcast(t *testing.T) {
	broker := membroker.New()
	client := transport.NewClient(broker, transport.DefaultConfig(), logging.Nop())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer client.Disconnect()

	serializer := event.NewSerializer(event.NewValidator())
	peer, err := client.Subscribe(context.Background(), "page:home")
	if err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t, &stubVersions{info: &conflict.VersionInfo{
		Version: "2.0",
		UserID:  "u-remote",
	}}, WithTransport(client, serializer))

	report, err := e.CheckContentEdit(context.Background(), "home", "hero", "hero.title", "1.0", "a", "b")
	if err != nil {
		t.Fatal(err)
	}

	select {
	case raw := <-peer.Messages():
		ev, err := serializer.Unmarshal(raw)
		if err != nil {
			t.Fatal(err)
		}
		if ev.Type != event.TypeConflictDetected {
			t.Errorf("type = %q", ev.Type)
		}
		if ev.Data["conflictId"] != report.Item.ID {
			t.Errorf("conflictId = %v", ev.Data["conflictId"])
		}
		if ev.Data["conflictType"] != string(conflict.TypeVersionMismatch) {
			t.Errorf("conflictType = %v", ev.Data["conflictType"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no conflict event broadcast")
	}
}

func TestManualResolve(t *testing.T) {
	sink := newRecordingSink()
	e := newTestEngine(t, &stubVersions{info: &conflict.VersionInfo{
		Version: "2.0",
		UserID:  "u-remote",
	}}, WithAuditSink(sink))

	report, err := e.CheckContentEdit(context.Background(), "home", "hero", "hero.title", "1.0", "a", "b")
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.Resolve(context.Background(), *report.Item, conflict.StrategyAcceptRemote, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.ResolvedValue != "b" {
		t.Errorf("ResolvedValue = %v", res.ResolvedValue)
	}
	if e.History("hero")[0].Status != conflict.StatusResolved {
		t.Error("history not marked resolved")
	}
	if _, ok := sink.resolutions[report.Item.ID]; !ok {
		t.Error("resolution not recorded")
	}

	if _, err := e.Resolve(context.Background(), *report.Item, conflict.Strategy("bogus"), false); err == nil {
		t.Error("unknown strategy must fail")
	}
}
