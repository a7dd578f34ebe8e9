package event

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"
)

func validContentChange() Event {
	return New(TypeContentChange, "home", "user-1", "3.0", map[string]interface{}{
		"contentKey": "hero.title",
		"value":      "Welcome",
	})
}

func TestValidator_RequiredFields(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name   string
		mutate func(*Event)
		frag   string
	}{
		{"missing id", func(e *Event) { e.ID = "" }, "missing event id"},
		{"missing pageName", func(e *Event) { e.PageName = "" }, "missing pageName"},
		{"missing userId", func(e *Event) { e.UserID = "" }, "missing userId"},
		{"unknown type", func(e *Event) { e.Type = "bogus_type" }, "unknown event type"},
		{"bad timestamp", func(e *Event) { e.Timestamp = "yesterday" }, "malformed timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validContentChange()
			tt.mutate(&e)
			err := v.Validate(&e)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.frag) {
				t.Errorf("error %q missing fragment %q", err, tt.frag)
			}
		})
	}
}

func TestValidator_TypeSanitizers(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		typ     Type
		data    map[string]interface{}
		wantErr bool
	}{
		{"content_change ok", TypeContentChange, map[string]interface{}{"contentKey": "k", "value": "v"}, false},
		{"content_change missing key", TypeContentChange, map[string]interface{}{"value": "v"}, true},
		{"content_change bad expectedVersion", TypeContentChange, map[string]interface{}{"contentKey": "k", "expectedVersion": 2}, true},
		{"component_add ok", TypeComponentAdd, map[string]interface{}{"componentId": "c1", "componentType": "hero", "position": map[string]interface{}{"x": float64(10), "y": float64(20)}}, false},
		{"component_add bad position", TypeComponentAdd, map[string]interface{}{"componentId": "c1", "componentType": "hero", "position": "top"}, true},
		{"component_move ok", TypeComponentMove, map[string]interface{}{"componentId": "c1", "position": map[string]interface{}{"index": float64(2)}}, false},
		{"component_move missing position", TypeComponentMove, map[string]interface{}{"componentId": "c1"}, true},
		{"component_delete ok", TypeComponentDelete, map[string]interface{}{"componentId": "c1"}, false},
		{"page_create ok", TypePageCreate, map[string]interface{}{"title": "About"}, false},
		{"page_create missing title", TypePageCreate, map[string]interface{}{}, true},
		{"nav_update ok", TypeNavUpdate, map[string]interface{}{"items": []interface{}{"home", "about"}}, false},
		{"nav_update items not array", TypeNavUpdate, map[string]interface{}{"items": "home"}, true},
		{"presence_update ok", TypePresenceUpdate, map[string]interface{}{"action": "editing", "userName": "Ada"}, false},
		{"presence_update bad action", TypePresenceUpdate, map[string]interface{}{"action": "sleeping", "userName": "Ada"}, true},
		{"conflict_detected ok", TypeConflictDetected, map[string]interface{}{"conflictId": "cf1", "conflictType": "version_mismatch"}, false},
		{"conflict_detected missing type", TypeConflictDetected, map[string]interface{}{"conflictId": "cf1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.typ, "home", "user-1", "1.0", tt.data)
			err := v.Validate(&e)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_CapsLongStrings(t *testing.T) {
	v := NewValidator()
	long := strings.Repeat("x", MaxStringLen+500)
	e := New(TypeContentChange, "home", "user-1", "1.0", map[string]interface{}{
		"contentKey": "k",
		"value":      long,
	})
	if err := v.Validate(&e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := e.Data["value"].(string)
	if len(got) != MaxStringLen {
		t.Errorf("value length = %d, want %d", len(got), MaxStringLen)
	}
}

func TestValidator_CapsOnRuneBoundary(t *testing.T) {
	v := NewValidator()
	long := strings.Repeat("é", MaxStringLen+500)
	e := New(TypeContentChange, "home", "user-1", "1.0", map[string]interface{}{
		"contentKey": "k",
		"value":      long,
	})
	if err := v.Validate(&e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := e.Data["value"].(string)
	if !utf8.ValidString(got) {
		t.Error("cap split a multi-byte rune")
	}
	if n := utf8.RuneCountInString(got); n != MaxStringLen {
		t.Errorf("rune count = %d, want %d", n, MaxStringLen)
	}
}

func TestValidator_RejectsDeepNesting(t *testing.T) {
	v := NewValidator()

	// Build a value nested beyond MaxDepth.
	deep := map[string]interface{}{"leaf": "v"}
	for i := 0; i < MaxDepth+1; i++ {
		deep = map[string]interface{}{"nested": deep}
	}
	e := New(TypeContentChange, "home", "user-1", "1.0", map[string]interface{}{
		"contentKey": "k",
		"value":      deep,
	})
	err := v.Validate(&e)
	if err == nil {
		t.Fatal("expected nesting depth error")
	}
	if !strings.Contains(err.Error(), "nesting depth") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSerializer_RoundTrip(t *testing.T) {
	s := NewSerializer(nil)

	events := []Event{
		validContentChange(),
		New(TypeComponentMove, "home", "user-2", "2.0", map[string]interface{}{
			"componentId": "c9",
			"position":    map[string]interface{}{"x": float64(1), "y": float64(2)},
		}),
		New(TypePresenceUpdate, "pricing", "user-3", "1.0", map[string]interface{}{
			"action":   "idle",
			"userName": "Grace",
		}),
	}

	for _, e := range events {
		b, err := s.Marshal(e)
		if err != nil {
			t.Fatalf("Marshal(%s): %v", e.Type, err)
		}
		got, err := s.Unmarshal(b)
		if err != nil {
			t.Fatalf("Unmarshal(%s): %v", e.Type, err)
		}
		// Marshal sanitizes first, so compare against the sanitized original.
		want := e
		if err := NewValidator().Validate(&want); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, want)
		}
	}
}

func TestSerializer_UnmarshalRevalidates(t *testing.T) {
	s := NewSerializer(nil)
	// Structurally fine JSON, but the payload fails the content_change sanitizer.
	raw := `{"id":"e1","type":"content_change","pageName":"home","userId":"u1","timestamp":"` +
		time.Now().UTC().Format(time.RFC3339Nano) + `","version":"1.0","data":{"value":"v"}}`
	if _, err := s.Unmarshal([]byte(raw)); err == nil {
		t.Fatal("expected re-validation to reject missing contentKey")
	}
}

func TestRouter_FanOut(t *testing.T) {
	r := NewRouter(nil, nil)
	var calls int32

	for i := 0; i < 3; i++ {
		r.Register(TypeContentChange, func(ctx context.Context, e Event) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}

	if err := r.Route(context.Background(), validContentChange()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
}

func TestRouter_FailingHandlerDoesNotPoisonOthers(t *testing.T) {
	r := NewRouter(nil, nil)
	var healthy int32

	r.Register(TypeContentChange, func(ctx context.Context, e Event) error {
		return errors.New("boom")
	})
	r.Register(TypeContentChange, func(ctx context.Context, e Event) error {
		panic("worse")
	})
	r.Register(TypeContentChange, func(ctx context.Context, e Event) error {
		atomic.AddInt32(&healthy, 1)
		return nil
	})

	if err := r.Route(context.Background(), validContentChange()); err != nil {
		t.Fatalf("route should not fail on handler errors: %v", err)
	}
	if atomic.LoadInt32(&healthy) != 1 {
		t.Error("healthy handler was not invoked")
	}
}

func TestRouter_ZeroHandlersIsNoOp(t *testing.T) {
	r := NewRouter(nil, nil)
	if err := r.Route(context.Background(), validContentChange()); err != nil {
		t.Fatalf("routing with zero handlers should not error: %v", err)
	}
}

func TestRouter_RejectsInvalidAtBoundary(t *testing.T) {
	r := NewRouter(nil, nil)
	var delivered int32
	r.Register(TypeContentChange, func(ctx context.Context, e Event) error {
		atomic.AddInt32(&delivered, 1)
		return nil
	})

	bad := validContentChange()
	bad.Timestamp = "not-a-time"
	if err := r.Route(context.Background(), bad); err == nil {
		t.Fatal("expected validation error")
	}
	if atomic.LoadInt32(&delivered) != 0 {
		t.Error("malformed event must never reach handlers")
	}
}

func TestRouter_Unsubscribe(t *testing.T) {
	r := NewRouter(nil, nil)
	sub := r.Register(TypeContentChange, func(ctx context.Context, e Event) error { return nil })
	if r.HandlerCount(TypeContentChange) != 1 {
		t.Fatal("expected one handler")
	}
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	if r.HandlerCount(TypeContentChange) != 0 {
		t.Error("expected handler removed")
	}
}

func TestRouter_ConcurrentRegisterAndRoute(t *testing.T) {
	r := NewRouter(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := r.Register(TypeContentChange, func(ctx context.Context, e Event) error { return nil })
			_ = r.Route(context.Background(), validContentChange())
			sub.Unsubscribe()
		}()
	}
	wg.Wait()
}
