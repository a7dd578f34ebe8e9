package wsbroker

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	kiterr "github.com/c0deZ3R0/collab-kit/errors"
)

func TestPublish_NotConnected(t *testing.T) {
	b := New("ws://relay.local/ws")
	err := b.Publish(context.Background(), "page:home", []byte(`{}`))
	if err == nil {
		t.Fatal("expected error before connect")
	}
	if !kiterr.IsKind(err, kiterr.KindNetwork) {
		t.Errorf("kind = %v, want network", err)
	}
}

func TestPublish_ReturnsAfterWritePumpStops(t *testing.T) {
	b := New("ws://relay.local/ws")
	// Connected as far as Publish checks, but the write pump has already
	// stopped and nothing drains the send buffer.
	b.conn = &websocket.Conn{}
	b.send = make(chan frame)
	b.writeStop = make(chan struct{})
	close(b.writeStop)

	done := make(chan error, 1)
	go func() {
		done <- b.Publish(context.Background(), "page:home", []byte(`{"k":"v"}`))
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error once the write pump is gone")
		}
		if !kiterr.IsKind(err, kiterr.KindNetwork) {
			t.Errorf("kind = %v, want network", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no write pump draining the buffer")
	}
}
