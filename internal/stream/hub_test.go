package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []OutFrame
	closed bool
	err    error
}

func (f *fakeConn) Write(_ context.Context, typ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if typ != websocket.MessageText {
		return errors.New("expected text frame")
	}
	var frame OutFrame
	if err := json.Unmarshal(p, &frame); err != nil {
		return err
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) received() []OutFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OutFrame(nil), f.frames...)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestHubRegisterUnregister(t *testing.T) {
	h := NewHub()
	a, b := &fakeConn{}, &fakeConn{}

	h.Register("u:1", a)
	h.Register("u:1", b)
	if got := h.Count("u:1"); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	h.Unregister("u:1", a)
	h.Unregister("u:1", &fakeConn{})
	h.Unregister("missing", a)
	if got := h.Count("u:1"); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}

	h.Unregister("u:1", b)
	if got := h.Count("u:1"); got != 0 {
		t.Fatalf("expected 0 connections, got %d", got)
	}
}

func TestHubBroadcastScopedToSession(t *testing.T) {
	h := NewHub()
	a, b, other := &fakeConn{}, &fakeConn{}, &fakeConn{}
	h.Register("u:1", a)
	h.Register("u:1", b)
	h.Register("u:2", other)

	if err := h.Broadcast(context.Background(), "u:1", OutFrame{Type: TypeLoading, InFlight: true}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	for name, c := range map[string]*fakeConn{"a": a, "b": b} {
		frames := c.received()
		if len(frames) != 1 || frames[0].Type != TypeLoading || !frames[0].InFlight {
			t.Errorf("conn %s got %+v", name, frames)
		}
	}
	if got := other.received(); len(got) != 0 {
		t.Errorf("other session received %+v", got)
	}
}

func TestHubBroadcastSurvivesFailedConn(t *testing.T) {
	h := NewHub()
	broken := &fakeConn{err: errors.New("broken pipe")}
	ok := &fakeConn{}
	h.Register("u:1", broken)
	h.Register("u:1", ok)

	if err := h.Broadcast(context.Background(), "u:1", OutFrame{Type: TypeCleared}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if got := ok.received(); len(got) != 1 {
		t.Fatalf("healthy connection missed frame: %+v", got)
	}
}

func TestHubCloseSession(t *testing.T) {
	h := NewHub()
	a, b := &fakeConn{}, &fakeConn{}
	h.Register("u:1", a)
	h.Register("u:2", b)

	h.CloseSession("u:1")
	h.CloseSession("missing")

	if !a.isClosed() {
		t.Error("expected u:1 connection closed")
	}
	if b.isClosed() {
		t.Error("u:2 connection must stay open")
	}
	if got := h.Count("u:1"); got != 0 {
		t.Errorf("expected u:1 removed, got %d", got)
	}
}
