package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"support-dispatch-backend/internal/events"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub, cancel
}

func testClient(id, room string, buffer int) *WSClient {
	return &WSClient{ID: id, RoomID: room, Message: make(chan *WSMessage, buffer), done: make(chan struct{})}
}

func receive(t *testing.T, cl *WSClient) *WSMessage {
	t.Helper()
	select {
	case msg, ok := <-cl.Message:
		if !ok {
			t.Fatalf("client %s channel closed", cl.ID)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", cl.ID)
	}
	return nil
}

func TestEmitReachesAllEventsAndSessionRooms(t *testing.T) {
	hub, _ := startHub(t)
	handler := NewHandler(hub, nil)

	ops := testClient("ops", AllEventsRoom, 4)
	watcher := testClient("watcher", "s1", 4)
	other := testClient("other", "s2", 4)
	for _, cl := range []*WSClient{ops, watcher, other} {
		if !hub.register(cl) {
			t.Fatal("hub refused registration")
		}
	}

	handler.Emit(events.AgentAssigned, events.Payload{SessionID: "s1", AgentID: "a1", Timestamp: time.Unix(100, 0)})

	if msg := receive(t, ops); msg.Event != events.AgentAssigned || msg.RoomID != AllEventsRoom || msg.Timestamp != 100 {
		t.Fatalf("unexpected ops message %+v", msg)
	}
	if msg := receive(t, watcher); msg.Payload.AgentID != "a1" || msg.RoomID != "s1" {
		t.Fatalf("unexpected session message %+v", msg)
	}

	rooms, err := hub.RoomsSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(rooms) != 3 {
		t.Fatalf("expected 3 rooms, got %d", len(rooms))
	}
	select {
	case msg := <-other.Message:
		t.Fatalf("unrelated session received %+v", msg)
	default:
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub, _ := startHub(t)
	handler := NewHandler(hub, nil)

	slow := testClient("slow", AllEventsRoom, 0)
	hub.register(slow)

	handler.Emit(events.SessionQueued, events.Payload{})

	deadline := time.Now().Add(time.Second)
	for {
		rooms, err := hub.RoomsSnapshot(context.Background())
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if len(rooms) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("slow client still registered: %+v", rooms)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := <-slow.Message; ok {
		t.Fatal("expected the slow client's channel to be closed")
	}
}

func TestUnregisterAfterStopDoesNotBlock(t *testing.T) {
	hub, cancel := startHub(t)
	cl := testClient("c1", AllEventsRoom, 1)
	hub.register(cl)
	cancel()
	<-hub.stopped

	done := make(chan struct{})
	go func() {
		hub.unregister(cl)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unregister blocked on a stopped hub")
	}
	if hub.register(testClient("c2", AllEventsRoom, 1)) {
		t.Fatal("stopped hub accepted a registration")
	}
}

func TestCheckOrigin(t *testing.T) {
	handler := NewHandler(NewHub(), []string{"https://ops.example.com"})
	cases := map[string]bool{
		"":                         true,
		"https://ops.example.com":  true,
		"https://evil.example.com": false,
	}
	for origin, want := range cases {
		req := newRequestWithOrigin(origin)
		if got := handler.upgrader.CheckOrigin(req); got != want {
			t.Fatalf("origin %q: expected %v, got %v", origin, want, got)
		}
	}
}

func newRequestWithOrigin(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}
