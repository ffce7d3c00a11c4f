package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"

	"marginalia/api/internal/store"
)

func collect(t *testing.T, ch <-chan Message, n int) []Message {
	t.Helper()
	var got []Message
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case msg := <-ch:
			got = append(got, msg)
		case <-timeout:
			t.Fatalf("timed out after %d of %d messages", len(got), n)
		}
	}
	return got
}

func TestWebSocketSourceDeliversMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"create","records":[{"id":"a","group":"g1"}]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session","records":[]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"delete","records":[{"id":"b"}]}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	source := NewWebSocketSource("ws" + strings.TrimPrefix(srv.URL, "http"))
	ch := make(chan Message, 4)
	if err := source.Run(context.Background(), func(m Message) { ch <- m }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collect(t, ch, 2)
	if got[0].Type != MessageCreate || got[1].Type != MessageDelete {
		t.Fatalf("unexpected messages %+v", got)
	}
}

func TestWebSocketSourceStopsOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- NewWebSocketSource("ws"+strings.TrimPrefix(srv.URL, "http")).Run(ctx, func(Message) {})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWebSocketSourceDialError(t *testing.T) {
	source := NewWebSocketSource("ws://127.0.0.1:1/stream")
	if err := source.Run(context.Background(), func(Message) {}); err == nil {
		t.Fatal("expected dial error")
	}
}

func setupRedisSource(t *testing.T) (*RedisSource, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	source, err := NewRedisSource("redis://"+s.Addr(), "annotations")
	if err != nil {
		t.Fatalf("failed to create redis source: %v", err)
	}
	t.Cleanup(func() { source.Close() })
	return source, s
}

func TestRedisSourceRoundTrip(t *testing.T) {
	source, s := setupRedisSource(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan Message, 4)
	errCh := make(chan error, 1)
	go func() { errCh <- source.Run(ctx, func(m Message) { ch <- m }) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.PubSubNumSub("annotations")["annotations"] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Publish("annotations", `{"type":"bogus"}`)
	if err := source.Publish(ctx, Message{Type: MessageUpdate, Records: []store.Annotation{{ID: "a", Group: "g1"}}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got := collect(t, ch, 1)
	if got[0].Type != MessageUpdate || got[0].Records[0].ID != "a" {
		t.Fatalf("unexpected message %+v", got[0])
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewRedisSourceBadURL(t *testing.T) {
	if _, err := NewRedisSource("not-a-url", "annotations"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestRedisSourcePing(t *testing.T) {
	source, _ := setupRedisSource(t)
	if err := source.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
