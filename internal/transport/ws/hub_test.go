package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jswanson6857/shop-analytics/internal/transport"
)

// wsPair upgrades one client connection against a test server and hands the
// server-side socket to the hub under the given id.
func wsPair(t *testing.T, hub *Hub, connectionID string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	attached := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Attach(connectionID, conn)
		close(attached)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	select {
	case <-attached:
	case <-time.After(5 * time.Second):
		t.Fatal("server never attached")
	}
	return client
}

func TestSendReachesPeer(t *testing.T) {
	hub := NewHub(nil, time.Second)
	client := wsPair(t, hub, "c1")

	payload, _ := json.Marshal(map[string]string{"type": "event"})
	if err := hub.Send(context.Background(), "c1", payload); err != nil {
		t.Fatalf("send: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != string(payload) {
		t.Fatalf("payload mismatch: %s", raw)
	}
}

func TestSendUnknownIDIsGone(t *testing.T) {
	hub := NewHub(nil, time.Second)
	err := hub.Send(context.Background(), "nobody", []byte("x"))
	if !errors.Is(err, transport.ErrGone) {
		t.Fatalf("expected ErrGone, got %v", err)
	}
}

func TestSendAfterCloseIsGone(t *testing.T) {
	hub := NewHub(nil, time.Second)
	client := wsPair(t, hub, "c1")
	client.Close()

	// The write may need a moment to observe the closed peer.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		err := hub.Send(context.Background(), "c1", []byte("x"))
		if errors.Is(err, transport.ErrGone) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("send to closed peer never reported gone")
}

func TestDetachRemovesOnlyCurrentSocket(t *testing.T) {
	hub := NewHub(nil, time.Second)
	first := wsPair(t, hub, "c1")
	_ = first
	if hub.Len() != 1 {
		t.Fatalf("len: %d", hub.Len())
	}
	// Replacing under the same id closes the previous socket.
	_ = wsPair(t, hub, "c1")
	if hub.Len() != 1 {
		t.Fatalf("len after replace: %d", hub.Len())
	}
	hub.Detach("c1", nil) // not the bound socket: no-op
	if hub.Len() != 1 {
		t.Fatalf("detach of foreign socket removed binding")
	}
}
