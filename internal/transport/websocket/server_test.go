package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestHub(t *testing.T, hub *Hub, actorID string) (*websocket.Conn, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, actorID)
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}

	return conn, srv
}

func connectionCount(hub *Hub, actorID string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections[actorID])
}

func waitForCount(t *testing.T, hub *Hub, actorID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if connectionCount(hub, actorID) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("actor %s: want %d connections, have %d", actorID, want, connectionCount(hub, actorID))
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn, srv := dialTestHub(t, hub, "officer-1")
	defer srv.Close()

	waitForCount(t, hub, "officer-1", 1)

	conn.Close()
	waitForCount(t, hub, "officer-1", 0)
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn, srv := dialTestHub(t, hub, "officer-1")
	defer srv.Close()
	defer conn.Close()

	waitForCount(t, hub, "officer-1", 1)

	hub.Broadcast("officer-1", &Message{
		Type:    "ledger_event",
		Channel: "assessments",
		Data:    map[string]any{"sequence": 3},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != "ledger_event" {
		t.Errorf("type = %q, want ledger_event", got.Type)
	}
	if got.ActorID != "officer-1" {
		t.Errorf("actor = %q, want officer-1", got.ActorID)
	}
}

func TestHub_MultipleConnectionsSameActor(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn1, srv1 := dialTestHub(t, hub, "officer-1")
	defer srv1.Close()
	defer conn1.Close()
	conn2, srv2 := dialTestHub(t, hub, "officer-1")
	defer srv2.Close()
	defer conn2.Close()

	waitForCount(t, hub, "officer-1", 2)

	hub.Broadcast("officer-1", &Message{Type: "export_complete", Data: "ok"})

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got Message
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("conn %d read: %v", i+1, err)
		}
		if got.Type != "export_complete" {
			t.Errorf("conn %d type = %q, want export_complete", i+1, got.Type)
		}
	}
}

func TestHub_BroadcastTargetsSingleActor(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn1, srv1 := dialTestHub(t, hub, "officer-1")
	defer srv1.Close()
	defer conn1.Close()
	conn2, srv2 := dialTestHub(t, hub, "auditor-2")
	defer srv2.Close()
	defer conn2.Close()

	waitForCount(t, hub, "officer-1", 1)
	waitForCount(t, hub, "auditor-2", 1)

	hub.Broadcast("officer-1", &Message{Type: "ledger_event", Data: "for officer-1"})

	conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Message
	if err := conn1.ReadJSON(&got); err != nil {
		t.Fatalf("officer-1 read: %v", err)
	}

	conn2.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if err := conn2.ReadJSON(&got); err == nil {
		t.Error("auditor-2 received a message addressed to officer-1")
	}
}

func TestHub_ShutdownClosesConnections(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	conn, srv := dialTestHub(t, hub, "officer-1")
	defer srv.Close()
	defer conn.Close()

	waitForCount(t, hub, "officer-1", 1)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Error("expected read error after hub shutdown")
	}
}
