package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"attendance/internal/logger"
)

func startHub(t *testing.T) (*HubService, *httptest.Server) {
	t.Helper()

	hub := NewHubService(logger.NewDiscard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
		defer hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *HubService, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.GetClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", hub.GetClientCount(), want)
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub, server := startHub(t)

	a := dial(t, server)
	b := dial(t, server)
	waitClients(t, hub, 2)

	if !hub.Broadcast([]byte(`{"type":"marked"}`)) {
		t.Fatal("Broadcast() dropped the message")
	}

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if string(msg) != `{"type":"marked"}` {
			t.Errorf("message = %s", msg)
		}
	}
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub, server := startHub(t)

	conn := dial(t, server)
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHubService(logger.NewDiscard())

	// Nobody runs the hub, so the queue fills up.
	delivered := 0
	for i := 0; i < broadcastBuffer+10; i++ {
		if hub.Broadcast([]byte("x")) {
			delivered++
		}
	}
	if delivered != broadcastBuffer {
		t.Fatalf("queued %d messages, want %d", delivered, broadcastBuffer)
	}
}

// ============================================================================
// Priority delivery
// ============================================================================

func TestHub_DeliverOvertakesQueuedFrames(t *testing.T) {
	hub := NewHubService(logger.NewDiscard())

	accepted := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client := dial(t, server)
	select {
	case conn := <-accepted:
		// The hub is not running yet, so the map can be seeded directly.
		hub.clients[conn] = true
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
	}

	for i := 0; i < broadcastBuffer; i++ {
		hub.Broadcast([]byte(`{"type":"frame"}`))
	}
	if hub.Broadcast([]byte(`{"type":"frame"}`)) {
		t.Fatal("Broadcast() should drop once the queue is full")
	}
	if !hub.Deliver([]byte(`{"type":"marked","identity":"E42"}`)) {
		t.Fatal("Deliver() dropped the marked event behind queued frames")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if string(msg) != `{"type":"marked","identity":"E42"}` {
		t.Fatalf("first message = %s, want the marked event", msg)
	}

	frames := 0
	for frames < broadcastBuffer {
		if _, _, err := client.ReadMessage(); err != nil {
			t.Fatalf("ReadMessage() after %d frames error = %v", frames, err)
		}
		frames++
	}
}

func TestHub_DeliverAfterStop(t *testing.T) {
	hub := NewHubService(logger.NewDiscard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	start := time.Now()
	if hub.Deliver([]byte(`{"type":"marked"}`)) {
		t.Fatal("Deliver() on a stopped hub should fail")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Deliver() on a stopped hub took %s", elapsed)
	}
}

func TestHub_DropWarningIsRateLimited(t *testing.T) {
	dir, err := os.MkdirTemp("", "hub-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	l, err := logger.New(dir)
	if err != nil {
		t.Fatalf("logger.New() error = %v", err)
	}
	defer l.Close()

	hub := NewHubService(l)
	for i := 0; i < broadcastBuffer+100; i++ {
		hub.Broadcast([]byte("x"))
	}

	data, err := os.ReadFile(filepath.Join(dir, logger.WarningFile))
	if err != nil {
		t.Fatalf("read warning log: %v", err)
	}
	if n := strings.Count(string(data), "Broadcast queue full"); n != 1 {
		t.Fatalf("queue-full warnings = %d, want 1", n)
	}
}
