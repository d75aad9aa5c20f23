package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"scoresync/internal/syncer"
)

// fakeSource is a StatusSource backed by a settable status.
type fakeSource struct {
	mu     sync.Mutex
	status syncer.Status
	subs   []chan syncer.Status
}

func (f *fakeSource) Status() syncer.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSource) Subscribe() (<-chan syncer.Status, func()) {
	ch := make(chan syncer.Status, 1)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeSource) publish(status syncer.Status) {
	f.mu.Lock()
	f.status = status
	subs := append([]chan syncer.Status(nil), f.subs...)
	f.mu.Unlock()

	for _, ch := range subs {
		ch <- status
	}
}

func startTestServer(t *testing.T, source StatusSource) *Server {
	t.Helper()

	server := NewServer(source, &Config{
		Addr:   "127.0.0.1:0",
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	time.Sleep(50 * time.Millisecond)
	return server
}

func TestServerStartStop(t *testing.T) {
	server := startTestServer(t, &fakeSource{})

	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketWelcomeCarriesCurrentStatus(t *testing.T) {
	source := &fakeSource{status: syncer.Status{State: syncer.StateOffline, PendingOps: 3}}
	server := startTestServer(t, source)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != "status" {
		t.Errorf("Expected status message, got %s", msg.Type)
	}
	if msg.Status.State != syncer.StateOffline || msg.Status.PendingOps != 3 {
		t.Errorf("Welcome status mismatch: %+v", msg.Status)
	}
}

func TestStatusUpdateBroadcast(t *testing.T) {
	source := &fakeSource{}
	server := startTestServer(t, source)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Welcome frame first.
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	source.publish(syncer.Status{State: syncer.StateSyncing, PendingOps: 2, Online: true})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Status.State != syncer.StateSyncing || msg.Status.PendingOps != 2 {
		t.Errorf("Broadcast status mismatch: %+v", msg.Status)
	}
}

func TestStatusEndpoint(t *testing.T) {
	source := &fakeSource{status: syncer.Status{
		State:       syncer.StateIdle,
		Online:      true,
		GameRecords: syncer.RecordsSynced,
	}}
	server := startTestServer(t, source)

	resp, err := http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatalf("Failed to fetch status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["state"] != "idle" {
		t.Errorf("Expected state idle, got %v", body["state"])
	}
	if body["game_records"] != "synced" {
		t.Errorf("Expected game_records synced, got %v", body["game_records"])
	}
	if body["online"] != true {
		t.Errorf("Expected online true, got %v", body["online"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := startTestServer(t, &fakeSource{})

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("Failed to fetch health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected ok, got %v", body["status"])
	}
}

func TestMultipleClients(t *testing.T) {
	server := startTestServer(t, &fakeSource{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	numClients := 3
	for i := 0; i < numClients; i++ {
		conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
		if err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		if _, _, err := conn.Read(ctx); err != nil {
			t.Fatalf("Failed to read welcome for client %d: %v", i, err)
		}
	}

	if count := server.ClientCount(); count != numClients {
		t.Errorf("Expected %d clients, got %d", numClients, count)
	}
}
