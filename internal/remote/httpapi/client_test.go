package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"scoresync/internal/remote"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{
		BaseURL: srv.URL,
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client, srv
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected error for missing base URL")
	}
}

func TestGet(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/matches/m1":
			_, _ = w.Write([]byte(`{"id":"m1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	ctx := context.Background()
	col := client.Collection("matches")

	data, err := col.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != `{"id":"m1"}` {
		t.Errorf("Unexpected document: %s", data)
	}

	if _, err := col.Get(ctx, "missing"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpsertAndDelete(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotMethod, gotPath, gotBody = r.Method, r.URL.Path, string(body)
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx := context.Background()
	col := client.Collection("players")

	if err := col.Upsert(ctx, "p1", json.RawMessage(`{"name":"Alice"}`)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/v1/players/p1" || gotBody != `{"name":"Alice"}` {
		t.Errorf("Unexpected request: %s %s %s", gotMethod, gotPath, gotBody)
	}

	if err := col.Delete(ctx, "p1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/v1/players/p1" {
		t.Errorf("Unexpected request: %s %s", gotMethod, gotPath)
	}
}

func TestDeleteMissingIsSuccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	if err := client.Collection("players").Delete(context.Background(), "gone"); err != nil {
		t.Errorf("Delete of missing document should succeed, got %v", err)
	}
}

func TestQueryAndList(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		docs := []remote.Doc{{ID: "r1", Data: json.RawMessage(`{"match_id":"m1"}`)}}
		if r.URL.Query().Get("field") == "match_id" && r.URL.Query().Get("value") != "m1" {
			docs = nil
		}
		_ = json.NewEncoder(w).Encode(docs)
	}))

	ctx := context.Background()
	col := client.Collection("gameRecords")

	docs, err := col.Query(ctx, "match_id", "m1")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "r1" {
		t.Errorf("Unexpected query result: %+v", docs)
	}

	docs, err = col.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("Unexpected list result: %+v", docs)
	}
}

func TestBatch(t *testing.T) {
	var got batchRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/gameRecords/batch" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx := context.Background()
	col := client.Collection("gameRecords")

	if err := col.BatchUpsert(ctx, []remote.Doc{{ID: "r1", Data: json.RawMessage(`{}`)}}); err != nil {
		t.Fatalf("BatchUpsert failed: %v", err)
	}
	if len(got.Upserts) != 1 || got.Upserts[0].ID != "r1" {
		t.Errorf("Unexpected batch body: %+v", got)
	}

	if err := col.BatchDelete(ctx, []string{"r1", "r2"}); err != nil {
		t.Fatalf("BatchDelete failed: %v", err)
	}
	if len(got.Deletes) != 2 {
		t.Errorf("Unexpected batch body: %+v", got)
	}
}

func TestSubscribe(t *testing.T) {
	snap := remote.Snapshot{
		Collection: "matches",
		Docs:       []remote.Doc{{ID: "m1", Data: json.RawMessage(`{"id":"m1"}`)}},
	}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/matches/watch" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		data, _ := json.Marshal(snap)
		_ = conn.Write(r.Context(), websocket.MessageText, data)

		// Hold the connection open until the client goes away.
		_, _, _ = conn.Read(r.Context())
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, stop, err := client.Collection("matches").Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer stop()

	select {
	case got := <-ch:
		if got.Collection != "matches" || len(got.Docs) != 1 || got.Docs[0].ID != "m1" {
			t.Errorf("Unexpected snapshot: %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("No snapshot received")
	}

	// Stopping closes the feed channel.
	stop()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Expected channel closed after stop")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Channel not closed after stop")
	}
}
