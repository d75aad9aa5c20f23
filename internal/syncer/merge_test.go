package syncer

import (
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"scoresync/internal/model"
	"scoresync/internal/oplog"
	"scoresync/internal/remote"
)

var discard = log.New(io.Discard, "", 0)

func matchDoc(t *testing.T, id string, startedAt time.Time) remote.Doc {
	t.Helper()
	data, err := json.Marshal(model.Match{
		ID:          id,
		StartedAt:   startedAt,
		PlayerNames: [model.PlayerCount]string{"A", "B", "C"},
	})
	if err != nil {
		t.Fatalf("Failed to marshal match: %v", err)
	}
	return remote.Doc{ID: id, Data: data}
}

func pendingMatchOp(t *testing.T, typ oplog.Type, id string, startedAt time.Time) *oplog.Operation {
	t.Helper()
	payload, err := json.Marshal(matchPayload{Match: model.Match{
		ID:          id,
		StartedAt:   startedAt,
		PlayerNames: [model.PlayerCount]string{"A", "B", "C"},
	}})
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	return &oplog.Operation{ID: "op-" + id, Type: typ, Payload: payload, LocalID: id}
}

func TestMergeMatchesOverlaysPendingCreate(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	docs := []remote.Doc{matchDoc(t, "remote-1", base)}
	pending := []*oplog.Operation{
		pendingMatchOp(t, oplog.TypeCreateMatch, "local-1", base.Add(time.Hour)),
	}

	merged := mergeMatches(docs, pending, discard)
	if len(merged) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(merged))
	}
	// Newest first: the pending local match started later.
	if merged[0].ID != "local-1" || merged[1].ID != "remote-1" {
		t.Errorf("Unexpected order: %s, %s", merged[0].ID, merged[1].ID)
	}
}

func TestMergeMatchesSnapshotWinsOverPending(t *testing.T) {
	base := time.Now()

	// The snapshot now contains the id a pending op targets: the upload
	// landed, so the overlay entry simply stops being added.
	docs := []remote.Doc{matchDoc(t, "m1", base)}
	pending := []*oplog.Operation{
		pendingMatchOp(t, oplog.TypeCreateMatch, "m1", base),
	}

	merged := mergeMatches(docs, pending, discard)
	if len(merged) != 1 {
		t.Errorf("Expected 1 match, got %d", len(merged))
	}
}

func TestMergeMatchesWithholdsPendingDelete(t *testing.T) {
	base := time.Now()

	docs := []remote.Doc{matchDoc(t, "m1", base), matchDoc(t, "m2", base.Add(time.Minute))}
	pending := []*oplog.Operation{
		{ID: "op-del", Type: oplog.TypeDeleteMatch, LocalID: "m1"},
	}

	merged := mergeMatches(docs, pending, discard)
	if len(merged) != 1 || merged[0].ID != "m2" {
		t.Errorf("Expected only m2, got %+v", merged)
	}
}

func TestMergeMatchesSkipsCorruptEntries(t *testing.T) {
	base := time.Now()

	docs := []remote.Doc{
		{ID: "bad", Data: json.RawMessage(`{"started_at":12}`)},
		matchDoc(t, "good", base),
	}
	pending := []*oplog.Operation{
		{ID: "op-bad", Type: oplog.TypeCreateMatch, LocalID: "x", Payload: json.RawMessage(`not json`)},
	}

	merged := mergeMatches(docs, pending, discard)
	if len(merged) != 1 || merged[0].ID != "good" {
		t.Errorf("Expected only the good match, got %+v", merged)
	}
}

func TestMergePlayersSortsByName(t *testing.T) {
	mkDoc := func(id, name string) remote.Doc {
		data, _ := json.Marshal(model.Player{ID: id, Name: name, CreatedAt: time.Now()})
		return remote.Doc{ID: id, Data: data}
	}
	mkOp := func(id, name string) *oplog.Operation {
		payload, _ := json.Marshal(playerPayload{Player: model.Player{ID: id, Name: name, CreatedAt: time.Now()}})
		return &oplog.Operation{ID: "op-" + id, Type: oplog.TypeCreatePlayer, Payload: payload, LocalID: id}
	}

	docs := []remote.Doc{mkDoc("p1", "Carol"), mkDoc("p2", "Alice")}
	pending := []*oplog.Operation{mkOp("p3", "Bob")}

	merged := mergePlayers(docs, pending, discard)
	if len(merged) != 3 {
		t.Fatalf("Expected 3 players, got %d", len(merged))
	}
	for i, want := range []string{"Alice", "Bob", "Carol"} {
		if merged[i].Name != want {
			t.Errorf("Expected %s at position %d, got %s", want, i, merged[i].Name)
		}
	}
}

func TestMergePlayersWithholdsPendingDelete(t *testing.T) {
	data, _ := json.Marshal(model.Player{ID: "p1", Name: "Alice", CreatedAt: time.Now()})
	docs := []remote.Doc{{ID: "p1", Data: data}}
	pending := []*oplog.Operation{
		{ID: "op-del", Type: oplog.TypeDeletePlayer, LocalID: "p1"},
	}

	merged := mergePlayers(docs, pending, discard)
	if len(merged) != 0 {
		t.Errorf("Expected deleted player withheld, got %+v", merged)
	}
}
