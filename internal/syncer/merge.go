package syncer

import (
	"encoding/json"
	"log"
	"sort"

	"scoresync/internal/model"
	"scoresync/internal/oplog"
	"scoresync/internal/remote"
)

// matchPayload is the snapshot stored in a match operation's payload: the
// match plus the game records that ride along with it.
type matchPayload struct {
	Match   model.Match        `json:"match"`
	Records []model.GameRecord `json:"records,omitempty"`
}

// playerPayload is the snapshot stored in a player operation's payload.
type playerPayload struct {
	Player model.Player `json:"player"`
}

// mergeMatches overlays pending local mutations onto a remote snapshot.
//
// The merged view is the remote entities plus, for every pending
// create/update whose target id the snapshot does not contain yet, the
// entity reconstructed from the operation payload. Membership is snapshot
// driven: once the remote snapshot contains the id, the overlay entry simply
// stops being added; there is no explicit removal step. Entities with a pending
// delete are withheld so a deleted match does not flicker back while its
// delete drains.
//
// Corrupt snapshot documents and corrupt payloads are skipped per item.
func mergeMatches(docs []remote.Doc, pending []*oplog.Operation, logger *log.Logger) []model.Match {
	deleted := make(map[string]bool)
	for _, op := range pending {
		if op.Type == oplog.TypeDeleteMatch {
			deleted[op.LocalID] = true
		}
	}

	seen := make(map[string]bool)
	var matches []model.Match

	for _, doc := range docs {
		var m model.Match
		if err := json.Unmarshal(doc.Data, &m); err != nil {
			logger.Printf("Warning: skipping corrupt remote match %s: %v", doc.ID, err)
			continue
		}
		if m.ID == "" {
			m.ID = doc.ID
		}
		if deleted[m.ID] {
			continue
		}
		seen[m.ID] = true
		matches = append(matches, m)
	}

	for _, op := range pending {
		if op.Type != oplog.TypeCreateMatch && op.Type != oplog.TypeUpdateMatch {
			continue
		}
		if seen[op.LocalID] || deleted[op.LocalID] {
			continue
		}

		var p matchPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			logger.Printf("Warning: skipping unreadable payload for operation %s: %v", op.ID, err)
			continue
		}
		seen[op.LocalID] = true
		matches = append(matches, p.Match)
	}

	// Newest session first, the order history screens render in.
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].StartedAt.After(matches[j].StartedAt)
	})
	return matches
}

// mergePlayers is the player-collection counterpart of mergeMatches.
func mergePlayers(docs []remote.Doc, pending []*oplog.Operation, logger *log.Logger) []model.Player {
	deleted := make(map[string]bool)
	for _, op := range pending {
		if op.Type == oplog.TypeDeletePlayer {
			deleted[op.LocalID] = true
		}
	}

	seen := make(map[string]bool)
	var players []model.Player

	for _, doc := range docs {
		var p model.Player
		if err := json.Unmarshal(doc.Data, &p); err != nil {
			logger.Printf("Warning: skipping corrupt remote player %s: %v", doc.ID, err)
			continue
		}
		if p.ID == "" {
			p.ID = doc.ID
		}
		if deleted[p.ID] {
			continue
		}
		seen[p.ID] = true
		players = append(players, p)
	}

	for _, op := range pending {
		if op.Type != oplog.TypeCreatePlayer && op.Type != oplog.TypeUpdatePlayer {
			continue
		}
		if seen[op.LocalID] || deleted[op.LocalID] {
			continue
		}

		var p playerPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			logger.Printf("Warning: skipping unreadable payload for operation %s: %v", op.ID, err)
			continue
		}
		seen[op.LocalID] = true
		players = append(players, p.Player)
	}

	// Name is the unique key and the default sort.
	sort.Slice(players, func(i, j int) bool {
		return players[i].Name < players[j].Name
	})
	return players
}
