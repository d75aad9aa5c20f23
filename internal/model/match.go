package model

import (
	"fmt"
	"time"
)

// PlayerCount is the fixed number of seats in a match.
const PlayerCount = 3

// Match is one scoring session: a sequence of rounds played by three players.
//
// ID is client-generated for matches created offline and is reused, unchanged,
// as the remote document key on upload. It is never regenerated, so a retried
// upload cannot produce a duplicate remote document.
//
// A match is finalized by setting EndedAt and the aggregate fields; after that
// it only changes through corrective edits that re-finalize it.
type Match struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Seat order is positional: index 0..2. Names are cached at match time
	// so a later player rename does not rewrite history.
	PlayerIDs   [PlayerCount]string `json:"player_ids"`
	PlayerNames [PlayerCount]string `json:"player_names"`

	FinalScores [PlayerCount]int `json:"final_scores"`
	MaxScores   [PlayerCount]int `json:"max_scores"`
	MinScores   [PlayerCount]int `json:"min_scores"`

	TotalGames int `json:"total_games"`

	// InitialStarter is the seat (0..2) that bid first in the opening round.
	InitialStarter int `json:"initial_starter"`
}

// Validate checks that the match has usable field values.
func (m *Match) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.StartedAt.IsZero() {
		return fmt.Errorf("started_at is required")
	}
	if m.InitialStarter < 0 || m.InitialStarter >= PlayerCount {
		return fmt.Errorf("initial_starter must be between 0 and %d (got %d)", PlayerCount-1, m.InitialStarter)
	}
	for i, name := range m.PlayerNames {
		if name == "" {
			return fmt.Errorf("player_names[%d] is required", i)
		}
	}
	if m.TotalGames < 0 {
		return fmt.Errorf("total_games must not be negative (got %d)", m.TotalGames)
	}
	return nil
}

// SetDefaults fills optional fields that were omitted.
func (m *Match) SetDefaults() {
	if m.ID == "" {
		m.ID = NewLocalID()
	}
	if m.StartedAt.IsZero() {
		m.StartedAt = time.Now()
	}
}

// Finalized reports whether the match has been closed out.
func (m *Match) Finalized() bool {
	return m.EndedAt != nil
}
