package model

import (
	"fmt"
)

// GameRecord is one round inside a match.
//
// Records are created in a batch alongside their match and never mutated
// individually outside a whole-match edit; they are deleted only when the
// owning match is deleted.
//
// MatchID must always equal the owning match's ID. The store repairs any
// record that disagrees before caching it (see store.CacheGameRecords).
type GameRecord struct {
	ID      string `json:"id"`
	MatchID string `json:"match_id"`

	// GameIndex is the 0-based position of this round within the match.
	GameIndex int `json:"game_index"`

	Bids    [PlayerCount]int  `json:"bids"`
	Doubles [PlayerCount]bool `json:"doubles"`
	Scores  [PlayerCount]int  `json:"scores"`

	// Landlord is the seat (0..2) that won the bid this round.
	Landlord int `json:"landlord"`

	Bombs  int  `json:"bombs"`
	Spring bool `json:"spring,omitempty"`

	// FirstBidder is derived from InitialStarter and GameIndex but stored,
	// so a cached record renders without consulting the match.
	FirstBidder int `json:"first_bidder"`
}

// Validate checks that the record has usable field values.
func (r *GameRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.MatchID == "" {
		return fmt.Errorf("match_id is required")
	}
	if r.GameIndex < 0 {
		return fmt.Errorf("game_index must not be negative (got %d)", r.GameIndex)
	}
	if r.Landlord < 0 || r.Landlord >= PlayerCount {
		return fmt.Errorf("landlord must be between 0 and %d (got %d)", PlayerCount-1, r.Landlord)
	}
	if r.FirstBidder < 0 || r.FirstBidder >= PlayerCount {
		return fmt.Errorf("first_bidder must be between 0 and %d (got %d)", PlayerCount-1, r.FirstBidder)
	}
	if r.Bombs < 0 {
		return fmt.Errorf("bombs must not be negative (got %d)", r.Bombs)
	}
	return nil
}

// SetDefaults fills optional fields that were omitted.
func (r *GameRecord) SetDefaults() {
	if r.ID == "" {
		r.ID = NewLocalID()
	}
}
