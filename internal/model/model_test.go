package model

import (
	"testing"
	"time"
)

func validMatch() Match {
	return Match{
		ID:          "match-1",
		StartedAt:   time.Now(),
		PlayerIDs:   [PlayerCount]string{"p1", "p2", "p3"},
		PlayerNames: [PlayerCount]string{"Alice", "Bob", "Carol"},
		TotalGames:  4,
	}
}

func validRecord() GameRecord {
	return GameRecord{
		ID:        "rec-1",
		MatchID:   "match-1",
		GameIndex: 0,
		Bids:      [PlayerCount]int{3, 0, 0},
		Scores:    [PlayerCount]int{12, -6, -6},
		Landlord:  0,
	}
}

func TestPlayerValidate(t *testing.T) {
	longName := make([]byte, 101)
	for i := range longName {
		longName[i] = 'a'
	}

	tests := []struct {
		name    string
		player  Player
		wantErr bool
	}{
		{
			name:    "valid",
			player:  Player{Name: "Alice", CreatedAt: time.Now(), ColorTag: ColorRed},
			wantErr: false,
		},
		{
			name:    "valid without color",
			player:  Player{Name: "Bob", CreatedAt: time.Now()},
			wantErr: false,
		},
		{
			name:    "missing name",
			player:  Player{CreatedAt: time.Now()},
			wantErr: true,
		},
		{
			name:    "name too long",
			player:  Player{Name: string(longName), CreatedAt: time.Now()},
			wantErr: true,
		},
		{
			name:    "unknown color",
			player:  Player{Name: "Carol", CreatedAt: time.Now(), ColorTag: "magenta"},
			wantErr: true,
		},
		{
			name:    "missing created_at",
			player:  Player{Name: "Dave"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.player.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlayerSetDefaults(t *testing.T) {
	p := Player{Name: "Alice"}
	p.SetDefaults()

	if p.ColorTag != ColorNone {
		t.Errorf("Expected default color %s, got %s", ColorNone, p.ColorTag)
	}
	if p.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Defaulted player should validate: %v", err)
	}
}

func TestMatchValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Match)
		wantErr bool
	}{
		{name: "valid", mutate: func(m *Match) {}, wantErr: false},
		{name: "missing id", mutate: func(m *Match) { m.ID = "" }, wantErr: true},
		{name: "missing started_at", mutate: func(m *Match) { m.StartedAt = time.Time{} }, wantErr: true},
		{name: "starter out of range", mutate: func(m *Match) { m.InitialStarter = 3 }, wantErr: true},
		{name: "negative starter", mutate: func(m *Match) { m.InitialStarter = -1 }, wantErr: true},
		{name: "missing player name", mutate: func(m *Match) { m.PlayerNames[1] = "" }, wantErr: true},
		{name: "negative total games", mutate: func(m *Match) { m.TotalGames = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMatch()
			tt.mutate(&m)
			err := m.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatchSetDefaultsGeneratesID(t *testing.T) {
	m := Match{PlayerNames: [PlayerCount]string{"A", "B", "C"}}
	m.SetDefaults()

	if m.ID == "" {
		t.Fatal("Expected SetDefaults to generate an id")
	}
	if m.StartedAt.IsZero() {
		t.Error("Expected SetDefaults to stamp StartedAt")
	}

	// The generated id must survive as-is: it becomes the remote key.
	id := m.ID
	m.SetDefaults()
	if m.ID != id {
		t.Errorf("SetDefaults regenerated id: %s -> %s", id, m.ID)
	}
}

func TestMatchFinalized(t *testing.T) {
	m := validMatch()
	if m.Finalized() {
		t.Error("Match without EndedAt should not be finalized")
	}

	now := time.Now()
	m.EndedAt = &now
	if !m.Finalized() {
		t.Error("Match with EndedAt should be finalized")
	}
}

func TestGameRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*GameRecord)
		wantErr bool
	}{
		{name: "valid", mutate: func(r *GameRecord) {}, wantErr: false},
		{name: "missing id", mutate: func(r *GameRecord) { r.ID = "" }, wantErr: true},
		{name: "missing match id", mutate: func(r *GameRecord) { r.MatchID = "" }, wantErr: true},
		{name: "negative game index", mutate: func(r *GameRecord) { r.GameIndex = -1 }, wantErr: true},
		{name: "landlord out of range", mutate: func(r *GameRecord) { r.Landlord = 3 }, wantErr: true},
		{name: "first bidder out of range", mutate: func(r *GameRecord) { r.FirstBidder = -1 }, wantErr: true},
		{name: "negative bombs", mutate: func(r *GameRecord) { r.Bombs = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(&r)
			err := r.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewLocalIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewLocalID()
		if id == "" {
			t.Fatal("NewLocalID returned empty string")
		}
		if seen[id] {
			t.Fatalf("NewLocalID returned duplicate %s", id)
		}
		seen[id] = true
	}
}
