package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ColorTag is a display-only color assigned to a player.
type ColorTag string

const (
	ColorNone   ColorTag = "none"
	ColorRed    ColorTag = "red"
	ColorBlue   ColorTag = "blue"
	ColorGreen  ColorTag = "green"
	ColorYellow ColorTag = "yellow"
	ColorPurple ColorTag = "purple"
)

// validColors holds every color tag a player may carry.
var validColors = map[ColorTag]bool{
	ColorNone:   true,
	ColorRed:    true,
	ColorBlue:   true,
	ColorGreen:  true,
	ColorYellow: true,
	ColorPurple: true,
}

// Player is a participant in the scorekeeper.
//
// Name is the unique, case-sensitive key used for duplicate detection and
// default sorting. ID is empty only for a player that exists locally and has
// never been confirmed by the remote store.
type Player struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	ColorTag  ColorTag  `json:"color_tag,omitempty"`
}

// Validate checks that the player has usable field values.
func (p *Player) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(p.Name) > 100 {
		return fmt.Errorf("name must be 100 characters or less (got %d)", len(p.Name))
	}
	if p.ColorTag != "" && !validColors[p.ColorTag] {
		return fmt.Errorf("unknown color tag %q", p.ColorTag)
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// SetDefaults fills optional fields that were omitted.
func (p *Player) SetDefaults() {
	if p.ColorTag == "" {
		p.ColorTag = ColorNone
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
}

// NewLocalID returns a client-generated identifier for an entity or
// operation created before the remote store has seen it.
func NewLocalID() string {
	return uuid.NewString()
}
