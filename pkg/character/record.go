// Package character holds the live character record and its mapping to the
// token metadata document.
package character

import (
	"fmt"

	"github.com/jwebster45206/d20"
	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
)

// Abilities are the six core ability scores. Immutable after creation.
type Abilities struct {
	Strength     int `json:"strength"`
	Dexterity    int `json:"dexterity"`
	Constitution int `json:"constitution"`
	Intelligence int `json:"intelligence"`
	Wisdom       int `json:"wisdom"`
	Charisma     int `json:"charisma"`
}

// ToAttributes converts Abilities to a map for d20.Actor compatibility
func (a Abilities) ToAttributes() map[string]int {
	return map[string]int{
		"strength":     a.Strength,
		"dexterity":    a.Dexterity,
		"constitution": a.Constitution,
		"intelligence": a.Intelligence,
		"wisdom":       a.Wisdom,
		"charisma":     a.Charisma,
	}
}

// Modifier is the standard ability modifier, floor((score-10)/2).
func Modifier(score int) int {
	return floorDiv(score-10, 2)
}

// StartingHitPoints is the hit point total of a freshly created character.
func StartingHitPoints(constitution int) int {
	return 10 + floorDiv(constitution-5, 2)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Record is the in-memory snapshot of one character's mutable state.
// It is a plain value; copying it yields an independent record.
type Record struct {
	TokenID     ledger.TokenID `json:"token_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ImageRef    string         `json:"image,omitempty"`

	// Level and Experience mirror the ledger. They are overwritten with the
	// ledger's values after every experience write.
	Level      int `json:"level"`
	Experience int `json:"experience"`

	// HitPoints live only in the metadata document. Zero or below is death.
	HitPoints int `json:"hit_points"`

	Abilities    Abilities    `json:"abilities"`
	AdventureLog string       `json:"adventure_log,omitempty"`
	MetadataRef  metadata.Ref `json:"metadata_ref"`

	// Burned is set once the ledger has accepted the burn.
	Burned bool `json:"burned,omitempty"`
}

// IsAlive reports whether the character still has hit points.
func (r Record) IsAlive() bool {
	return r.HitPoints > 0
}

// ArmorClass is 10 plus the dexterity modifier.
func (r Record) ArmorClass() int {
	return 10 + Modifier(r.Abilities.Dexterity)
}

// Actor builds a d20 actor from the record, used for the character sheet.
// MaxHP is the larger of the starting and current hit points since healing
// is not capped.
func (r Record) Actor() (*d20.Actor, error) {
	maxHP := max(StartingHitPoints(r.Abilities.Constitution), r.HitPoints, 1)

	actor, err := d20.NewActor(r.TokenID.String()).
		WithHP(maxHP).
		WithAC(r.ArmorClass()).
		WithAttributes(r.Abilities.ToAttributes()).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build actor: %w", err)
	}

	if r.HitPoints != maxHP && r.HitPoints > 0 {
		if err := actor.SetHP(r.HitPoints); err != nil {
			return nil, fmt.Errorf("failed to set HP: %w", err)
		}
	}
	return actor, nil
}

// Validate checks the record's structural invariants.
func (r Record) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.Level < 1 {
		return fmt.Errorf("level must be at least 1, got %d", r.Level)
	}
	if r.Experience < 0 {
		return fmt.Errorf("experience cannot be negative, got %d", r.Experience)
	}
	return nil
}
