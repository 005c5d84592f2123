package character

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	minAbilityScore = 5
	maxAbilityScore = 20
)

// Generate rolls a new level 1 character. Each ability is uniform in [5,20].
func Generate(name, description string, rng *rand.Rand) (Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Record{}, fmt.Errorf("character name is required")
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	roll := func() int {
		return minAbilityScore + rng.IntN(maxAbilityScore-minAbilityScore+1)
	}
	abilities := Abilities{
		Strength:     roll(),
		Dexterity:    roll(),
		Constitution: roll(),
		Intelligence: roll(),
		Wisdom:       roll(),
		Charisma:     roll(),
	}

	return Record{
		Name:        cases.Title(language.English).String(name),
		Description: strings.TrimSpace(description),
		Level:       1,
		Experience:  0,
		HitPoints:   StartingHitPoints(abilities.Constitution),
		Abilities:   abilities,
	}, nil
}
