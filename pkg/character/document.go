package character

import (
	"fmt"

	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
)

// Trait names, in document order.
const (
	TraitLevel        = "level"
	TraitExperience   = "experience"
	TraitHitPoints    = "hit point"
	TraitStrength     = "strength"
	TraitDexterity    = "dexterity"
	TraitConstitution = "constitution"
	TraitIntelligence = "intelligence"
	TraitWisdom       = "wisdom"
	TraitCharisma     = "charisma"
	TraitAdventureLog = "adventure log"
)

// Document renders the full record as token metadata.
func (r Record) Document() *metadata.Document {
	attrs := []metadata.Trait{
		{TraitType: TraitLevel, Value: r.Level},
		{TraitType: TraitExperience, Value: r.Experience},
		{TraitType: TraitHitPoints, Value: r.HitPoints},
		{TraitType: TraitStrength, Value: r.Abilities.Strength},
		{TraitType: TraitDexterity, Value: r.Abilities.Dexterity},
		{TraitType: TraitConstitution, Value: r.Abilities.Constitution},
		{TraitType: TraitIntelligence, Value: r.Abilities.Intelligence},
		{TraitType: TraitWisdom, Value: r.Abilities.Wisdom},
		{TraitType: TraitCharisma, Value: r.Abilities.Charisma},
	}
	if r.AdventureLog != "" {
		attrs = append(attrs, metadata.Trait{TraitType: TraitAdventureLog, Value: r.AdventureLog})
	}

	return &metadata.Document{
		Name:        r.Name,
		Description: r.Description,
		Image:       r.ImageRef,
		Attributes:  attrs,
	}
}

// RecordFromDocument rebuilds a record from a fetched document.
func RecordFromDocument(id ledger.TokenID, ref metadata.Ref, doc *metadata.Document) (Record, error) {
	if doc == nil {
		return Record{}, fmt.Errorf("document cannot be nil")
	}
	if err := doc.Validate(); err != nil {
		return Record{}, err
	}

	r := Record{
		TokenID:      id,
		Name:         doc.Name,
		Description:  doc.Description,
		ImageRef:     doc.Image,
		AdventureLog: doc.StringTrait(TraitAdventureLog),
		MetadataRef:  ref,
	}

	fields := []struct {
		trait string
		dst   *int
	}{
		{TraitLevel, &r.Level},
		{TraitExperience, &r.Experience},
		{TraitHitPoints, &r.HitPoints},
		{TraitStrength, &r.Abilities.Strength},
		{TraitDexterity, &r.Abilities.Dexterity},
		{TraitConstitution, &r.Abilities.Constitution},
		{TraitIntelligence, &r.Abilities.Intelligence},
		{TraitWisdom, &r.Abilities.Wisdom},
		{TraitCharisma, &r.Abilities.Charisma},
	}
	for _, f := range fields {
		v, err := doc.IntTrait(f.trait)
		if err != nil {
			return Record{}, fmt.Errorf("token %s: %w", id, err)
		}
		*f.dst = v
	}

	return r, nil
}

// WithProgress returns the record with the ledger's level and experience.
func (r Record) WithProgress(p ledger.Progress) Record {
	r.Level = p.Level
	r.Experience = p.Experience
	return r
}
