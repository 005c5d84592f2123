// Package reconcile applies a turn's state delta to a character record and
// decides which external writes the change requires.
package reconcile

import (
	"math"
	"strings"

	"github.com/jwebster45206/dungeon-ledger/pkg/character"
	"github.com/jwebster45206/dungeon-ledger/pkg/delta"
	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
)

// EffectKind names one external write.
type EffectKind string

const (
	EffectApplyXP         EffectKind = "apply_xp"
	EffectPublishMetadata EffectKind = "publish_metadata"
	EffectBurn            EffectKind = "burn"
)

// Effect is a single required write. Amount is set for EffectApplyXP.
type Effect struct {
	Kind   EffectKind `json:"kind"`
	Amount int        `json:"amount,omitempty"`
}

// Plan is the ordered list of writes for one turn.
type Plan struct {
	Effects []Effect `json:"effects"`

	// Died is set when this delta killed the character.
	Died bool `json:"died,omitempty"`
	// DiscardedXP is experience reported by the narrator that was not queued:
	// gains lost to death and negative amounts, which the ledger cannot apply.
	DiscardedXP int `json:"discarded_xp,omitempty"`
}

// IsEmpty reports whether the plan requires no I/O.
func (p Plan) IsEmpty() bool {
	return len(p.Effects) == 0
}

// Has reports whether an effect of kind is queued.
func (p Plan) Has(kind EffectKind) bool {
	for _, e := range p.Effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func (p Plan) String() string {
	if p.IsEmpty() {
		return "none"
	}
	names := make([]string, len(p.Effects))
	for i, e := range p.Effects {
		names[i] = string(e.Kind)
	}
	return strings.Join(names, ",")
}

// Reconcile applies d to rec. It is pure: rec is passed by value and the
// updated copy is returned alongside the plan.
//
// A dead character ignores every delta. A lethal hit point change queues only
// the burn; experience reported in the same delta is dropped. Otherwise a
// positive experience gain queues a ledger write, and any applied change
// queues a metadata publish. A negative experience value is reported in
// DiscardedXP and queues nothing by itself, since the ledger only adds
// experience and the record is unchanged. Level and experience are left
// untouched; they come back from the ledger (see Refresh).
func Reconcile(rec character.Record, d delta.StateDelta) (character.Record, Plan) {
	if !rec.IsAlive() || rec.Burned {
		return rec, Plan{}
	}

	var plan Plan
	rec.HitPoints = addHitPoints(rec.HitPoints, d.HPChange)

	if !rec.IsAlive() {
		plan.Died = true
		plan.DiscardedXP = d.XPGained
		plan.Effects = []Effect{{Kind: EffectBurn}}
		return rec, plan
	}

	xpQueued := false
	switch {
	case d.XPGained > 0:
		plan.Effects = append(plan.Effects, Effect{Kind: EffectApplyXP, Amount: d.XPGained})
		xpQueued = true
	case d.XPGained < 0:
		plan.DiscardedXP = d.XPGained
	}

	if d.HPChange != 0 || xpQueued {
		plan.Effects = append(plan.Effects, Effect{Kind: EffectPublishMetadata})
	}

	return rec, plan
}

// addHitPoints saturates instead of wrapping, so a huge heal can never read
// as death.
func addHitPoints(hp, change int) int {
	switch {
	case change > 0 && hp > math.MaxInt-change:
		return math.MaxInt
	case change < 0 && hp < math.MinInt-change:
		return math.MinInt
	}
	return hp + change
}

// Refresh overwrites the record's level and experience with the ledger's
// canonical values after a successful experience write.
func Refresh(rec character.Record, p ledger.Progress) character.Record {
	return rec.WithProgress(p)
}
