package main

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/dungeon-ledger/pkg/character"
	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/muesli/reflow/wordwrap"
)

// renderSheet formats a character for the side panel and the /sheet command.
func renderSheet(rec character.Record, width int) string {
	if width < 20 {
		width = 20
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(strings.ToUpper(rec.Name)) + "\n\n")

	fmt.Fprintf(&b, "Token:  #%s\n", rec.TokenID)
	fmt.Fprintf(&b, "Level:  %d\n", rec.Level)
	fmt.Fprintf(&b, "XP:     %d / %d\n", rec.Experience, ledger.LevelThreshold(rec.Level))

	// The d20 actor gives the derived numbers: max HP and armor class.
	if actor, err := rec.Actor(); err == nil {
		fmt.Fprintf(&b, "HP:     %d / %d\n", rec.HitPoints, actor.MaxHP())
		fmt.Fprintf(&b, "AC:     %d\n", actor.AC())
	} else {
		fmt.Fprintf(&b, "HP:     %d\n", rec.HitPoints)
	}
	if !rec.IsAlive() || rec.Burned {
		b.WriteString(errorStyle.Render("DEAD") + "\n")
	}
	b.WriteString("\n")

	a := rec.Abilities
	fmt.Fprintf(&b, "STR %2d   DEX %2d\n", a.Strength, a.Dexterity)
	fmt.Fprintf(&b, "CON %2d   INT %2d\n", a.Constitution, a.Intelligence)
	fmt.Fprintf(&b, "WIS %2d   CHA %2d\n\n", a.Wisdom, a.Charisma)

	if rec.Description != "" {
		b.WriteString(wordwrap.String(rec.Description, width) + "\n\n")
	}
	if rec.AdventureLog != "" {
		b.WriteString("Adventure log:\n")
		b.WriteString(wordwrap.String(rec.AdventureLog, width) + "\n\n")
	}
	b.WriteString(promptStyle.Render(wordwrap.String("Sheet: "+rec.MetadataRef.String(), width)) + "\n")
	return b.String()
}

// summaryLine is one row of the menu's character list.
func summaryLine(i int, rec character.Record) string {
	return fmt.Sprintf("  %d - %s (token #%s, level %d, %d XP, %d HP)",
		i, rec.Name, rec.TokenID, rec.Level, rec.Experience, rec.HitPoints)
}
