package delta

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantDelta     StateDelta
		wantNarrative string
		wantErr       error
	}{
		{
			name:          "summary on its own line",
			input:         "The goblin falls.\n{\"xp_gained\": 10, \"hp_change\": -3}",
			wantDelta:     StateDelta{XPGained: 10, HPChange: -3},
			wantNarrative: "The goblin falls.",
		},
		{
			name:          "summary inline with trailing whitespace",
			input:         "You rest by the fire. {\"xp_gained\": 0, \"hp_change\": 4}  \n\n",
			wantDelta:     StateDelta{HPChange: 4},
			wantNarrative: "You rest by the fire.",
		},
		{
			name:          "multi-line summary",
			input:         "A trap springs!\n\n{\n  \"xp_gained\": 5,\n  \"hp_change\": -2\n}",
			wantDelta:     StateDelta{XPGained: 5, HPChange: -2},
			wantNarrative: "A trap springs!",
		},
		{
			name:          "fenced summary",
			input:         "The door opens.\n```json\n{\"xp_gained\": 1, \"hp_change\": 0}\n```",
			wantDelta:     StateDelta{XPGained: 1},
			wantNarrative: "The door opens.",
		},
		{
			name:          "dangling json label",
			input:         "You find a coin.\njson\n{\"xp_gained\": 2, \"hp_change\": 0}",
			wantDelta:     StateDelta{XPGained: 2},
			wantNarrative: "You find a coin.",
		},
		{
			name:          "explicit plus sign",
			input:         "You drink the potion. {\"xp_gained\": 0, \"hp_change\": +5}",
			wantDelta:     StateDelta{HPChange: 5},
			wantNarrative: "You drink the potion.",
		},
		{
			name:          "quoted integers and integral floats",
			input:         "Victory. {\"xp_gained\": \"15\", \"hp_change\": -1.0}",
			wantDelta:     StateDelta{XPGained: 15, HPChange: -1},
			wantNarrative: "Victory.",
		},
		{
			name:          "single field present",
			input:         "Ouch. {\"hp_change\": -4}",
			wantDelta:     StateDelta{HPChange: -4},
			wantNarrative: "Ouch.",
		},
		{
			name:          "earlier braces in prose are kept",
			input:         "The rune reads {fire}. You step back.\n{\"xp_gained\": 3, \"hp_change\": 0}",
			wantDelta:     StateDelta{XPGained: 3},
			wantNarrative: "The rune reads {fire}. You step back.",
		},
		{
			name:          "only the last object counts",
			input:         "{\"xp_gained\": 99, \"hp_change\": 99}\nLater...\n{\"xp_gained\": 1, \"hp_change\": -1}",
			wantDelta:     StateDelta{XPGained: 1, HPChange: -1},
			wantNarrative: "{\"xp_gained\": 99, \"hp_change\": 99}\nLater...",
		},
		{
			name:          "whole response is the summary",
			input:         "{\"xp_gained\": 7, \"hp_change\": 0}",
			wantDelta:     StateDelta{XPGained: 7},
			wantNarrative: "",
		},
		{
			name:          "no summary",
			input:         "The tavern is quiet tonight.",
			wantNarrative: "The tavern is quiet tonight.",
			wantErr:       ErrNoSummary,
		},
		{
			name:          "object not at the end",
			input:         "{\"xp_gained\": 5, \"hp_change\": 0} and then the story continues",
			wantNarrative: "{\"xp_gained\": 5, \"hp_change\": 0} and then the story continues",
			wantErr:       ErrNoSummary,
		},
		{
			name:          "unrelated object",
			input:         "The note says {\"gold\": 5}",
			wantNarrative: "The note says {\"gold\": 5}",
			wantErr:       ErrNoSummary,
		},
		{
			name:          "truncated object",
			input:         "The dragon roars. {\"xp_gained\": 10, \"hp_change\": }",
			wantNarrative: "The dragon roars. {\"xp_gained\": 10, \"hp_change\": }",
			wantErr:       ErrMalformedSummary,
		},
		{
			name:          "non-integer value",
			input:         "Hmm. {\"xp_gained\": \"lots\", \"hp_change\": 0}",
			wantNarrative: "Hmm. {\"xp_gained\": \"lots\", \"hp_change\": 0}",
			wantErr:       ErrMalformedSummary,
		},
		{
			name:          "fractional value",
			input:         "Hmm. {\"xp_gained\": 2.5, \"hp_change\": 0}",
			wantNarrative: "Hmm. {\"xp_gained\": 2.5, \"hp_change\": 0}",
			wantErr:       ErrMalformedSummary,
		},
		{
			name:          "integer beyond int32",
			input:         "You drink the potion. {\"xp_gained\": 0, \"hp_change\": 9223372036854775800}",
			wantNarrative: "You drink the potion. {\"xp_gained\": 0, \"hp_change\": 9223372036854775800}",
			wantErr:       ErrMalformedSummary,
		},
		{
			name:          "quoted integer beyond int32",
			input:         "Hmm. {\"xp_gained\": \"-2147483648\", \"hp_change\": 0}",
			wantNarrative: "Hmm. {\"xp_gained\": \"-2147483648\", \"hp_change\": 0}",
			wantErr:       ErrMalformedSummary,
		},
		{
			name:          "largest accepted magnitude",
			input:         "Legend. {\"xp_gained\": 2147483647, \"hp_change\": -2147483647}",
			wantDelta:     StateDelta{XPGained: 2147483647, HPChange: -2147483647},
			wantNarrative: "Legend.",
		},
		{
			name:          "null value",
			input:         "Hmm. {\"xp_gained\": null, \"hp_change\": 0}",
			wantNarrative: "Hmm. {\"xp_gained\": null, \"hp_change\": 0}",
			wantErr:       ErrMalformedSummary,
		},
		{
			name:          "empty text",
			input:         "",
			wantNarrative: "",
			wantErr:       ErrNoSummary,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, narrative, err := Parse(tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantDelta, d)
			assert.Equal(t, tt.wantNarrative, narrative)
		})
	}
}

func TestExtract_NeverStripsWithoutSummary(t *testing.T) {
	e := NewExtractor(slog.New(slog.NewTextHandler(io.Discard, nil)))

	inputs := []string{
		"",
		"   ",
		"Plain prose.",
		"Ends with a brace }",
		"{ not json at all }",
		"Dialogue: \"{\"",
		"```\nsome code\n```",
		"{\"name\": \"Bob\"}",
	}
	for _, in := range inputs {
		res := e.Extract(in)
		assert.Equal(t, StateDelta{}, res.Delta, "input %q", in)
		assert.Equal(t, in, res.Narrative, "input %q", in)
		assert.False(t, res.Found)
		assert.Error(t, res.Err)
	}
}

func TestExtract_RoundTripsIntegers(t *testing.T) {
	e := NewExtractor(nil)

	for _, x := range []int{-100, -1, 0, 1, 25, 1000} {
		for _, y := range []int{-50, -1, 0, 1, 9} {
			prose := "The corridor bends left."
			in := prose + fmt.Sprintf(" {\"xp_gained\": %d, \"hp_change\": %d}", x, y)

			res := e.Extract(in)
			assert.True(t, res.Found)
			assert.NoError(t, res.Err)
			assert.Equal(t, StateDelta{XPGained: x, HPChange: y}, res.Delta)
			assert.Equal(t, prose, res.Narrative)
		}
	}
}

func TestStateDelta_IsZero(t *testing.T) {
	assert.True(t, StateDelta{}.IsZero())
	assert.False(t, StateDelta{XPGained: 1}.IsZero())
	assert.False(t, StateDelta{HPChange: -1}.IsZero())
}
