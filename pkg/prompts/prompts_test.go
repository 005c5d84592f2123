package prompts

import (
	"strings"
	"testing"

	"github.com/jwebster45206/dungeon-ledger/pkg/character"
	"github.com/jwebster45206/dungeon-ledger/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() character.Record {
	return character.Record{
		Name:        "Aria",
		Description: "A wandering bard",
		Level:       2,
		Experience:  5,
		HitPoints:   12,
		Abilities:   character.Abilities{Strength: 10, Dexterity: 14, Constitution: 15, Intelligence: 12, Wisdom: 8, Charisma: 18},
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(testRecord())

	for _, want := range []string{
		"- Name: Aria",
		"- Level: 2",
		"- Experience: 5",
		"- Hit Points: 12",
		"  - Charisma: 18",
		`{"xp_gained": <integer>, "hp_change": <integer>}`,
	} {
		assert.Contains(t, prompt, want)
	}
	assert.NotContains(t, prompt, "Previously on")
	assert.NotContains(t, prompt, "%!")

	r := testRecord()
	r.AdventureLog = "Aria escaped the crypt."
	assert.Contains(t, BuildSystemPrompt(r), "Previously on this character's adventures: Aria escaped the crypt.")
}

func TestBuilder_Build(t *testing.T) {
	transcript := []chat.ChatMessage{
		{Role: chat.ChatRoleSystem, Content: "system"},
		{Role: chat.ChatRoleAgent, Content: OpeningScene},
		{Role: chat.ChatRoleUser, Content: "I enter."},
		{Role: chat.ChatRoleAgent, Content: "It is dark."},
	}

	msgs, err := New().WithTranscript(transcript).WithUserMessage("I light a torch.").Build()
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	assert.Equal(t, "system", msgs[0].Content)
	assert.Equal(t, OpeningScene, msgs[1].Content)
	assert.Equal(t, chat.ChatRoleSystem, msgs[4].Role)
	assert.Equal(t, CombatRulesPrompt, msgs[4].Content)
	assert.Equal(t, chat.ChatMessage{Role: chat.ChatRoleUser, Content: "I light a torch."}, msgs[5])
}

func TestBuilder_HistoryLimit(t *testing.T) {
	transcript := []chat.ChatMessage{{Role: chat.ChatRoleSystem, Content: "system"}}
	for i := 0; i < 10; i++ {
		transcript = append(transcript, chat.ChatMessage{Role: chat.ChatRoleUser, Content: strings.Repeat("x", i+1)})
	}

	msgs, err := New().WithTranscript(transcript).WithHistoryLimit(3).Build()
	require.NoError(t, err)
	// system + 3 history + rules
	require.Len(t, msgs, 5)
	assert.Equal(t, "system", msgs[0].Content)
	assert.Equal(t, strings.Repeat("x", 8), msgs[1].Content)
}

func TestBuilder_RequiresSystemPrompt(t *testing.T) {
	_, err := New().Build()
	assert.Error(t, err)

	_, err = New().WithTranscript([]chat.ChatMessage{{Role: chat.ChatRoleUser, Content: "hi"}}).Build()
	assert.Error(t, err)
}

func TestBuildSummaryMessages(t *testing.T) {
	transcript := []chat.ChatMessage{
		{Role: chat.ChatRoleSystem, Content: "secret rules"},
		{Role: chat.ChatRoleAgent, Content: "A door."},
		{Role: chat.ChatRoleUser, Content: "I open it."},
	}

	msgs := BuildSummaryMessages(transcript)
	require.Len(t, msgs, 2)
	assert.Equal(t, SummaryPrompt, msgs[0].Content)
	assert.NotContains(t, msgs[1].Content, "secret rules")
	assert.Equal(t, "Dungeon Master: A door.\nPlayer: I open it.", msgs[1].Content)
}
