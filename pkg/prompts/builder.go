package prompts

import (
	"fmt"

	"github.com/jwebster45206/dungeon-ledger/pkg/chat"
)

// Builder constructs chat messages for one narrator call using a fluent interface.
type Builder struct {
	transcript   []chat.ChatMessage
	userMessage  string
	historyLimit int
	messages     []chat.ChatMessage
}

// New creates a new prompt builder. The full transcript is sent by default.
func New() *Builder {
	return &Builder{
		messages: make([]chat.ChatMessage, 0),
	}
}

// WithTranscript sets the session transcript. Its first message must be the
// system prompt.
func (b *Builder) WithTranscript(transcript []chat.ChatMessage) *Builder {
	b.transcript = transcript
	return b
}

// WithUserMessage sets the player's message for this turn.
func (b *Builder) WithUserMessage(message string) *Builder {
	b.userMessage = message
	return b
}

// WithHistoryLimit windows the non-system history. Zero sends everything.
func (b *Builder) WithHistoryLimit(limit int) *Builder {
	b.historyLimit = limit
	return b
}

// Build returns the message array for the narrator:
// system prompt, history, combat rules, player message.
func (b *Builder) Build() ([]chat.ChatMessage, error) {
	if len(b.transcript) == 0 || b.transcript[0].Role != chat.ChatRoleSystem {
		return nil, fmt.Errorf("transcript must start with a system prompt")
	}

	b.messages = make([]chat.ChatMessage, 0, len(b.transcript)+2)

	// 1. System prompt
	b.messages = append(b.messages, b.transcript[0])

	// 2. History
	b.addHistory()

	// 3. Per-turn rules
	b.messages = append(b.messages, chat.ChatMessage{
		Role:    chat.ChatRoleSystem,
		Content: CombatRulesPrompt,
	})

	// 4. User message
	if b.userMessage != "" {
		b.messages = append(b.messages, chat.ChatMessage{
			Role:    chat.ChatRoleUser,
			Content: b.userMessage,
		})
	}

	return b.messages, nil
}

func (b *Builder) addHistory() {
	history := b.transcript[1:]
	if b.historyLimit > 0 && len(history) > b.historyLimit {
		history = history[len(history)-b.historyLimit:]
	}
	b.messages = append(b.messages, history...)
}

// BuildSummaryMessages asks the narrator to summarize a transcript. System
// turns are left out.
func BuildSummaryMessages(transcript []chat.ChatMessage) []chat.ChatMessage {
	return []chat.ChatMessage{
		{Role: chat.ChatRoleSystem, Content: SummaryPrompt},
		{Role: chat.ChatRoleUser, Content: chat.FormatTranscript(chat.WithoutSystem(transcript))},
	}
}
