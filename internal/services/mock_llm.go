package services

import (
	"context"
	"errors"
	"sync"

	"github.com/jwebster45206/dungeon-ledger/pkg/chat"
	"github.com/jwebster45206/dungeon-ledger/pkg/prompts"
)

// mockBeats are cycled through by the offline narrator, one per player turn.
var mockBeats = []string{
	"You step through the misty doorway. Torchlight flickers across carved runes, and somewhere below, water drips in slow rhythm.\n{\"xp_gained\": 0, \"hp_change\": 0}",
	"A giant rat lunges from the shadows! You roll a 14 against its armor class of 12 and strike it down, though its teeth graze your arm.\n{\"xp_gained\": 10, \"hp_change\": -2}",
	"Behind a loose stone you find a small flask of healing draught. You drink it and feel warmth spread through your limbs.\n{\"xp_gained\": 5, \"hp_change\": 3}",
	"A skeleton guard rattles to life. You roll a 17 and shatter its ribcage before it can raise its blade.\n{\"xp_gained\": 15, \"hp_change\": 0}",
}

const mockSummary = "The adventurer braved the misty dungeon, slew a giant rat and a skeleton guard, and recovered a flask of healing draught."

// MockLLM is a deterministic narrator used for offline play and tests
type MockLLM struct {
	InitModelFunc func(ctx context.Context, modelName string) error
	ChatFunc      func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error)

	// Track calls for testing
	InitModelCalls []string
	ChatCalls      []ChatCall

	mu sync.Mutex // protects all fields above
}

type ChatCall struct {
	Messages []chat.ChatMessage
}

var _ LLMService = (*MockLLM)(nil)

// NewMockLLM creates a new mock narrator
func NewMockLLM() *MockLLM {
	return &MockLLM{
		InitModelCalls: make([]string, 0),
		ChatCalls:      make([]ChatCall, 0),
	}
}

func (m *MockLLM) InitModel(ctx context.Context, modelName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InitModelCalls = append(m.InitModelCalls, modelName)
	if m.InitModelFunc != nil {
		return m.InitModelFunc(ctx, modelName)
	}
	return nil
}

// Chat returns a scripted beat chosen by the number of player turns so far,
// or a fixed summary when asked to chronicle a session.
func (m *MockLLM) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ChatCalls = append(m.ChatCalls, ChatCall{Messages: messages})

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, messages)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(messages) > 0 && messages[0].Role == chat.ChatRoleSystem && messages[0].Content == prompts.SummaryPrompt {
		return &chat.ChatResponse{Message: mockSummary}, nil
	}

	turns := 0
	for _, msg := range messages {
		if msg.Role == chat.ChatRoleUser {
			turns++
		}
	}
	if turns == 0 {
		return &chat.ChatResponse{Message: prompts.OpeningScene}, nil
	}
	return &chat.ChatResponse{Message: mockBeats[(turns-1)%len(mockBeats)]}, nil
}

// SetChatError makes every Chat call fail with err
func (m *MockLLM) SetChatError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChatFunc = func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
		return nil, err
	}
}

// SetChatReply makes every Chat call return text
func (m *MockLLM) SetChatReply(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChatFunc = func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
		return &chat.ChatResponse{Message: text}, nil
	}
}

// ChatCallCount returns the number of Chat calls so far
func (m *MockLLM) ChatCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ChatCalls)
}

// Reset clears tracked calls and overrides
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitModelFunc = nil
	m.ChatFunc = nil
	m.InitModelCalls = m.InitModelCalls[:0]
	m.ChatCalls = m.ChatCalls[:0]
}

// ErrMockUnavailable is a convenience error for narrator failure tests.
var ErrMockUnavailable = errors.New("mock narrator unavailable")
