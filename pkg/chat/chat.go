package chat

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	ChatRoleUser   = "user"      // Player
	ChatRoleAgent  = "assistant" // Dungeon master
	ChatRoleSystem = "system"    // Context and rules
)

// ChatMessage represents a single turn in the conversation.
// The shape matches what the narrator providers accept.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatResponse is the raw reply of a narrator call.
type ChatResponse struct {
	Message string `json:"message,omitempty"`
}

// TurnRequest is a player message submitted to a running session.
type TurnRequest struct {
	SessionID uuid.UUID `json:"session_id"`
	Message   string    `json:"message"`
}

func (tr *TurnRequest) Validate() error {
	if strings.TrimSpace(tr.Message) == "" {
		return fmt.Errorf("message cannot be empty")
	}
	return nil
}

// WithoutSystem returns the transcript minus its system turns.
func WithoutSystem(messages []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == ChatRoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

// FormatTranscript renders messages as "role: content" lines, used when a
// transcript has to be handed to the narrator as plain text.
func FormatTranscript(messages []ChatMessage) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch m.Role {
		case ChatRoleUser:
			sb.WriteString("Player: ")
		case ChatRoleAgent:
			sb.WriteString("Dungeon Master: ")
		default:
			sb.WriteString("System: ")
		}
		sb.WriteString(m.Content)
	}
	return sb.String()
}
