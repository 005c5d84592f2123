// Package session drives one conversation per character: it feeds player
// input to the narrator and pipes every reply through extraction,
// reconciliation and propagation before the cleaned text is shown.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/dungeon-ledger/pkg/character"
	"github.com/jwebster45206/dungeon-ledger/pkg/chat"
	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session has ended")
	// ErrTurnInProgress is returned when another replica holds the session's turn lock.
	ErrTurnInProgress = errors.New("a turn is already in progress for this session")
	// ErrCharacterDead is returned when a session is started for a dead or burned character.
	ErrCharacterDead = errors.New("character is dead")
	// ErrNarrator wraps failures of the language model call.
	ErrNarrator = errors.New("narrator failed")
	// ErrSessionActive is returned when the character already has a session in play.
	ErrSessionActive = errors.New("character already has an active session")
)

// State is a session's lifecycle position. There is no way back from Ended.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "uninitialized":
		*s = StateUninitialized
	case "active":
		*s = StateActive
	case "ended":
		*s = StateEnded
	default:
		return fmt.Errorf("unknown session state %q", b)
	}
	return nil
}

// EndReason records why a session ended.
type EndReason string

const (
	EndReasonQuit  EndReason = "quit"
	EndReasonDeath EndReason = "death"
)

// quitWords end the session when sent as a turn.
var quitWords = map[string]bool{"exit": true, "quit": true}

// IsQuit reports whether a player message is a quit signal.
func IsQuit(message string) bool {
	return quitWords[strings.ToLower(strings.TrimSpace(message))]
}

// Session is one conversation. mu serializes turns; a turn never starts
// before the previous turn's synchronization has finished.
type Session struct {
	ID    uuid.UUID
	token ledger.TokenID // fixed at start; readable without mu

	mu         sync.Mutex
	state      State
	endReason  EndReason
	record     character.Record
	snapshot   character.Record // captured at start, embedded in the system prompt
	transcript []chat.ChatMessage
	createdAt  time.Time
	updatedAt  time.Time
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID         uuid.UUID          `json:"id"`
	State      State              `json:"state"`
	EndReason  EndReason          `json:"end_reason,omitempty"`
	Record     character.Record   `json:"character"`
	Transcript []chat.ChatMessage `json:"transcript"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func (s *Session) snapshotLocked() Snapshot {
	transcript := make([]chat.ChatMessage, len(s.transcript))
	copy(transcript, s.transcript)
	return Snapshot{
		ID:         s.ID,
		State:      s.state,
		EndReason:  s.endReason,
		Record:     s.record,
		Transcript: transcript,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
}

// TurnResult is what a player sees after a turn.
type TurnResult struct {
	SessionID   uuid.UUID `json:"session_id"`
	DisplayText string    `json:"display_text"`
	State       State     `json:"state"`
	Alive       bool      `json:"alive"`
	Level       int       `json:"level"`
	Experience  int       `json:"experience"`
	HitPoints   int       `json:"hit_points"`
	// Synced is false when background synchronization failed this turn.
	Synced bool `json:"synced"`
}

func resultFor(s *Session, text string, synced bool) TurnResult {
	return TurnResult{
		SessionID:   s.ID,
		DisplayText: text,
		State:       s.state,
		Alive:       s.record.IsAlive(),
		Level:       s.record.Level,
		Experience:  s.record.Experience,
		HitPoints:   s.record.HitPoints,
		Synced:      synced,
	}
}
