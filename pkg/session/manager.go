package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/dungeon-ledger/pkg/character"
	"github.com/jwebster45206/dungeon-ledger/pkg/chat"
	"github.com/jwebster45206/dungeon-ledger/pkg/delta"
	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/jwebster45206/dungeon-ledger/pkg/prompts"
	"github.com/jwebster45206/dungeon-ledger/pkg/reconcile"
)

// Narrator completes a transcript. It is stateless per call.
type Narrator interface {
	Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error)
}

// Synchronizer propagates reconciled changes to the remote stores.
type Synchronizer interface {
	Execute(ctx context.Context, rec character.Record, plan reconcile.Plan) (character.Record, error)
	PublishSnapshot(ctx context.Context, rec character.Record) (character.Record, error)
}

// TurnLocker guards a session across processes. unlock must be called when
// acquired is true.
type TurnLocker interface {
	TryLock(ctx context.Context, key string) (unlock func(context.Context) error, acquired bool, err error)
}

// Recorder receives turn-level counters.
type Recorder interface {
	TurnProcessed(synced bool)
	DeltaExtracted(outcome string)
	CharacterDied()
	SessionStarted()
	SessionEnded(reason string)
}

// Extraction outcomes passed to Recorder.DeltaExtracted.
const (
	ExtractOK        = "ok"
	ExtractAbsent    = "absent"
	ExtractMalformed = "malformed"
)

// Manager owns all sessions of the process.
type Manager struct {
	narrator  Narrator
	sync      Synchronizer
	extractor *delta.Extractor
	logger    *slog.Logger

	narratorTimeout time.Duration
	historyLimit    int
	locker          TurnLocker
	recorder        Recorder

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	// active maps a token to its one unended session.
	active map[ledger.TokenID]uuid.UUID
}

type Option func(*Manager)

// WithNarratorTimeout bounds each narrator call. A timeout fails the turn
// before any state changes.
func WithNarratorTimeout(d time.Duration) Option {
	return func(m *Manager) { m.narratorTimeout = d }
}

// WithHistoryLimit windows the history sent to the narrator.
func WithHistoryLimit(n int) Option {
	return func(m *Manager) { m.historyLimit = n }
}

func WithTurnLocker(l TurnLocker) Option {
	return func(m *Manager) { m.locker = l }
}

func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

func NewManager(narrator Narrator, synchronizer Synchronizer, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		narrator:  narrator,
		sync:      synchronizer,
		extractor: delta.NewExtractor(logger),
		logger:    logger,
		sessions:  make(map[uuid.UUID]*Session),
		active:    make(map[ledger.TokenID]uuid.UUID),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a session for rec. The character sheet is captured now and is
// not refreshed in the prompt for the rest of the session. The result carries
// the opening scene. A token has at most one active session; a second Start
// fails with ErrSessionActive until the first one ends or is removed.
func (m *Manager) Start(ctx context.Context, rec character.Record) (TurnResult, error) {
	if !rec.IsAlive() || rec.Burned {
		return TurnResult{}, ErrCharacterDead
	}
	if err := rec.Validate(); err != nil {
		return TurnResult{}, fmt.Errorf("invalid character: %w", err)
	}

	now := time.Now()
	s := &Session{
		ID:        uuid.New(),
		token:     rec.TokenID,
		state:     StateUninitialized,
		record:    rec,
		createdAt: now,
		updatedAt: now,
	}
	s.activate()

	m.mu.Lock()
	if _, busy := m.active[s.token]; busy {
		m.mu.Unlock()
		return TurnResult{}, ErrSessionActive
	}
	m.active[s.token] = s.ID
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.SessionStarted()
	}
	m.logger.Info("Session started",
		"session_id", s.ID.String(),
		"token_id", rec.TokenID.String(),
		"metadata_ref", rec.MetadataRef.String())

	return resultFor(s, prompts.OpeningScene, true), nil
}

// activate builds the transcript from the start snapshot.
func (s *Session) activate() {
	s.snapshot = s.record
	s.transcript = []chat.ChatMessage{
		{Role: chat.ChatRoleSystem, Content: prompts.BuildSystemPrompt(s.snapshot)},
		{Role: chat.ChatRoleAgent, Content: prompts.OpeningScene},
	}
	s.state = StateActive
}

// Get returns a copy of the session.
func (m *Manager) Get(id uuid.UUID) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

// Remove forgets a session.
func (m *Manager) Remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		m.retireLocked(s)
	}
	delete(m.sessions, id)
}

// Live reports whether id names a known session that has not ended. It never
// waits on a turn in progress.
func (m *Manager) Live(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return ok && m.active[s.token] == id
}

// retire frees the session's token for a new Start.
func (m *Manager) retire(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retireLocked(s)
}

func (m *Manager) retireLocked(s *Session) {
	if m.active[s.token] == s.ID {
		delete(m.active, s.token)
	}
}

func (m *Manager) lookup(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// acquire takes the session mutex and, when configured, the shared turn lock.
func (m *Manager) acquire(ctx context.Context, s *Session) (func(), error) {
	s.mu.Lock()
	if m.locker == nil {
		return s.mu.Unlock, nil
	}

	unlock, ok, err := m.locker.TryLock(ctx, "session:"+s.ID.String())
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to acquire turn lock: %w", err)
	}
	if !ok {
		s.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("Failed to release turn lock", "session_id", s.ID.String(), "error", err)
		}
		s.mu.Unlock()
	}, nil
}

// Submit runs one player turn. A quit word ends the session instead.
//
// Narrator failures are returned and leave the session untouched so the turn
// can be retried. Synchronization failures are logged and reported through
// TurnResult.Synced; the player always gets the narrative.
func (m *Manager) Submit(ctx context.Context, id uuid.UUID, message string) (TurnResult, error) {
	if IsQuit(message) {
		return m.End(ctx, id)
	}
	req := chat.TurnRequest{SessionID: id, Message: message}
	if err := req.Validate(); err != nil {
		return TurnResult{}, err
	}

	s, err := m.lookup(id)
	if err != nil {
		return TurnResult{}, err
	}
	release, err := m.acquire(ctx, s)
	if err != nil {
		return TurnResult{}, err
	}
	defer release()

	if s.state == StateEnded {
		return TurnResult{}, ErrSessionEnded
	}
	if s.state == StateUninitialized {
		s.activate()
	}

	log := m.logger.With("session_id", s.ID.String(), "token_id", s.record.TokenID.String())

	messages, err := prompts.New().
		WithTranscript(s.transcript).
		WithUserMessage(message).
		WithHistoryLimit(m.historyLimit).
		Build()
	if err != nil {
		return TurnResult{}, fmt.Errorf("failed to build prompt: %w", err)
	}

	raw, err := m.complete(ctx, messages)
	if err != nil {
		log.Error("Narrator call failed", "error", err)
		return TurnResult{}, fmt.Errorf("%w: %w", ErrNarrator, err)
	}

	// The raw reply, summary included, stays in the transcript so the
	// narrator keeps seeing the expected format.
	s.transcript = append(s.transcript,
		chat.ChatMessage{Role: chat.ChatRoleUser, Content: message},
		chat.ChatMessage{Role: chat.ChatRoleAgent, Content: raw},
	)
	s.updatedAt = time.Now()

	extracted := m.extractor.Extract(raw)
	m.recordExtraction(extracted)

	rec, plan := reconcile.Reconcile(s.record, extracted.Delta)
	if plan.DiscardedXP != 0 {
		log.Info("Experience discarded", "xp_gained", plan.DiscardedXP, "died", plan.Died)
	}

	synced := true
	rec, err = m.sync.Execute(ctx, rec, plan)
	if err != nil {
		synced = false
		log.Warn("Turn synchronization failed", "effects", plan.String(), "error", err)
	}
	s.record = rec

	text := extracted.Narrative
	if plan.Died {
		s.state = StateEnded
		s.endReason = EndReasonDeath
		m.retire(s)
		text = strings.TrimSpace(text + "\n\n" + prompts.DeathMessage)
		log.Info("Character died", "hit_points", rec.HitPoints, "burned", rec.Burned)
		if m.recorder != nil {
			m.recorder.CharacterDied()
			m.recorder.SessionEnded(string(EndReasonDeath))
		}
	}

	if m.recorder != nil {
		m.recorder.TurnProcessed(synced)
	}
	return resultFor(s, text, synced), nil
}

// End closes a session on the player's request. A living character gets an
// adventure log summarized from the transcript, published with one final
// metadata write.
func (m *Manager) End(ctx context.Context, id uuid.UUID) (TurnResult, error) {
	s, err := m.lookup(id)
	if err != nil {
		return TurnResult{}, err
	}
	release, err := m.acquire(ctx, s)
	if err != nil {
		return TurnResult{}, err
	}
	defer release()

	if s.state == StateEnded {
		return TurnResult{}, ErrSessionEnded
	}

	log := m.logger.With("session_id", s.ID.String(), "token_id", s.record.TokenID.String())

	synced := true
	if s.record.IsAlive() && !s.record.Burned {
		summary, err := m.summarize(ctx, s.transcript)
		if err != nil {
			log.Warn("Failed to summarize session", "error", err)
		} else if summary != "" {
			s.record.AdventureLog = summary
		}

		rec, err := m.sync.PublishSnapshot(ctx, s.record)
		if err != nil {
			synced = false
			log.Warn("Final publish failed", "error", err)
		}
		s.record = rec
	}

	s.state = StateEnded
	s.endReason = EndReasonQuit
	s.updatedAt = time.Now()
	m.retire(s)
	if m.recorder != nil {
		m.recorder.SessionEnded(string(EndReasonQuit))
	}
	log.Info("Session ended", "metadata_ref", s.record.MetadataRef.String())

	return resultFor(s, prompts.FarewellMessage, synced), nil
}

func (m *Manager) summarize(ctx context.Context, transcript []chat.ChatMessage) (string, error) {
	raw, err := m.complete(ctx, prompts.BuildSummaryMessages(transcript))
	if err != nil {
		return "", err
	}
	// Strip a stray state summary if the narrator appended one out of habit
	_, text, err := delta.Parse(raw)
	if err != nil {
		text = raw
	}
	return strings.TrimSpace(text), nil
}

func (m *Manager) complete(ctx context.Context, messages []chat.ChatMessage) (string, error) {
	if m.narratorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.narratorTimeout)
		defer cancel()
	}
	resp, err := m.narrator.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("narrator returned no response")
	}
	return resp.Message, nil
}

func (m *Manager) recordExtraction(res delta.Result) {
	if m.recorder == nil {
		return
	}
	switch {
	case res.Found:
		m.recorder.DeltaExtracted(ExtractOK)
	case errors.Is(res.Err, delta.ErrNoSummary):
		m.recorder.DeltaExtracted(ExtractAbsent)
	default:
		m.recorder.DeltaExtracted(ExtractMalformed)
	}
}
