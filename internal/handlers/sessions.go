package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jwebster45206/dungeon-ledger/internal/logger"
	"github.com/jwebster45206/dungeon-ledger/pkg/chat"
	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/jwebster45206/dungeon-ledger/pkg/roster"
	"github.com/jwebster45206/dungeon-ledger/pkg/session"
	"golang.org/x/time/rate"
)

type StartSessionRequest struct {
	TokenID ledger.TokenID `json:"token_id"`
}

type TurnRequestBody struct {
	Message string `json:"message"`
}

type SessionHandler struct {
	roster   *roster.Roster
	sessions *session.Manager
	logger   *slog.Logger

	// turnsPerMinute <= 0 disables rate limiting.
	turnsPerMinute int
	limitersMu     sync.Mutex
	limiters       map[uuid.UUID]*rate.Limiter
}

func NewSessionHandler(r *roster.Roster, sessions *session.Manager, turnsPerMinute int, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		roster:         r,
		sessions:       sessions,
		logger:         logger,
		turnsPerMinute: turnsPerMinute,
		limiters:       make(map[uuid.UUID]*rate.Limiter),
	}
}

// Routes mounts under /v1/sessions.
func (h *SessionHandler) Routes(r chi.Router) {
	r.Post("/", h.Start)
	r.Get("/{sessionID}", h.Get)
	r.Post("/{sessionID}/turns", h.Turn)
	r.Delete("/{sessionID}", h.End)
}

// Start loads the character and opens a session with the opening scene.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}

	rec, err := h.roster.Get(r.Context(), req.TokenID)
	if err != nil {
		status := ledgerStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to load character for session", "token_id", req.TokenID, "error", err)
		}
		writeError(w, h.logger, status, err.Error())
		return
	}

	res, err := h.sessions.Start(r.Context(), rec)
	if err != nil {
		h.writeSessionError(w, h.logger.With("token_id", rec.TokenID.String()), err, "Failed to start session")
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, res)
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	snap, err := h.sessions.Get(id)
	if err != nil {
		h.writeSessionError(w, logger.WithSessionID(h.logger, id.String()), err, "Failed to load session")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, snap)
}

// Turn submits one player message and returns the cleaned narrative.
func (h *SessionHandler) Turn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var body TurnRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	req := chat.TurnRequest{SessionID: id, Message: body.Message}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	if !h.allow(id) {
		w.Header().Set("Retry-After", "60")
		writeError(w, h.logger, http.StatusTooManyRequests, "Too many turns, slow down")
		return
	}

	res, err := h.sessions.Submit(r.Context(), id, req.Message)
	if err != nil {
		h.writeSessionError(w, logger.WithSessionID(h.logger, id.String()), err, "Failed to process turn")
		return
	}
	if res.State == session.StateEnded {
		h.forget(id)
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// End closes the session and writes the adventure log.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	res, err := h.sessions.End(r.Context(), id)
	if err != nil {
		h.writeSessionError(w, logger.WithSessionID(h.logger, id.String()), err, "Failed to end session")
		return
	}
	h.forget(id)
	writeJSON(w, h.logger, http.StatusOK, res)
}

func (h *SessionHandler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid session ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *SessionHandler) allow(id uuid.UUID) bool {
	if h.turnsPerMinute <= 0 {
		return true
	}
	h.limitersMu.Lock()
	lim, ok := h.limiters[id]
	if !ok {
		h.pruneLocked()
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(h.turnsPerMinute)), h.turnsPerMinute)
		h.limiters[id] = lim
	}
	h.limitersMu.Unlock()
	return lim.Allow()
}

// pruneLocked drops limiters of sessions that ended or were removed outside
// this handler, and limiters that have refilled to a full burst. A full
// limiter behaves exactly like a fresh one.
func (h *SessionHandler) pruneLocked() {
	for sid, lim := range h.limiters {
		if !h.sessions.Live(sid) || lim.Tokens() >= float64(h.turnsPerMinute) {
			delete(h.limiters, sid)
		}
	}
}

func (h *SessionHandler) forget(id uuid.UUID) {
	h.limitersMu.Lock()
	delete(h.limiters, id)
	h.limitersMu.Unlock()
}

func (h *SessionHandler) writeSessionError(w http.ResponseWriter, log *slog.Logger, err error, msg string) {
	var status int
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrSessionEnded),
		errors.Is(err, session.ErrTurnInProgress),
		errors.Is(err, session.ErrCharacterDead),
		errors.Is(err, session.ErrSessionActive):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNarrator):
		status = http.StatusBadGateway
	default:
		status = ledgerStatus(err)
	}

	if status >= http.StatusInternalServerError {
		logger.WithError(log, err).Error(msg)
		writeError(w, h.logger, status, msg)
		return
	}
	writeError(w, h.logger, status, err.Error())
}
