package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jwebster45206/dungeon-ledger/pkg/character"
	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
	"github.com/jwebster45206/dungeon-ledger/pkg/roster"
)

type CharacterHandler struct {
	roster       *roster.Roster
	defaultOwner string
	logger       *slog.Logger
}

func NewCharacterHandler(r *roster.Roster, defaultOwner string, logger *slog.Logger) *CharacterHandler {
	return &CharacterHandler{
		roster:       r,
		defaultOwner: defaultOwner,
		logger:       logger,
	}
}

// Routes mounts under /v1/characters.
func (h *CharacterHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{tokenID}", h.Get)
	r.Delete("/{tokenID}", h.Burn)
}

// List returns the owner's live characters. The owner defaults to the
// engine's configured player address.
func (h *CharacterHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		owner = h.defaultOwner
	}

	records, err := h.roster.List(r.Context(), owner)
	if err != nil {
		h.logger.Error("Failed to list characters", "owner", owner, "error", err)
		writeError(w, h.logger, ledgerStatus(err), "Failed to list characters")
		return
	}
	if records == nil {
		records = []character.Record{}
	}
	writeJSON(w, h.logger, http.StatusOK, records)
}

func (h *CharacterHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req roster.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	if req.Owner == "" {
		req.Owner = h.defaultOwner
	}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.roster.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("Failed to create character", "name", req.Name, "error", err)
		writeError(w, h.logger, ledgerStatus(err), "Failed to create character")
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, rec)
}

func (h *CharacterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tokenID(w, r)
	if !ok {
		return
	}
	rec, err := h.roster.Get(r.Context(), id)
	if err != nil {
		status := ledgerStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to load character", "token_id", id, "error", err)
		}
		writeError(w, h.logger, status, err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, rec)
}

// Burn destroys the token at the owner's request.
func (h *CharacterHandler) Burn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tokenID(w, r)
	if !ok {
		return
	}
	if err := h.roster.Burn(r.Context(), id); err != nil {
		status := ledgerStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to burn character", "token_id", id, "error", err)
		}
		writeError(w, h.logger, status, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CharacterHandler) tokenID(w http.ResponseWriter, r *http.Request) (ledger.TokenID, bool) {
	id, err := ledger.ParseTokenID(chi.URLParam(r, "tokenID"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid token ID")
		return 0, false
	}
	return id, true
}

// ledgerStatus maps registry and store errors onto HTTP statuses.
func ledgerStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrTokenNotFound), errors.Is(err, metadata.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrBurned):
		return http.StatusGone
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
