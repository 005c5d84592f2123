// Package roster manages a player's characters outside of play: rolling and
// minting new ones, listing what an owner holds, and explicit burns.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/jwebster45206/dungeon-ledger/pkg/character"
	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
)

// CreateRequest describes a new character.
type CreateRequest struct {
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image,omitempty"`
}

// Validate checks the request
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.Owner) == "" {
		return errors.New("owner is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

type Roster struct {
	ledger ledger.Ledger
	store  metadata.Store
	logger *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

type Option func(*Roster)

// WithRand fixes the dice used for new characters.
func WithRand(rng *rand.Rand) Option {
	return func(r *Roster) { r.rng = rng }
}

func New(l ledger.Ledger, store metadata.Store, logger *slog.Logger, opts ...Option) *Roster {
	r := &Roster{
		ledger: l,
		store:  store,
		logger: logger,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create rolls a character, publishes its sheet and mints a token pointing
// at it. If minting fails the sheet is released again.
func (r *Roster) Create(ctx context.Context, req CreateRequest) (character.Record, error) {
	if err := req.Validate(); err != nil {
		return character.Record{}, err
	}

	r.rngMu.Lock()
	rec, err := character.Generate(req.Name, req.Description, r.rng)
	r.rngMu.Unlock()
	if err != nil {
		return character.Record{}, err
	}
	rec.ImageRef = req.Image

	ref, err := r.store.Publish(ctx, rec.Document())
	if err != nil {
		return character.Record{}, fmt.Errorf("publish character sheet: %w", err)
	}

	id, err := r.ledger.CreateCharacter(ctx, req.Owner, ref)
	if err != nil {
		if relErr := r.store.Release(ctx, ref); relErr != nil {
			r.logger.Warn("Failed to release sheet of unminted character", "metadata_ref", ref, "error", relErr)
		}
		return character.Record{}, fmt.Errorf("mint character: %w", err)
	}

	rec.TokenID = id
	rec.MetadataRef = ref
	r.logger.Info("Character created", "token_id", id, "name", rec.Name, "metadata_ref", ref)
	return rec, nil
}

// Get loads one live character. Level and experience come from the ledger,
// everything else from the current sheet.
func (r *Roster) Get(ctx context.Context, id ledger.TokenID) (character.Record, error) {
	ref, err := r.ledger.MetadataRef(ctx, id)
	if err != nil {
		return character.Record{}, err
	}
	doc, err := r.store.Fetch(ctx, ref)
	if err != nil {
		return character.Record{}, fmt.Errorf("fetch sheet for token %s: %w", id, err)
	}
	rec, err := character.RecordFromDocument(id, ref, doc)
	if err != nil {
		return character.Record{}, err
	}
	progress, err := r.ledger.Progress(ctx, id)
	if err != nil {
		return character.Record{}, err
	}
	return rec.WithProgress(progress), nil
}

// List returns the owner's live characters in token order. Tokens whose
// sheet cannot be read are skipped.
func (r *Roster) List(ctx context.Context, owner string) ([]character.Record, error) {
	ids, err := r.ledger.TokensOfOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	records := make([]character.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := r.Get(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("Skipping unreadable character", "token_id", id, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Burn destroys a character at the player's request. Its last sheet stays
// pinned as the historical record.
func (r *Roster) Burn(ctx context.Context, id ledger.TokenID) error {
	if err := r.ledger.Burn(ctx, id); err != nil {
		return fmt.Errorf("burn token %s: %w", id, err)
	}
	r.logger.Info("Character burned by owner", "token_id", id)
	return nil
}
