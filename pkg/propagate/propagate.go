// Package propagate issues a turn's planned writes to the ledger and the
// metadata store in a fixed order, and moves the record's store pointers
// forward only on confirmed success.
//
// The two stores cannot be committed together. The order below is a
// compensating sequence:
//
//	apply experience -> refresh from ledger -> publish -> release prior ref
//	-> update record ref -> point ledger at new ref
//
// On the death path only the burn is issued.
package propagate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/dungeon-ledger/pkg/character"
	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
	"github.com/jwebster45206/dungeon-ledger/pkg/reconcile"
)

// Step names one remote call in the sequence.
type Step string

const (
	StepApplyXP        Step = "apply_xp"
	StepPublish        Step = "publish_metadata"
	StepRelease        Step = "release_ref"
	StepSetMetadataRef Step = "set_metadata_ref"
	StepBurn           Step = "burn"
)

// StepError reports the step that aborted a sequence.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Observer is notified after every remote call. err is nil on success.
type Observer interface {
	StepCompleted(step Step, err error)
}

// Timeouts bound each remote call. Zero means no bound beyond the caller's
// context. A timeout is a failed step.
type Timeouts struct {
	Ledger   time.Duration
	Metadata time.Duration
}

// Sequencer executes reconcile plans against the two stores.
type Sequencer struct {
	ledger   ledger.Ledger
	store    metadata.Store
	logger   *slog.Logger
	timeouts Timeouts
	observer Observer
}

type Option func(*Sequencer)

func WithTimeouts(t Timeouts) Option {
	return func(s *Sequencer) { s.timeouts = t }
}

func WithObserver(o Observer) Option {
	return func(s *Sequencer) { s.observer = o }
}

func NewSequencer(l ledger.Ledger, store metadata.Store, logger *slog.Logger, opts ...Option) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sequencer{ledger: l, store: store, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs plan for rec and returns the record as of the last confirmed
// step. Any failing step aborts the rest and is returned as a *StepError.
// Nothing is retried.
func (s *Sequencer) Execute(ctx context.Context, rec character.Record, plan reconcile.Plan) (character.Record, error) {
	if plan.IsEmpty() {
		return rec, nil
	}

	log := s.logger.With("token_id", rec.TokenID.String(), "effects", plan.String())

	if plan.Has(reconcile.EffectBurn) {
		out, err := s.burn(ctx, rec)
		if err != nil {
			log.Error("Failed to burn character", "error", err)
			return out, err
		}
		log.Info("Character burned")
		return out, nil
	}

	for _, eff := range plan.Effects {
		var err error
		switch eff.Kind {
		case reconcile.EffectApplyXP:
			rec, err = s.applyExperience(ctx, rec, eff.Amount)
		case reconcile.EffectPublishMetadata:
			rec, err = s.publish(ctx, rec)
		default:
			err = fmt.Errorf("unknown effect %q", eff.Kind)
		}
		if err != nil {
			log.Error("Synchronization aborted", "error", err)
			return rec, err
		}
	}

	log.Debug("Synchronization complete",
		"level", rec.Level,
		"experience", rec.Experience,
		"metadata_ref", rec.MetadataRef.String())
	return rec, nil
}

// PublishSnapshot writes rec as it stands, bypassing delta logic. Used to
// persist the adventure log when a session ends. Dead characters are
// terminal and are returned unchanged.
func (s *Sequencer) PublishSnapshot(ctx context.Context, rec character.Record) (character.Record, error) {
	if !rec.IsAlive() || rec.Burned {
		return rec, nil
	}
	out, err := s.publish(ctx, rec)
	if err != nil {
		s.logger.Error("Failed to publish snapshot", "token_id", rec.TokenID.String(), "error", err)
	}
	return out, err
}

func (s *Sequencer) applyExperience(ctx context.Context, rec character.Record, amount int) (character.Record, error) {
	ctx, cancel := withTimeout(ctx, s.timeouts.Ledger)
	defer cancel()

	p, err := s.ledger.ApplyExperience(ctx, rec.TokenID, amount)
	s.observe(StepApplyXP, err)
	if err != nil {
		return rec, &StepError{Step: StepApplyXP, Err: err}
	}

	if p.Level != rec.Level {
		s.logger.Info("Character leveled up",
			"token_id", rec.TokenID.String(),
			"from", rec.Level,
			"to", p.Level)
	}
	return reconcile.Refresh(rec, p), nil
}

func (s *Sequencer) publish(ctx context.Context, rec character.Record) (character.Record, error) {
	prior := rec.MetadataRef

	mctx, cancel := withTimeout(ctx, s.timeouts.Metadata)
	ref, err := s.store.Publish(mctx, rec.Document())
	cancel()
	s.observe(StepPublish, err)
	if err != nil {
		return rec, &StepError{Step: StepPublish, Err: err}
	}
	if ref.IsZero() {
		err = errors.New("store returned an empty reference")
		return rec, &StepError{Step: StepPublish, Err: err}
	}

	// Release is advisory. A failure leaks storage but the game state is
	// still consistent, so the sequence continues.
	if !prior.IsZero() && prior != ref {
		rctx, cancel := withTimeout(ctx, s.timeouts.Metadata)
		err := s.store.Release(rctx, prior)
		cancel()
		s.observe(StepRelease, err)
		if err != nil {
			s.logger.Warn("Failed to release superseded metadata",
				"token_id", rec.TokenID.String(),
				"metadata_ref", prior.String(),
				"error", err)
		}
	}

	rec.MetadataRef = ref

	lctx, cancel := withTimeout(ctx, s.timeouts.Ledger)
	err = s.ledger.SetMetadataRef(lctx, rec.TokenID, ref)
	cancel()
	s.observe(StepSetMetadataRef, err)
	if err != nil {
		return rec, &StepError{Step: StepSetMetadataRef, Err: err}
	}
	return rec, nil
}

func (s *Sequencer) burn(ctx context.Context, rec character.Record) (character.Record, error) {
	ctx, cancel := withTimeout(ctx, s.timeouts.Ledger)
	defer cancel()

	err := s.ledger.Burn(ctx, rec.TokenID)
	if errors.Is(err, ledger.ErrBurned) {
		err = nil
	}
	s.observe(StepBurn, err)
	if err != nil {
		return rec, &StepError{Step: StepBurn, Err: err}
	}
	rec.Burned = true
	return rec, nil
}

func (s *Sequencer) observe(step Step, err error) {
	if s.observer != nil {
		s.observer.StepCompleted(step, err)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
