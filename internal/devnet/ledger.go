package devnet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
)

// Ledger implements ledger.Ledger on sqlite. Like the contract it models,
// only the authority address may mutate tokens; caller is the address this
// instance acts as.
type Ledger struct {
	db        *sql.DB
	authority string
	caller    string
	logger    *slog.Logger
}

var _ ledger.Ledger = (*Ledger)(nil)

func NewLedger(db *sql.DB, authority, caller string, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:        db,
		authority: strings.ToLower(authority),
		caller:    strings.ToLower(caller),
		logger:    logger,
	}
}

func (l *Ledger) authorize() error {
	if l.caller != l.authority {
		return fmt.Errorf("%w: %s", ledger.ErrUnauthorized, l.caller)
	}
	return nil
}

func (l *Ledger) CreateCharacter(ctx context.Context, owner string, ref metadata.Ref) (ledger.TokenID, error) {
	if err := l.authorize(); err != nil {
		return 0, err
	}
	if owner == "" {
		return 0, errors.New("owner is required")
	}

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO tokens (owner, metadata_ref, level, experience, created_at) VALUES (?, ?, 1, 0, ?)`,
		strings.ToLower(owner), ref.String(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("mint: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("mint: %w", err)
	}

	l.logger.Info("Character minted", "token_id", id, "owner", owner, "metadata_ref", ref)
	return ledger.TokenID(id), nil
}

// ApplyExperience runs the level-up rule inside a transaction and returns
// the stored result.
func (l *Ledger) ApplyExperience(ctx context.Context, id ledger.TokenID, amount int) (ledger.Progress, error) {
	if err := l.authorize(); err != nil {
		return ledger.Progress{}, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Progress{}, err
	}
	defer func() { _ = tx.Rollback() }()

	tok, err := l.liveToken(ctx, tx, id)
	if err != nil {
		return ledger.Progress{}, err
	}

	next := ledger.Advance(tok.progress, amount)
	if _, err := tx.ExecContext(ctx,
		`UPDATE tokens SET level = ?, experience = ? WHERE id = ?`,
		next.Level, next.Experience, uint64(id)); err != nil {
		return ledger.Progress{}, fmt.Errorf("gain experience: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Progress{}, err
	}

	if next.Level > tok.progress.Level {
		l.logger.Info("Character leveled up", "token_id", id, "level", next.Level)
	}
	return next, nil
}

func (l *Ledger) SetMetadataRef(ctx context.Context, id ledger.TokenID, ref metadata.Ref) error {
	if err := l.authorize(); err != nil {
		return err
	}
	return l.update(ctx, id, `UPDATE tokens SET metadata_ref = ? WHERE id = ?`, ref.String(), uint64(id))
}

func (l *Ledger) Burn(ctx context.Context, id ledger.TokenID) error {
	if err := l.authorize(); err != nil {
		return err
	}
	if err := l.update(ctx, id, `UPDATE tokens SET burned = 1 WHERE id = ?`, uint64(id)); err != nil {
		return err
	}
	l.logger.Info("Character burned", "token_id", id)
	return nil
}

// update runs a single-row statement against a live token.
func (l *Ledger) update(ctx context.Context, id ledger.TokenID, query string, args ...any) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := l.liveToken(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *Ledger) OwnerOf(ctx context.Context, id ledger.TokenID) (string, error) {
	tok, err := l.liveToken(ctx, l.db, id)
	if err != nil {
		return "", err
	}
	return tok.owner, nil
}

func (l *Ledger) TotalSupply(ctx context.Context) (uint64, error) {
	var n uint64
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tokens WHERE burned = 0`).Scan(&n)
	return n, err
}

func (l *Ledger) TokensOfOwner(ctx context.Context, owner string) ([]ledger.TokenID, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id FROM tokens WHERE owner = ? AND burned = 0 ORDER BY id`, strings.ToLower(owner))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []ledger.TokenID
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, ledger.TokenID(id))
	}
	return ids, rows.Err()
}

func (l *Ledger) Progress(ctx context.Context, id ledger.TokenID) (ledger.Progress, error) {
	tok, err := l.liveToken(ctx, l.db, id)
	if err != nil {
		return ledger.Progress{}, err
	}
	return tok.progress, nil
}

func (l *Ledger) MetadataRef(ctx context.Context, id ledger.TokenID) (metadata.Ref, error) {
	tok, err := l.liveToken(ctx, l.db, id)
	if err != nil {
		return "", err
	}
	return tok.ref, nil
}

type tokenRow struct {
	owner    string
	ref      metadata.Ref
	progress ledger.Progress
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (l *Ledger) liveToken(ctx context.Context, q querier, id ledger.TokenID) (tokenRow, error) {
	var (
		row    tokenRow
		ref    string
		burned bool
	)
	err := q.QueryRowContext(ctx,
		`SELECT owner, metadata_ref, level, experience, burned FROM tokens WHERE id = ?`, uint64(id)).
		Scan(&row.owner, &ref, &row.progress.Level, &row.progress.Experience, &burned)
	if errors.Is(err, sql.ErrNoRows) {
		return tokenRow{}, fmt.Errorf("%w: %s", ledger.ErrTokenNotFound, id)
	}
	if err != nil {
		return tokenRow{}, err
	}
	if burned {
		return tokenRow{}, fmt.Errorf("%w: %s", ledger.ErrBurned, id)
	}
	row.ref = metadata.Ref(ref)
	return row, nil
}
