package devnet

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
	"lukechampine.com/blake3"
)

// refPrefix marks devnet content addresses so they are never mistaken for
// real CIDs.
const refPrefix = "b3-"

// ContentStore implements metadata.Store on sqlite with blake3 content
// addressing. Identical documents share a ref; releasing a ref unpins it but
// keeps the bytes, so Fetch still works like a gateway cache would.
type ContentStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ metadata.Store = (*ContentStore)(nil)

func NewContentStore(db *sql.DB, logger *slog.Logger) *ContentStore {
	return &ContentStore{db: db, logger: logger}
}

// RefFor returns the address a document body would be stored under.
func RefFor(body []byte) metadata.Ref {
	sum := blake3.Sum256(body)
	return metadata.Ref(refPrefix + hex.EncodeToString(sum[:]))
}

func (s *ContentStore) Publish(ctx context.Context, doc *metadata.Document) (metadata.Ref, error) {
	if err := doc.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}

	ref := RefFor(body)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (ref, body, pinned, created_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(ref) DO UPDATE SET pinned = 1`,
		ref.String(), body, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}

	s.logger.Debug("Document stored", "metadata_ref", ref, "size", len(body))
	return ref, nil
}

func (s *ContentStore) Fetch(ctx context.Context, ref metadata.Ref) (*metadata.Document, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE ref = ?`, ref.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", metadata.ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}

	var doc metadata.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", ref, err)
	}
	return &doc, nil
}

func (s *ContentStore) Release(ctx context.Context, ref metadata.Ref) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET pinned = 0 WHERE ref = ?`, ref.String())
	return err
}

// Pinned reports whether ref is currently pinned.
func (s *ContentStore) Pinned(ctx context.Context, ref metadata.Ref) (bool, error) {
	var pinned bool
	err := s.db.QueryRowContext(ctx, `SELECT pinned FROM documents WHERE ref = ?`, ref.String()).Scan(&pinned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return pinned, err
}

// PinnedCount returns how many documents are pinned.
func (s *ContentStore) PinnedCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE pinned = 1`).Scan(&n)
	return n, err
}
