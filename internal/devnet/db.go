// Package devnet is a single-file stand-in for the chain and the pinning
// service, so the game can be played offline. Both halves share one sqlite
// database.
package devnet

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	owner        TEXT    NOT NULL,
	metadata_ref TEXT    NOT NULL,
	level        INTEGER NOT NULL DEFAULT 1,
	experience   INTEGER NOT NULL DEFAULT 0,
	burned       INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS tokens_owner ON tokens(owner, burned);

CREATE TABLE IF NOT EXISTS documents (
	ref        TEXT    PRIMARY KEY,
	body       BLOB    NOT NULL,
	pinned     INTEGER NOT NULL DEFAULT 1,
	created_at TEXT    NOT NULL
);
`

// Open opens (creating if needed) the devnet database at path. ":memory:"
// gives a private in-memory database.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}
