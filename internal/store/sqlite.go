// internal/store/sqlite.go
//
// SQLite implementation of the Store interface.
// Responsibilities:
//   - Opening SQLite database with safe defaults (WAL, busy timeout, immediate tx lock).
//   - Applying embedded migrations (idempotent, recorded in _migrations).
//   - Storing documents as JSON text with a version column for optimistic commits.
//
// Note: subscriptions are fed by commits made through this process only.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/timeline/assets"
)

// SQLite is a Store backed by a single SQLite database file.
type SQLite struct {
	db   *sql.DB
	mu   sync.Mutex // serializes commits so publish order matches commit order
	hub  *hub
	opts options
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, hub: newHub(), opts: buildOptions(opts)}, nil
}

/**
 * openDB opens (and creates if missing) a SQLite database file.
 *
 * - Ensures parent directory exists for relative paths (e.g. ./data/timeline.db).
 * - Configures busy timeout, WAL journaling and IMMEDIATE transactions.
 */
func openDB(path string) (*sql.DB, error) {
	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	if memory {
		// every connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	return db, nil
}

/**
 * migrate applies the embedded SQL migrations.
 *
 * - Uses a _migrations table to track applied files.
 * - Executes each file in lexical order, skipping applied ones.
 * - Scripts that manage their own transaction run outside an outer one.
 */
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY);`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}
	migrations, err := assets.Migrations()
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	for _, m := range migrations {
		var done int
		err := db.QueryRow(`SELECT 1 FROM _migrations WHERE name=?`, m.Name).Scan(&done)
		if err == nil {
			log.Debug().Str("migration", m.Name).Msg("already applied")
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("query _migrations: %w", err)
		}

		if strings.Contains(strings.ToUpper(m.SQL), "BEGIN TRANSACTION") {
			if _, err := db.Exec(m.SQL); err != nil {
				return fmt.Errorf("apply %s: %w", m.Name, err)
			}
			if _, err := db.Exec(`INSERT INTO _migrations(name) VALUES (?)`, m.Name); err != nil {
				return fmt.Errorf("record %s: %w", m.Name, err)
			}
			log.Info().Str("migration", m.Name).Msg("applied (self-managed)")
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations(name) VALUES (?)`, m.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", m.Name, err)
		}
		log.Info().Str("migration", m.Name).Msg("applied")
	}
	return nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadRow(ctx context.Context, q rowQuerier, key docKey) (Document, int64, error) {
	var body string
	var version int64
	err := q.QueryRowContext(ctx,
		`SELECT body, version FROM documents WHERE collection=? AND id=?`,
		key.collection, key.id,
	).Scan(&body, &version)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load %s: %w", key, err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return doc, version, nil
}

func (s *SQLite) load(ctx context.Context, key docKey) (Document, int64, error) {
	return loadRow(ctx, s.db, key)
}

func (s *SQLite) commit(ctx context.Context, reads map[docKey]int64, writes []write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for k, v := range reads {
		var cur int64
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM documents WHERE collection=? AND id=?`, k.collection, k.id,
		).Scan(&cur)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("check %s: %w", k, err)
		}
		if cur != v {
			return errStale
		}
	}

	staged, order, err := stage(writes, func(k docKey) (Document, error) {
		doc, _, err := loadRow(ctx, tx, k)
		return doc, err
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, k := range order {
		body, err := json.Marshal(staged[k])
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO documents (collection, id, body, version, updated_at)
            VALUES (?, ?, ?, 1, ?)
            ON CONFLICT(collection, id) DO UPDATE SET
                body = excluded.body,
                version = documents.version + 1,
                updated_at = excluded.updated_at`,
			k.collection, k.id, string(body), now,
		); err != nil {
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, k := range order {
		s.hub.publish(k, staged[k])
	}
	return nil
}

// Get returns the stored document.
func (s *SQLite) Get(ctx context.Context, collection, id string) (Document, error) {
	doc, _, err := s.load(ctx, docKey{collection, id})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

// RunTransaction runs fn with optimistic concurrency.
func (s *SQLite) RunTransaction(ctx context.Context, fn TxFunc) error {
	return runTransaction(ctx, s, s.opts.attempts, fn)
}

// UpdateFields applies a partial update to an existing document.
func (s *SQLite) UpdateFields(ctx context.Context, collection, id string, fields map[string]any) error {
	return updateFields(ctx, s, collection, id, fields)
}

// Subscribe registers fn and delivers the current document first.
func (s *SQLite) Subscribe(ctx context.Context, collection, id string, fn func(Document)) (func(), error) {
	key := docKey{collection, id}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, _, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	sub, cancel := s.hub.subscribe(ctx, key, fn)
	if doc != nil {
		sub.offer(doc)
	}
	return cancel, nil
}

// List returns the ids of collection.
func (s *SQLite) List(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents WHERE collection=? ORDER BY id`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }
