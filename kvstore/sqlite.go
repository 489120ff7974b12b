package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sunterra/fieldrecord/dbopen"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS drafts (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at INTEGER NOT NULL
)`

// SQLite stores drafts in a single table of a WAL-mode SQLite file.
type SQLite struct {
	db  *sqlx.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the drafts database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := dbopen.OpenX(path, dbopen.WithMkdirAll(), dbopen.WithSchema(sqliteSchema))
	if err != nil {
		return nil, fmt.Errorf("kvstore: sqlite: %w", err)
	}
	return NewSQLite(db), nil
}

// NewSQLite wraps an open database whose drafts table exists (see InitSchema).
func NewSQLite(db *sqlx.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

// InitSchema creates the drafts table on db.
func InitSchema(db *sqlx.DB) error {
	_, err := db.Exec(sqliteSchema)
	return err
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, `SELECT value FROM drafts WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: sqlite get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	err := dbopen.Exec(ctx, s.db, `
		INSERT INTO drafts (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("kvstore: sqlite put %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if err := dbopen.Exec(ctx, s.db, `DELETE FROM drafts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kvstore: sqlite delete %s: %w", key, err)
	}
	return nil
}

type sqliteEntry struct {
	Key       string `db:"key"`
	Size      int    `db:"size"`
	UpdatedAt int64  `db:"updated_at"`
}

func (s *SQLite) List(ctx context.Context) ([]Entry, error) {
	var rows []sqliteEntry
	err := s.db.SelectContext(ctx, &rows,
		`SELECT key, length(value) AS size, updated_at FROM drafts ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("kvstore: sqlite list: %w", err)
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{Key: r.Key, Size: r.Size, UpdatedAt: time.UnixMilli(r.UpdatedAt)}
	}
	return out, nil
}

func (s *SQLite) Close() error { return s.db.Close() }
