package pvalue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Schema is the DDL for the kv table backing SQLiteStore.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// SQLiteStore persists values in a single kv table. One store is shared by
// every Value in the process; each Value serializes its own writes.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db, creating the kv table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("pvalue: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads the stored bytes for key. ok is false when the key is absent.
func (s *SQLiteStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pvalue: load %q: %w", key, err)
	}
	return data, true, nil
}

// Save upserts the bytes for key.
func (s *SQLiteStore) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("pvalue: save %q: %w", key, err)
	}
	return nil
}
