// Package store persists declarative selector profiles and adapter failure
// reports in SQLite. Profiles are the data half of site support: the
// registry compiles them into bundles at load, and the hot-reload path
// re-reads this database when it changes.
package store

import (
	"database/sql"
	"testing"

	"github.com/lesshq/cartwatch/sqlopen"

	_ "modernc.org/sqlite"
)

// Store wraps the profiles database.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the profiles database at path.
func Open(path string) (*Store, error) {
	db, err := sqlopen.Open(path, sqlopen.WithMkdirAll(), sqlopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// OpenMemory opens an in-memory store for testing.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	return &Store{DB: sqlopen.OpenMemory(t, sqlopen.WithSchema(Schema))}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
