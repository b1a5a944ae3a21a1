package persistence

import (
	"context"
	"database/sql"
)

// SQLiteStore is a RunStore and EventStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	sqlStore
}

// Ensure SQLiteStore implements the interfaces.
var (
	_ RunStore   = (*SQLiteStore)(nil)
	_ EventStore = (*SQLiteStore)(nil)
)

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	schema: []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			pipeline_name TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			body BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline_name, created_at)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			type TEXT NOT NULL,
			at INTEGER NOT NULL,
			body BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id, id)`,
	},
}

// NewSQLiteStore initializes the required schema in the given
// database and returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{sqlStore{db: db, d: sqliteDialect}}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSQLite returns a Persistence whose stores share db.
func NewSQLite(db *sql.DB) (*Persistence, error) {
	s, err := NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return &Persistence{Runs: s, Events: s, Close: db.Close}, nil
}
