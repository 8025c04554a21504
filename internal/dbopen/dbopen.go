// Package dbopen opens SQLite databases through modernc.org/sqlite.
//
// Pragmas travel in the DSN as _pragma parameters, so every connection
// the pool opens gets them, not only the first one:
//
//	foreign_keys(1)
//	journal_mode(WAL)
//	busy_timeout(10000)
//	synchronous(NORMAL)
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

type settings struct {
	busy  time.Duration
	sync  string
	mkdir bool
	ddl   []string
}

// Option customises Open.
type Option func(*settings)

// WithBusyTimeout sets how long a writer waits on a locked database.
// Default: 10s.
func WithBusyTimeout(d time.Duration) Option { return func(s *settings) { s.busy = d } }

// WithSynchronous sets the synchronous pragma. Default: NORMAL.
func WithSynchronous(mode string) Option { return func(s *settings) { s.sync = mode } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(s *settings) { s.mkdir = true } }

// WithSchema runs ddl once the database is open. Statements must be
// idempotent (CREATE ... IF NOT EXISTS).
func WithSchema(ddl string) Option { return func(s *settings) { s.ddl = append(s.ddl, ddl) } }

// Open opens the database at path, or an in-memory one for ":memory:".
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := settings{busy: 10 * time.Second, sync: "NORMAL"}
	for _, o := range opts {
		o(&s)
	}

	if s.mkdir && path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path, s))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping %s: %w", path, err)
	}
	for _, ddl := range s.ddl {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: apply schema: %w", err)
		}
	}
	return db, nil
}

// OpenMemory opens an in-memory database closed at test cleanup. The pool
// holds one connection since each ":memory:" connection is its own database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memoryPath, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func dsn(path string, s settings) string {
	q := url.Values{}
	for _, p := range []string{
		"foreign_keys(1)",
		"journal_mode(WAL)",
		fmt.Sprintf("busy_timeout(%d)", s.busy.Milliseconds()),
		"synchronous(" + strings.ToUpper(s.sync) + ")",
	} {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}
