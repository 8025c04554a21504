// Package store persists probe outcomes in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/smartboot/internal/dbopen"
	"github.com/hazyhaar/smartboot/internal/sink"
)

// Schema is the DDL for the run table.
const Schema = `
CREATE TABLE IF NOT EXISTS bootstrap_runs (
    run_id         TEXT PRIMARY KEY,
    driver         TEXT NOT NULL,
    page_url       TEXT NOT NULL,
    account_id     TEXT NOT NULL,
    mode           TEXT NOT NULL,
    request_target TEXT NOT NULL DEFAULT '',
    token          TEXT NOT NULL DEFAULT '',
    state          TEXT NOT NULL,
    trigger_kind   TEXT NOT NULL,
    hidden         INTEGER NOT NULL DEFAULT 0,
    hidden_for_ms  INTEGER NOT NULL DEFAULT 0,
    error          TEXT NOT NULL DEFAULT '',
    started_at     INTEGER NOT NULL,
    finished_at    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON bootstrap_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_account ON bootstrap_runs(account_id);
`

// Store is the run database handle. It also serves as a sink.Sink.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the run database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// SendOutcome stores o.
func (s *Store) SendOutcome(ctx context.Context, o sink.Outcome) error {
	return s.InsertRun(ctx, o)
}

// InsertRun stores one outcome. A second insert with the same run ID
// replaces the first.
func (s *Store) InsertRun(ctx context.Context, o sink.Outcome) error {
	if o.RunID == "" {
		return fmt.Errorf("store: insert run: empty run id")
	}
	started := o.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	var finished sql.NullInt64
	if !o.FinishedAt.IsZero() {
		finished = sql.NullInt64{Int64: o.FinishedAt.UnixMilli(), Valid: true}
	}
	hidden := 0
	if o.Hidden {
		hidden = 1
	}

	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT OR REPLACE INTO bootstrap_runs
			(run_id, driver, page_url, account_id, mode, request_target, token,
			 state, trigger_kind, hidden, hidden_for_ms, error, started_at, finished_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.RunID, o.Driver, o.PageURL, o.AccountID, o.Mode, o.RequestTarget, o.Token,
		o.State, o.Trigger, hidden, o.HiddenForMS, o.Error, started.UnixMilli(), finished,
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

const runColumns = `run_id, driver, page_url, account_id, mode, request_target, token,
	state, trigger_kind, hidden, hidden_for_ms, error, started_at, finished_at`

// GetRun returns the run with id, or nil if there is none.
func (s *Store) GetRun(ctx context.Context, id string) (*sink.Outcome, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM bootstrap_runs WHERE run_id = ?`, id)
	o, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return o, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means 50.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*sink.Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+runColumns+`
		FROM bootstrap_runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []*sink.Outcome
	for rows.Next() {
		o, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list runs: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// TriggerCounts tallies runs by the trigger that revealed the page.
func (s *Store) TriggerCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT trigger_kind, COUNT(*) FROM bootstrap_runs GROUP BY trigger_kind`)
	if err != nil {
		return nil, fmt.Errorf("store: trigger counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var trig string
		var n int
		if err := rows.Scan(&trig, &n); err != nil {
			return nil, fmt.Errorf("store: trigger counts: %w", err)
		}
		counts[trig] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*sink.Outcome, error) {
	var (
		o        sink.Outcome
		hidden   int
		started  int64
		finished sql.NullInt64
	)
	err := sc.Scan(&o.RunID, &o.Driver, &o.PageURL, &o.AccountID, &o.Mode, &o.RequestTarget,
		&o.Token, &o.State, &o.Trigger, &hidden, &o.HiddenForMS, &o.Error, &started, &finished)
	if err != nil {
		return nil, err
	}
	o.Hidden = hidden != 0
	o.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		o.FinishedAt = time.UnixMilli(finished.Int64)
	}
	return &o, nil
}
