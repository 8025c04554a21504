package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// busyAttempts bounds Exec; waits grow linearly from busyStep.
const (
	busyAttempts = 3
	busyStep     = 100 * time.Millisecond
)

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, including
// their extended codes.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// Exec runs a write, retrying while the database stays busy past its
// busy_timeout. The last error is returned once attempts run out.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var err error
	for attempt := 1; ; attempt++ {
		var res sql.Result
		res, err = db.ExecContext(ctx, query, args...)
		if err == nil || !IsBusy(err) || attempt == busyAttempts {
			return res, err
		}

		wait := time.NewTimer(time.Duration(attempt) * busyStep)
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil, ctx.Err()
		case <-wait.C:
		}
	}
}
