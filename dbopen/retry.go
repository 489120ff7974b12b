package dbopen

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const busyAttempts = 3

// IsBusy reports whether err is an SQLite lock contention error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// Exec runs a statement, retrying lock contention with a 100/200ms backoff.
func Exec(ctx context.Context, db sqlx.ExecerContext, query string, args ...any) error {
	return retryBusy(ctx, func() error {
		_, err := db.ExecContext(ctx, query, args...)
		return err
	})
}

// RunTx runs fn in a transaction, retrying the whole transaction on lock
// contention.
func RunTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	return retryBusy(ctx, func() error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func retryBusy(ctx context.Context, fn func() error) error {
	var err error
	for i := range busyAttempts {
		if err = fn(); err == nil || !IsBusy(err) {
			return err
		}
		if i == busyAttempts-1 {
			break
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}
