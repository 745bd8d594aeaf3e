package sqlstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/tdowney/isolab/internal/store"
)

// PostgreSQL SQLSTATE codes the harness cares about.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// classify maps a driver error onto the step error taxonomy.
//
// Serialization failures and lock timeouts are expected demonstration
// outcomes; everything else is a broken statement.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	// Already classified by this package.
	var se *store.StepError
	if errors.As(err, &se) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return store.NewStepError(store.CodeSerializationFailure, op, pgErr.Message, err)
		case pgLockNotAvailable:
			return store.NewStepError(store.CodeLockTimeout, op, pgErr.Message, err)
		}
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return store.NewStepError(store.CodeLockTimeout, op, sqliteErr.Error(), err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return store.NewStepError(store.CodeLockTimeout, op, "statement exceeded its execution budget", err)
	}

	return store.NewStepError(store.CodeStepExecution, op, err.Error(), err)
}
