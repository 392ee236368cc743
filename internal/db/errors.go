package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/value-voyage/backend/internal/apperr"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Classify wraps an engine error as a storage error and marks lock
// contention. Errors that are already classified pass through.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	e := apperr.Storage(op, err)
	e.Lock = IsLockError(err)
	return e
}

// IsLockError reports whether err is the engine giving up on a lock wait.
func IsLockError(err error) bool {
	var liteErr *msqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01", "40001", "55P03": // deadlock, serialization, lock_not_available
			return true
		}
	}
	return false
}
