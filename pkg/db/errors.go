// Package errors pkg/db/errors.go provides errors for the db package.

package db

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrFailedOpenDB      = errors.New("failed to open database")
	ErrFailedToInit      = errors.New("failed to initialize schema")
	ErrFailedToEnableWAL = errors.New("failed to enable WAL mode")
	ErrFailedToBeginTx   = errors.New("failed to begin transaction")
	ErrFailedToInsert    = errors.New("failed to insert")
	ErrFailedToUpsert    = errors.New("failed to upsert")
	ErrFailedToQuery     = errors.New("failed to query")
	ErrFailedToScan      = errors.New("failed to scan")
	ErrFailedToClean     = errors.New("failed to clean")
	ErrNotFound          = errors.New("not found")
)

// IsTransient reports whether a store error is lock contention worth
// retrying. Everything else is structural and permanent.
func IsTransient(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked
	}

	return false
}
