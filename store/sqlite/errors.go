package sqlite

import (
	"errors"
	"fmt"
	"strings"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rbaliyan/calllog/store"
)

// mapError translates SQLite result codes into store sentinel errors.
// The original error stays in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return err
	}
	if kind := classify(se.Code(), se.Error()); kind != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return err
}

// classify maps a (possibly extended) result code to a sentinel error.
func classify(code int, msg string) error {
	switch code & 0xff {
	case sqlite3.SQLITE_FULL:
		return store.ErrDiskFull
	case sqlite3.SQLITE_IOERR:
		return store.ErrDiskIO
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return store.ErrCorrupt
	case sqlite3.SQLITE_CANTOPEN:
		return store.ErrUnavailable
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return store.ErrBusy
	case sqlite3.SQLITE_ERROR:
		if strings.Contains(msg, "no such table") {
			return store.ErrUnavailable
		}
	}
	return nil
}
