package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/rbaliyan/calllog/store"
)

// mapError translates PostgreSQL errors into store sentinel errors.
// The original error stays in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if kind := classify(err); kind != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return err
}

func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "53100": // disk_full
			return store.ErrDiskFull
		case "XX001", "XX002": // data_corrupted, index_corrupted
			return store.ErrCorrupt
		case "42P01": // undefined_table
			return store.ErrUnavailable
		case "40P01", "55P03": // deadlock_detected, lock_not_available
			return store.ErrBusy
		}
		switch pqErr.Code.Class() {
		case "58": // system_error, io_error
			return store.ErrDiskIO
		case "08", "57": // connection_exception, operator_intervention
			return store.ErrUnavailable
		}
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return store.ErrUnavailable
	}
	return nil
}
