// Package store provides the storage boundary for the call log dispatcher.
// Implementations are in store/memory, store/sqlite, store/postgres and
// store/mongo subpackages.
//
// Backends translate their driver errors into the sentinel errors of this
// package. ErrDiskFull, ErrDiskIO, ErrCorrupt and ErrUnavailable are storage
// faults: expected environmental failures that callers treat as "no result".
// ErrBusy is transient and may be retried. Any other error is a real
// failure and must be surfaced.
package store

import "context"

// CallReader runs call log queries.
type CallReader interface {
	// QueryCalls returns the calls matching p, newest first, at most
	// p.Limit() rows (all rows when the limit is zero). Columns are
	// CallColumns.
	QueryCalls(ctx context.Context, p Predicate) (ResultSet, error)
}

// CallUpdater runs bulk updates on the call log.
type CallUpdater interface {
	// UpdateCalls applies u and returns the number of rows changed.
	UpdateCalls(ctx context.Context, u Update) (int64, error)
}

// VoicemailStatusReader reads the voicemail source status table.
type VoicemailStatusReader interface {
	// QueryVoicemailStatus returns every voicemail source. Columns are
	// VoicemailStatusColumns.
	QueryVoicemailStatus(ctx context.Context) (ResultSet, error)
}

// Store is the complete storage interface used by the dispatcher.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	CallReader
	CallUpdater
	VoicemailStatusReader
}

// Seeder writes call log data. Backends implement it so tools and tests
// can populate a store; the dispatcher never writes rows.
type Seeder interface {
	// InsertCalls adds calls. Calls without an ID get a generated one.
	InsertCalls(ctx context.Context, calls []Call) error
	// UpsertVoicemailStatus replaces the status of each source package.
	UpsertVoicemailStatus(ctx context.Context, statuses []VoicemailStatus) error
}
