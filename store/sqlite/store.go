// Package sqlite provides an embedded SQLite implementation of store.Store
// using the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/rbaliyan/calllog/store"
	"github.com/rbaliyan/calllog/store/internal/sqlbuild"
)

// DriverName is the database/sql driver name registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Compile-time check
var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

// Store implements store.Store using SQLite.
type Store struct {
	db        *sqlx.DB
	owned     bool
	opts      *options
	connected int32
	closed    int32
	logger    *slog.Logger
}

// New creates a new SQLite store with the provided database connection.
// Call Connect() to initialize the schema.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// Open opens the database file at path and returns a store that owns the
// connection; Close closes it.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection keeps :memory: databases
	// shared and turns lock contention into SQLITE_BUSY waits.
	db.SetMaxOpenConns(1)
	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// Connect initializes the schema.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("sqlite: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("sqlite ping: %w", mapError(err))
	}

	pragma := fmt.Sprintf("PRAGMA busy_timeout = %d", s.opts.busyTimeout.Milliseconds())
	if _, err := s.db.ExecContext(ctx, pragma); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("sqlite busy timeout: %w", mapError(err))
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", mapError(err))
	}

	s.logger.Info("connected to SQLite", "calls_table", s.opts.callsTable)
	return nil
}

// Close marks the store as disconnected and closes the database if the
// store opened it.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	if s.owned && atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying connection.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			number TEXT NOT NULL DEFAULT '',
			"date" INTEGER NOT NULL DEFAULT 0,
			duration INTEGER NOT NULL DEFAULT 0,
			"type" INTEGER NOT NULL DEFAULT 0,
			cached_name TEXT NOT NULL DEFAULT '',
			cached_number_type INTEGER NOT NULL DEFAULT 0,
			cached_number_label TEXT NOT NULL DEFAULT '',
			phone_account_id TEXT NOT NULL DEFAULT '',
			"new" INTEGER NOT NULL DEFAULT 1,
			is_read INTEGER NOT NULL DEFAULT 0,
			voicemail_uri TEXT NOT NULL DEFAULT '',
			transcription TEXT NOT NULL DEFAULT ''
		)`, s.opts.callsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			source_package TEXT PRIMARY KEY,
			configuration_state INTEGER NOT NULL DEFAULT 0,
			data_channel_state INTEGER NOT NULL DEFAULT 0,
			notification_channel_state INTEGER NOT NULL DEFAULT 0,
			settings_uri TEXT NOT NULL DEFAULT '',
			voicemail_access_uri TEXT NOT NULL DEFAULT ''
		)`, s.opts.voicemailTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_date ON %s("date" DESC)`, s.opts.callsTable, s.opts.callsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_type_date ON %s("type", "date" DESC)`, s.opts.callsTable, s.opts.callsTable),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// QueryCalls returns matching calls, newest first.
func (s *Store) QueryCalls(ctx context.Context, p store.Predicate) (store.ResultSet, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	query, args, err := sqlbuild.Select(sqlbuild.DialectSQLite, s.opts.callsTable, store.CallColumns, p)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, "calls", query, args)
}

// QueryVoicemailStatus returns every voicemail source.
func (s *Store) QueryVoicemailStatus(ctx context.Context) (store.ResultSet, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	query, args, err := sqlbuild.SelectAll(sqlbuild.DialectSQLite, s.opts.voicemailTable,
		store.VoicemailStatusColumns, store.ColumnSourcePackage)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, "voicemail status", query, args)
}

func (s *Store) query(ctx context.Context, what, query string, args []any) (store.ResultSet, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, mapError(err))
	}
	columns, data, err := sqlbuild.Collect(rows)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", what, mapError(err))
	}
	return store.NewRows(columns, data), nil
}

// UpdateCalls applies u and returns the number of rows changed.
func (s *Store) UpdateCalls(ctx context.Context, u store.Update) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	query, args, err := sqlbuild.Update(sqlbuild.DialectSQLite, s.opts.callsTable, u)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update calls: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", mapError(err))
	}
	return n, nil
}

// InsertCalls adds calls in one statement.
func (s *Store) InsertCalls(ctx context.Context, calls []store.Call) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if len(calls) == 0 {
		return nil
	}
	rows := make([][]any, len(calls))
	for i := range calls {
		c := calls[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		rows[i] = c.Row(store.CallColumns)
	}
	query, args, err := sqlbuild.Insert(sqlbuild.DialectSQLite, s.opts.callsTable, store.CallColumns, rows)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert calls: %w", mapError(err))
	}
	return nil
}

// UpsertVoicemailStatus replaces the status of each source package in a transaction.
func (s *Store) UpsertVoicemailStatus(ctx context.Context, statuses []store.VoicemailStatus) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if len(statuses) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapError(err))
	}
	if err := sqlbuild.ReplaceStatuses(ctx, tx, sqlbuild.DialectSQLite, s.opts.voicemailTable, statuses); err != nil {
		_ = tx.Rollback()
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapError(err))
	}
	return nil
}
