// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/rbaliyan/calllog/store"
	"github.com/rbaliyan/calllog/store/internal/sqlbuild"
)

// Compile-time check
var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", mapError(err))
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", mapError(err))
	}

	s.logger.Info("connected to PostgreSQL", "calls_table", s.opts.callsTable)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	createCalls := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			number TEXT NOT NULL DEFAULT '',
			"date" BIGINT NOT NULL DEFAULT 0,
			duration BIGINT NOT NULL DEFAULT 0,
			"type" INTEGER NOT NULL DEFAULT 0,
			cached_name TEXT NOT NULL DEFAULT '',
			cached_number_type BIGINT NOT NULL DEFAULT 0,
			cached_number_label TEXT NOT NULL DEFAULT '',
			phone_account_id TEXT NOT NULL DEFAULT '',
			"new" INTEGER NOT NULL DEFAULT 1,
			is_read INTEGER NOT NULL DEFAULT 0,
			voicemail_uri TEXT NOT NULL DEFAULT '',
			transcription TEXT NOT NULL DEFAULT ''
		)
	`, s.opts.callsTable)
	if _, err := s.db.ExecContext(ctx, createCalls); err != nil {
		return fmt.Errorf("create calls table: %w", err)
	}

	createStatus := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			source_package TEXT PRIMARY KEY,
			configuration_state BIGINT NOT NULL DEFAULT 0,
			data_channel_state BIGINT NOT NULL DEFAULT 0,
			notification_channel_state BIGINT NOT NULL DEFAULT 0,
			settings_uri TEXT NOT NULL DEFAULT '',
			voicemail_access_uri TEXT NOT NULL DEFAULT ''
		)
	`, s.opts.voicemailTable)
	if _, err := s.db.ExecContext(ctx, createStatus); err != nil {
		return fmt.Errorf("create voicemail status table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_date ON %s("date" DESC)`, s.opts.callsTable, s.opts.callsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_type_date ON %s("type", "date" DESC)`, s.opts.callsTable, s.opts.callsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_account ON %s(phone_account_id)`, s.opts.callsTable, s.opts.callsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_new ON %s("new") WHERE "new" = 1`, s.opts.callsTable, s.opts.callsTable),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}
	return nil
}

// checkConnected returns error if not connected.
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

	query, args, err := sqlbuild.Select(sqlbuild.DialectPostgres, s.opts.callsTable, store.CallColumns, p)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", mapError(err))
	}
	columns, data, err := sqlbuild.Collect(rows)
	if err != nil {
		return nil, fmt.Errorf("read calls: %w", mapError(err))
	}
	return store.NewRows(columns, data), nil
}

// UpdateCalls applies u and returns the number of rows changed.
func (s *Store) UpdateCalls(ctx context.Context, u store.Update) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	query, args, err := sqlbuild.Update(sqlbuild.DialectPostgres, s.opts.callsTable, u)
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

// QueryVoicemailStatus returns every voicemail source.
func (s *Store) QueryVoicemailStatus(ctx context.Context) (store.ResultSet, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	query, args, err := sqlbuild.SelectAll(sqlbuild.DialectPostgres, s.opts.voicemailTable,
		store.VoicemailStatusColumns, store.ColumnSourcePackage)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query voicemail status: %w", mapError(err))
	}
	columns, data, err := sqlbuild.Collect(rows)
	if err != nil {
		return nil, fmt.Errorf("read voicemail status: %w", mapError(err))
	}
	return store.NewRows(columns, data), nil
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
	query, args, err := sqlbuild.Insert(sqlbuild.DialectPostgres, s.opts.callsTable, store.CallColumns, rows)
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
	if err := sqlbuild.ReplaceStatuses(ctx, tx, sqlbuild.DialectPostgres, s.opts.voicemailTable, statuses); err != nil {
		_ = tx.Rollback()
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapError(err))
	}
	return nil
}
