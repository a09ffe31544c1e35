package postgres

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultCallsTable     = "calls"
	DefaultVoicemailTable = "voicemail_status"
	DefaultTimeout        = 10 * time.Second
)

// options holds PostgreSQL store configuration.
type options struct {
	callsTable     string
	voicemailTable string
	timeout        time.Duration
	logger         *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		callsTable:     DefaultCallsTable,
		voicemailTable: DefaultVoicemailTable,
		timeout:        DefaultTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a PostgreSQL store.
type Option func(*options)

// WithCallsTable sets the call log table name.
func WithCallsTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.callsTable = name
		}
	}
}

// WithVoicemailTable sets the voicemail status table name.
func WithVoicemailTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.voicemailTable = name
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
