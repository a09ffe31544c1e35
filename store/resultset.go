package store

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ResultSet is a forward-only cursor over the rows of a query. It holds
// resources until Close is called; exactly one party must close it.
type ResultSet interface {
	// Columns returns the column names of every row.
	Columns() []string
	// Next advances to the next row and reports whether one exists.
	Next() bool
	// Values returns the current row. The slice must not be retained
	// across calls to Next.
	Values() []any
	// Err returns the error, if any, encountered during iteration.
	Err() error
	// Close releases the result set. It is safe to call more than once.
	Close() error
}

// ErrResultSetClosed is returned when a closed result set is read.
var ErrResultSetClosed = errors.New("store: result set closed")

// Rows is a ResultSet over rows already read into memory.
// All backends in this module materialize their results before returning,
// so a Rows never pins a database connection.
type Rows struct {
	columns []string
	rows    [][]any
	pos     int
	err     error
	closed  atomic.Bool
}

var _ ResultSet = (*Rows)(nil)

// NewRows returns a result set over rows. Each row must have one value per column.
func NewRows(columns []string, rows [][]any) *Rows {
	return &Rows{columns: columns, rows: rows, pos: -1}
}

func (r *Rows) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

func (r *Rows) Next() bool {
	if r.closed.Load() {
		r.err = ErrResultSetClosed
		return false
	}
	if r.pos+1 >= len(r.rows) {
		r.pos = len(r.rows)
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Values() []any {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil
	}
	return r.rows[r.pos]
}

func (r *Rows) Err() error { return r.err }

func (r *Rows) Close() error {
	r.closed.Store(true)
	return nil
}

// Len returns the total number of rows.
func (r *Rows) Len() int { return len(r.rows) }

// Closed reports whether Close has been called.
func (r *Rows) Closed() bool { return r.closed.Load() }

// ScanCalls reads every remaining row of rs into calls. It does not close rs.
func ScanCalls(rs ResultSet) ([]Call, error) {
	cols := rs.Columns()
	var calls []Call
	for rs.Next() {
		var c Call
		for i, v := range rs.Values() {
			if i >= len(cols) {
				break
			}
			if err := c.Set(cols[i], v); err != nil {
				return nil, fmt.Errorf("scan call: %w", err)
			}
		}
		calls = append(calls, c)
	}
	return calls, rs.Err()
}

// ScanVoicemailStatus reads every remaining row of rs. It does not close rs.
func ScanVoicemailStatus(rs ResultSet) ([]VoicemailStatus, error) {
	cols := rs.Columns()
	var out []VoicemailStatus
	for rs.Next() {
		var s VoicemailStatus
		var err error
		for i, v := range rs.Values() {
			if i >= len(cols) {
				break
			}
			switch cols[i] {
			case ColumnSourcePackage:
				s.SourcePackage, err = AsString(v)
			case ColumnConfigurationState:
				s.ConfigurationState, err = AsInt64(v)
			case ColumnDataChannelState:
				s.DataChannelState, err = AsInt64(v)
			case ColumnNotificationChannelState:
				s.NotificationChannelState, err = AsInt64(v)
			case ColumnSettingsURI:
				s.SettingsURI, err = AsString(v)
			case ColumnVoicemailAccessURI:
				s.VoicemailAccessURI, err = AsString(v)
			}
			if err != nil {
				return nil, fmt.Errorf("scan voicemail status %s: %w", cols[i], err)
			}
		}
		out = append(out, s)
	}
	return out, rs.Err()
}
