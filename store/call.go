package store

import (
	"database/sql/driver"
	"fmt"
)

// CallType is the kind of a call log entry.
type CallType int

// Call types as stored in the type column.
const (
	CallTypeIncoming  CallType = 1
	CallTypeOutgoing  CallType = 2
	CallTypeMissed    CallType = 3
	CallTypeVoicemail CallType = 4
	CallTypeRejected  CallType = 5
	CallTypeBlocked   CallType = 6
)

// Valid reports whether t is a concrete call type.
func (t CallType) Valid() bool {
	return t >= CallTypeIncoming && t <= CallTypeBlocked
}

func (t CallType) String() string {
	switch t {
	case CallTypeIncoming:
		return "incoming"
	case CallTypeOutgoing:
		return "outgoing"
	case CallTypeMissed:
		return "missed"
	case CallTypeVoicemail:
		return "voicemail"
	case CallTypeRejected:
		return "rejected"
	case CallTypeBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("CallType(%d)", int(t))
	}
}

// Value implements driver.Valuer so call types bind as integers.
func (t CallType) Value() (driver.Value, error) {
	return int64(t), nil
}

// ParseCallType parses the name of a call type as returned by String.
func ParseCallType(s string) (CallType, error) {
	for t := CallTypeIncoming; t <= CallTypeBlocked; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown call type %q", ErrFilterInvalid, s)
}

// Call log columns.
const (
	ColumnID                = "id"
	ColumnNumber            = "number"
	ColumnDate              = "date"
	ColumnDuration          = "duration"
	ColumnType              = "type"
	ColumnCachedName        = "cached_name"
	ColumnCachedNumberType  = "cached_number_type"
	ColumnCachedNumberLabel = "cached_number_label"
	ColumnPhoneAccountID    = "phone_account_id"
	ColumnNew               = "new"
	ColumnIsRead            = "is_read"
	ColumnVoicemailURI      = "voicemail_uri"
	ColumnTranscription     = "transcription"
)

// Voicemail status columns.
const (
	ColumnSourcePackage            = "source_package"
	ColumnConfigurationState       = "configuration_state"
	ColumnDataChannelState         = "data_channel_state"
	ColumnNotificationChannelState = "notification_channel_state"
	ColumnSettingsURI              = "settings_uri"
	ColumnVoicemailAccessURI       = "voicemail_access_uri"
)

// CallColumns is the projection returned for call list fetches, in order.
var CallColumns = []string{
	ColumnID,
	ColumnNumber,
	ColumnDate,
	ColumnDuration,
	ColumnType,
	ColumnCachedName,
	ColumnCachedNumberType,
	ColumnCachedNumberLabel,
	ColumnPhoneAccountID,
	ColumnNew,
	ColumnIsRead,
	ColumnVoicemailURI,
	ColumnTranscription,
}

// VoicemailStatusColumns is the projection returned for voicemail status fetches.
var VoicemailStatusColumns = []string{
	ColumnSourcePackage,
	ColumnConfigurationState,
	ColumnDataChannelState,
	ColumnNotificationChannelState,
	ColumnSettingsURI,
	ColumnVoicemailAccessURI,
}

// SortColumn is the column every call list is ordered by, newest first.
const SortColumn = ColumnDate

var callColumnSet = func() map[string]bool {
	m := make(map[string]bool, len(CallColumns))
	for _, c := range CallColumns {
		m[c] = true
	}
	return m
}()

// IsCallColumn reports whether name is a call log column.
func IsCallColumn(name string) bool {
	return callColumnSet[name]
}

// Call is one call log entry.
type Call struct {
	ID                string
	Number            string
	Date              int64 // milliseconds since epoch
	Duration          int64 // seconds
	Type              CallType
	CachedName        string
	CachedNumberType  int64
	CachedNumberLabel string
	PhoneAccountID    string
	New               bool
	IsRead            bool
	VoicemailURI      string
	Transcription     string
}

// Value returns the stored value of column. Booleans are stored as 0/1
// integers and call types as integers, matching the SQL backends.
func (c *Call) Value(column string) (any, bool) {
	switch column {
	case ColumnID:
		return c.ID, true
	case ColumnNumber:
		return c.Number, true
	case ColumnDate:
		return c.Date, true
	case ColumnDuration:
		return c.Duration, true
	case ColumnType:
		return int64(c.Type), true
	case ColumnCachedName:
		return c.CachedName, true
	case ColumnCachedNumberType:
		return c.CachedNumberType, true
	case ColumnCachedNumberLabel:
		return c.CachedNumberLabel, true
	case ColumnPhoneAccountID:
		return c.PhoneAccountID, true
	case ColumnNew:
		return boolToInt(c.New), true
	case ColumnIsRead:
		return boolToInt(c.IsRead), true
	case ColumnVoicemailURI:
		return c.VoicemailURI, true
	case ColumnTranscription:
		return c.Transcription, true
	}
	return nil, false
}

// Set assigns v to column.
func (c *Call) Set(column string, v any) error {
	var err error
	switch column {
	case ColumnID:
		c.ID, err = AsString(v)
	case ColumnNumber:
		c.Number, err = AsString(v)
	case ColumnDate:
		c.Date, err = AsInt64(v)
	case ColumnDuration:
		c.Duration, err = AsInt64(v)
	case ColumnType:
		var n int64
		n, err = AsInt64(v)
		c.Type = CallType(n)
	case ColumnCachedName:
		c.CachedName, err = AsString(v)
	case ColumnCachedNumberType:
		c.CachedNumberType, err = AsInt64(v)
	case ColumnCachedNumberLabel:
		c.CachedNumberLabel, err = AsString(v)
	case ColumnPhoneAccountID:
		c.PhoneAccountID, err = AsString(v)
	case ColumnNew:
		var n int64
		n, err = AsInt64(v)
		c.New = n != 0
	case ColumnIsRead:
		var n int64
		n, err = AsInt64(v)
		c.IsRead = n != 0
	case ColumnVoicemailURI:
		c.VoicemailURI, err = AsString(v)
	case ColumnTranscription:
		c.Transcription, err = AsString(v)
	default:
		return fmt.Errorf("%w: unknown column %q", ErrFilterInvalid, column)
	}
	if err != nil {
		return fmt.Errorf("column %s: %w", column, err)
	}
	return nil
}

// Row returns the values of columns in order.
func (c *Call) Row(columns []string) []any {
	row := make([]any, len(columns))
	for i, col := range columns {
		row[i], _ = c.Value(col)
	}
	return row
}

// VoicemailStatus is the state of one voicemail source.
type VoicemailStatus struct {
	SourcePackage            string
	ConfigurationState       int64
	DataChannelState         int64
	NotificationChannelState int64
	SettingsURI              string
	VoicemailAccessURI       string
}

// Row returns the status values in VoicemailStatusColumns order.
func (v *VoicemailStatus) Row() []any {
	return []any{
		v.SourcePackage,
		v.ConfigurationState,
		v.DataChannelState,
		v.NotificationChannelState,
		v.SettingsURI,
		v.VoicemailAccessURI,
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
