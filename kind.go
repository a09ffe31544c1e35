package calllog

// OperationKind identifies a dispatcher operation.
type OperationKind int

const (
	// KindFetchLog fetches calls filtered by type, date and slot.
	KindFetchLog OperationKind = iota + 1
	// KindFetchByFilterText fetches calls whose number or name contains a text.
	KindFetchByFilterText
	// KindFetchByDateRange fetches calls within a date window.
	KindFetchByDateRange
	// KindFetchVoicemailStatus fetches the voicemail source status table.
	KindFetchVoicemailStatus
	// KindMarkCallsOld clears the new flag of every call.
	KindMarkCallsOld
	// KindMarkVoicemailsOld clears the new flag of voicemails.
	KindMarkVoicemailsOld
	// KindMarkMissedRead marks unread missed calls as read.
	KindMarkMissedRead
)

// Kinds lists every operation kind.
var Kinds = []OperationKind{
	KindFetchLog,
	KindFetchByFilterText,
	KindFetchByDateRange,
	KindFetchVoicemailStatus,
	KindMarkCallsOld,
	KindMarkVoicemailsOld,
	KindMarkMissedRead,
}

// Valid reports whether k is a known kind.
func (k OperationKind) Valid() bool {
	return k >= KindFetchLog && k <= KindMarkMissedRead
}

func (k OperationKind) String() string {
	switch k {
	case KindFetchLog:
		return "fetch_log"
	case KindFetchByFilterText:
		return "fetch_by_filter_text"
	case KindFetchByDateRange:
		return "fetch_by_date_range"
	case KindFetchVoicemailStatus:
		return "fetch_voicemail_status"
	case KindMarkCallsOld:
		return "mark_calls_old"
	case KindMarkVoicemailsOld:
		return "mark_voicemails_old"
	case KindMarkMissedRead:
		return "mark_missed_read"
	default:
		return "unknown"
	}
}

// IsCallFetch reports whether results of k are delivered through
// Listener.OnCallsFetched.
func (k OperationKind) IsCallFetch() bool {
	return k == KindFetchLog || k == KindFetchByFilterText || k == KindFetchByDateRange
}

// IsUpdate reports whether k modifies the call log.
func (k OperationKind) IsUpdate() bool {
	return k == KindMarkCallsOld || k == KindMarkVoicemailsOld || k == KindMarkMissedRead
}

// slot is the outstanding-operation slot of k. All call list fetches share
// one slot so a newer list request supersedes any older one.
func (k OperationKind) slot() OperationKind {
	if k.IsCallFetch() {
		return KindFetchLog
	}
	return k
}
