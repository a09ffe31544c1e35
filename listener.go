package calllog

import "github.com/rbaliyan/calllog/store"

// Listener receives the results of fetch operations. Callbacks run on the
// dispatcher's Deliverer, never on the storage worker.
type Listener interface {
	// OnCallsFetched receives the calls of the latest call list fetch.
	// Returning true takes ownership of rs and the listener must close it.
	// Returning false leaves rs to the dispatcher, which closes it.
	OnCallsFetched(rs store.ResultSet) bool

	// OnVoicemailStatusFetched receives the voicemail source status. rs is
	// closed when the callback returns.
	OnVoicemailStatusFetched(rs store.ResultSet)
}

// FailureListener is an optional Listener extension notified when an
// operation fails with an error that is not a storage fault.
type FailureListener interface {
	OnOperationFailed(kind OperationKind, err error)
}

// ListenerFuncs adapts functions to Listener and FailureListener.
// Nil fields are ignored.
type ListenerFuncs struct {
	CallsFetched           func(rs store.ResultSet) bool
	VoicemailStatusFetched func(rs store.ResultSet)
	OperationFailed        func(kind OperationKind, err error)
}

var (
	_ Listener        = ListenerFuncs{}
	_ FailureListener = ListenerFuncs{}
)

func (f ListenerFuncs) OnCallsFetched(rs store.ResultSet) bool {
	if f.CallsFetched == nil {
		return false
	}
	return f.CallsFetched(rs)
}

func (f ListenerFuncs) OnVoicemailStatusFetched(rs store.ResultSet) {
	if f.VoicemailStatusFetched != nil {
		f.VoicemailStatusFetched(rs)
	}
}

func (f ListenerFuncs) OnOperationFailed(kind OperationKind, err error) {
	if f.OperationFailed != nil {
		f.OperationFailed(kind, err)
	}
}

// listenerHolder boxes a Listener so it can live in an atomic.Pointer.
type listenerHolder struct {
	l Listener
}
