package calllog

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/calllog/store"
)

// Sentinel errors for the dispatcher.
var (
	// ErrStoreRequired is returned by New when no store is configured.
	ErrStoreRequired = errors.New("calllog: store is required")

	// ErrNotConnected is returned when an operation is submitted before Connect.
	// It is an admission error, not a storage fault.
	ErrNotConnected = errors.New("calllog: dispatcher not connected")

	// ErrAlreadyConnected is returned when Connect is called twice.
	ErrAlreadyConnected = fmt.Errorf("calllog: %w", store.ErrAlreadyConnected)

	// ErrClosed is returned when an operation is submitted after Close.
	ErrClosed = errors.New("calllog: dispatcher closed")

	// ErrFilterInvalid wraps every error raised while turning criteria into a
	// predicate, such as ErrSlotUnresolved or a failing SlotResolver.
	ErrFilterInvalid = fmt.Errorf("calllog: %w", store.ErrFilterInvalid)

	// ErrSlotUnresolved is returned in strict mode when a slot maps to no account.
	ErrSlotUnresolved = errors.New("calllog: slot resolved to no account")

	// ErrInvalidKind is returned when an unknown operation kind is used.
	ErrInvalidKind = errors.New("calllog: invalid operation kind")
)

// OperationError reports a background operation that failed with an error
// other than a storage fault.
type OperationError struct {
	Kind  OperationKind
	Token Token
	Err   error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("calllog: %s (%s): %v", e.Kind, e.Token.ID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// IsClosed reports whether err is ErrClosed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsStorageFault reports whether err is a storage fault the dispatcher
// suppresses instead of reporting.
func IsStorageFault(err error) bool {
	return store.IsStorageFault(err)
}
