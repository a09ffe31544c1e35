package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrFilterInvalid is returned when a predicate or update is malformed.
	ErrFilterInvalid = errors.New("store: invalid filter")

	// ErrDiskFull is returned when the backing storage has no space left.
	ErrDiskFull = errors.New("store: disk full")

	// ErrDiskIO is returned when the backing storage fails to read or write.
	ErrDiskIO = errors.New("store: disk i/o error")

	// ErrCorrupt is returned when the backing storage is damaged.
	ErrCorrupt = errors.New("store: database corrupt")

	// ErrUnavailable is returned when the backing store is absent or misconfigured.
	ErrUnavailable = errors.New("store: unavailable")

	// ErrBusy is returned when the backing store is locked by another writer.
	// It is transient and may be retried.
	ErrBusy = errors.New("store: busy")
)

// Fault classifies a storage-layer failure.
type Fault int

const (
	// FaultNone means the error is not a storage fault.
	FaultNone Fault = iota
	FaultDiskFull
	FaultDiskIO
	FaultCorrupt
	FaultUnavailable
)

// String returns the metric/log label for the fault.
func (f Fault) String() string {
	switch f {
	case FaultDiskFull:
		return "disk_full"
	case FaultDiskIO:
		return "disk_io"
	case FaultCorrupt:
		return "corrupt"
	case FaultUnavailable:
		return "unavailable"
	default:
		return "none"
	}
}

// FaultOf classifies err. Storage faults are expected environmental
// conditions; everything else is FaultNone and must be surfaced by callers.
func FaultOf(err error) Fault {
	switch {
	case err == nil:
		return FaultNone
	case errors.Is(err, ErrDiskFull):
		return FaultDiskFull
	case errors.Is(err, ErrDiskIO):
		return FaultDiskIO
	case errors.Is(err, ErrCorrupt):
		return FaultCorrupt
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrNotConnected):
		return FaultUnavailable
	default:
		return FaultNone
	}
}

// Error checking helpers.

// IsStorageFault reports whether err is an expected storage-layer failure.
func IsStorageFault(err error) bool {
	return FaultOf(err) != FaultNone
}

func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

func IsFilterInvalid(err error) bool {
	return errors.Is(err, ErrFilterInvalid)
}
