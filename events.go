package calllog

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for call log events.
const (
	EventNameCallsMarkedOld      = "calllog.calls.marked_old"
	EventNameVoicemailsMarkedOld = "calllog.voicemails.marked_old"
	EventNameMissedCallsRead     = "calllog.missed.read"
)

// CallsUpdatedEvent is published after a Mark* operation changed the call log.
type CallsUpdatedEvent struct {
	Operation string    `json:"operation"`
	Rows      int64     `json:"rows"`
	At        time.Time `json:"at"`
}

// DispatcherEvents provides access to per-dispatcher event instances.
//
// Subscribe to events:
//
//	d.Events().MissedCallsRead.Subscribe(ctx, handler)
type DispatcherEvents struct {
	// CallsMarkedOld is published after MarkNewCallsAsOld.
	CallsMarkedOld event.Event[CallsUpdatedEvent]

	// VoicemailsMarkedOld is published after MarkNewVoicemailsAsOld.
	VoicemailsMarkedOld event.Event[CallsUpdatedEvent]

	// MissedCallsRead is published after MarkMissedCallsAsRead.
	MissedCallsRead event.Event[CallsUpdatedEvent]
}

// newDispatcherEvents creates per-dispatcher event instances with a unique name prefix.
func newDispatcherEvents(namePrefix string) *DispatcherEvents {
	return &DispatcherEvents{
		CallsMarkedOld:      event.New[CallsUpdatedEvent](namePrefix + "." + EventNameCallsMarkedOld),
		VoicemailsMarkedOld: event.New[CallsUpdatedEvent](namePrefix + "." + EventNameVoicemailsMarkedOld),
		MissedCallsRead:     event.New[CallsUpdatedEvent](namePrefix + "." + EventNameMissedCallsRead),
	}
}

// registerDispatcherEvents registers per-dispatcher events with the given bus.
func registerDispatcherEvents(ctx context.Context, bus *event.Bus, events *DispatcherEvents) error {
	if err := event.Register(ctx, bus, events.CallsMarkedOld); err != nil {
		return fmt.Errorf("register CallsMarkedOld: %w", err)
	}
	if err := event.Register(ctx, bus, events.VoicemailsMarkedOld); err != nil {
		return fmt.Errorf("register VoicemailsMarkedOld: %w", err)
	}
	if err := event.Register(ctx, bus, events.MissedCallsRead); err != nil {
		return fmt.Errorf("register MissedCallsRead: %w", err)
	}
	return nil
}

// eventFor returns the event published after an update kind, and its name
// for failure reports.
func (e *DispatcherEvents) eventFor(kind OperationKind) (event.Event[CallsUpdatedEvent], string, bool) {
	switch kind {
	case KindMarkCallsOld:
		return e.CallsMarkedOld, "CallsMarkedOld", true
	case KindMarkVoicemailsOld:
		return e.VoicemailsMarkedOld, "VoicemailsMarkedOld", true
	case KindMarkMissedRead:
		return e.MissedCallsRead, "MissedCallsRead", true
	default:
		var none event.Event[CallsUpdatedEvent]
		return none, "", false
	}
}
