// events.go defines the event types for extension notifications.
//
// Separated from extension.go to isolate the event system. Events enable
// extensions to react to resource changes without modifying core logic.
//
// Design: Events are fire-and-forget notifications, not approval requests.
// Extensions cannot block or veto operations via events - they observe
// after the fact. This keeps the core system simple and predictable.
// If approval workflows are needed, a separate hook system should be added.

package extension

import "github.com/jpl-au/fhird/internal/fhir"

// EventType identifies the kind of event.
type EventType string

const (
	EventResourceCreate EventType = "resource:create"
	EventResourceUpdate EventType = "resource:update"
	EventResourcePatch  EventType = "resource:patch"
	EventResourceDelete EventType = "resource:delete"
)

// Event is the base interface for all events.
type Event interface {
	EventType() EventType
	EventTarget() string
}

// ResourceEvent is fired after a committed write. One event per resource
// changed; a transaction bundle fires one per write entry, after the whole
// bundle commits.
type ResourceEvent struct {
	Type      string
	ID        string
	VersionID int64
	Op        fhir.Op
}

func (e ResourceEvent) EventType() EventType {
	switch e.Op {
	case fhir.OpCreate:
		return EventResourceCreate
	case fhir.OpPatch:
		return EventResourcePatch
	case fhir.OpDelete:
		return EventResourceDelete
	default:
		return EventResourceUpdate
	}
}

func (e ResourceEvent) EventTarget() string { return e.Type + "/" + e.ID }

// EventHandler is implemented by extensions that want to receive events.
type EventHandler interface {
	HandleEvent(ctx Context, e Event) error
}
