package installer

import (
	"fmt"
	"time"
)

// EventType identifies the kind of progress record.
type EventType string

const (
	// EventOperation reports that the installer entered a named phase.
	EventOperation EventType = "operation"
	// EventProgress reports a percentage step within the install.
	EventProgress EventType = "progress"
	// EventLastError reports a non-empty error message from the installer.
	EventLastError EventType = "last_error"
)

// Event is one immutable progress record derived from a remote
// property-change notification. Exactly one of the field groups is
// populated, selected by Type. Ownership transfers to the queue on push
// and to the caller on delivery; events are never mutated after creation.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// Operation name (Type == EventOperation).
	Operation string

	// Progress fields (Type == EventProgress).
	Percent int32
	Message string
	Depth   int32

	// Error message (Type == EventLastError).
	Error string
}

// IsOperation returns true if this is an operation-changed record.
func (e Event) IsOperation() bool { return e.Type == EventOperation }

// IsProgress returns true if this is a progress record.
func (e Event) IsProgress() bool { return e.Type == EventProgress }

// IsLastError returns true if this is a last-error record.
func (e Event) IsLastError() bool { return e.Type == EventLastError }

// String renders the record the way the plain CLI prints it.
func (e Event) String() string {
	switch e.Type {
	case EventOperation:
		return e.Operation
	case EventProgress:
		return fmt.Sprintf("%3d%% %s", e.Percent, e.Message)
	case EventLastError:
		return fmt.Sprintf("LastError: %s", e.Error)
	default:
		return ""
	}
}

// Progress is the (percentage, message, nesting depth) triple the
// installer publishes under its Progress property.
type Progress struct {
	Percent int32
	Message string
	Depth   int32
}

// PropertyUpdate is one property-change notification from the remote
// installer. Changed maps property names to their decoded values; a
// non-empty Invalidated list means the service endpoint vanished.
type PropertyUpdate struct {
	Changed     map[string]any
	Invalidated []string
}

// Vanished returns true if the notification signals loss of the remote
// service rather than a property change.
func (u PropertyUpdate) Vanished() bool { return len(u.Invalidated) > 0 }

// classify converts a property-change payload into at most one Event.
// Matching follows a fixed priority: an Operation string wins over a
// Progress triple, which wins over a non-empty LastError. Empty LastError
// values and unrecognized payloads produce no record.
func classify(changed map[string]any, now time.Time) (Event, bool) {
	if op, ok := changed["Operation"].(string); ok {
		return Event{Type: EventOperation, Operation: op, Timestamp: now}, true
	}
	if p, ok := changed["Progress"].(Progress); ok {
		return Event{
			Type:      EventProgress,
			Percent:   p.Percent,
			Message:   p.Message,
			Depth:     p.Depth,
			Timestamp: now,
		}, true
	}
	if msg, ok := changed["LastError"].(string); ok && msg != "" {
		return Event{Type: EventLastError, Error: msg, Timestamp: now}, true
	}
	return Event{}, false
}
