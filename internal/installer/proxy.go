package installer

import (
	"context"
	"os"
)

// BusScope selects which message bus the session connects to.
type BusScope string

const (
	// BusSystem is the system-wide bus the installer daemon normally
	// lives on.
	BusSystem BusScope = "system"
	// BusSession is the per-login bus, used when the daemon runs inside
	// a user session (development setups, tests).
	BusSession BusScope = "session"
)

// ResolveBusScope picks the bus scope from the standard D-Bus activation
// hint. Anything other than an explicit "session" means the system bus.
func ResolveBusScope() BusScope {
	if os.Getenv("DBUS_STARTER_BUS_TYPE") == "session" {
		return BusSession
	}
	return BusSystem
}

// PropertyHandler receives property-change notifications from the remote
// installer, including the invalidation that signals the service vanished.
type PropertyHandler func(update PropertyUpdate)

// CompletedHandler receives the one-shot completion code from the remote
// installer.
type CompletedHandler func(result int32)

// Proxy is the session's view of the remote installer service. The D-Bus
// implementation lives in internal/rauc; tests use internal/installer/mock.
//
// Handler registration must happen before Install. Close disconnects both
// handlers and releases the underlying channel; it is idempotent and safe
// to call even when the connection was never fully established.
type Proxy interface {
	// OnPropertyChanged registers the handler for property-change
	// notifications.
	OnPropertyChanged(handler PropertyHandler) error

	// OnCompleted registers the handler for the completion notification.
	OnCompleted(handler CompletedHandler) error

	// Install starts installation of the bundle on the remote service.
	// A nil return means the operation was accepted and will report its
	// outcome through the registered handlers.
	Install(ctx context.Context, bundle string) error

	// Close disconnects handlers and releases the connection.
	Close() error
}

// Dialer establishes a Proxy on the given bus scope. It is injected into
// Start so the transport can be swapped out in tests.
type Dialer func(ctx context.Context, scope BusScope) (Proxy, error)
