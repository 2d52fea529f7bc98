// Package rauc implements the installer proxy over D-Bus against the
// RAUC service (de.pengutronix.rauc). It adapts raw bus signals into the
// transport-agnostic notifications the install session consumes.
package rauc

import (
	"context"
	"fmt"
	"sync"

	dbus "github.com/godbus/dbus/v5"

	"github.com/fwkit/rauctl/internal/installer"
	"github.com/fwkit/rauctl/internal/log"
)

const (
	// BusName is the well-known bus name of the RAUC service.
	BusName = "de.pengutronix.rauc"
	// ObjectPath is the path of the installer object.
	ObjectPath dbus.ObjectPath = "/"
	// InterfaceInstaller is the RAUC installer interface.
	InterfaceInstaller = "de.pengutronix.rauc.Installer"

	ifaceProperties = "org.freedesktop.DBus.Properties"
	ifaceDBus       = "org.freedesktop.DBus"

	signalPropertiesChanged = ifaceProperties + ".PropertiesChanged"
	signalCompleted         = InterfaceInstaller + ".Completed"
	signalNameOwnerChanged  = ifaceDBus + ".NameOwnerChanged"
)

// Proxy talks to the RAUC service over a private bus connection. It
// implements installer.Proxy; the one-shot query methods (Status, Info,
// Mark) back the CLI's read-only commands.
type Proxy struct {
	conn *dbus.Conn
	obj  dbus.BusObject

	mu          sync.Mutex
	onProperty  installer.PropertyHandler
	onCompleted installer.CompletedHandler
	closed      bool

	signals chan *dbus.Signal
}

// Dial opens a private connection on the given bus scope and binds a
// proxy to the RAUC service object.
func Dial(ctx context.Context, scope installer.BusScope) (*Proxy, error) {
	conn, err := connect(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s bus: %w", scope, err)
	}

	p := &Proxy{
		conn:    conn,
		obj:     conn.Object(BusName, ObjectPath),
		signals: make(chan *dbus.Signal, 32),
	}
	conn.Signal(p.signals)
	go p.pump()

	log.Debug(log.CatDBus, "connected", "bus", scope, "service", BusName)
	return p, nil
}

// Dialer adapts Dial to the installer's dialer contract.
func Dialer() installer.Dialer {
	return func(ctx context.Context, scope installer.BusScope) (installer.Proxy, error) {
		return Dial(ctx, scope)
	}
}

func connect(ctx context.Context, scope installer.BusScope) (*dbus.Conn, error) {
	if scope == installer.BusSession {
		return dbus.ConnectSessionBus(dbus.WithContext(ctx))
	}
	return dbus.ConnectSystemBus(dbus.WithContext(ctx))
}

// OnPropertyChanged subscribes to the service's PropertiesChanged signal
// and to NameOwnerChanged so loss of the service surfaces as an
// invalidation, the same shape a property invalidation takes.
func (p *Proxy) OnPropertyChanged(handler installer.PropertyHandler) error {
	if err := p.conn.AddMatchSignal(
		dbus.WithMatchInterface(ifaceProperties),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(ObjectPath),
		dbus.WithMatchSender(BusName),
	); err != nil {
		return fmt.Errorf("subscribing to PropertiesChanged: %w", err)
	}
	if err := p.conn.AddMatchSignal(
		dbus.WithMatchInterface(ifaceDBus),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, BusName),
	); err != nil {
		return fmt.Errorf("subscribing to NameOwnerChanged: %w", err)
	}

	p.mu.Lock()
	p.onProperty = handler
	p.mu.Unlock()
	return nil
}

// OnCompleted subscribes to the installer's Completed signal.
func (p *Proxy) OnCompleted(handler installer.CompletedHandler) error {
	if err := p.conn.AddMatchSignal(
		dbus.WithMatchInterface(InterfaceInstaller),
		dbus.WithMatchMember("Completed"),
		dbus.WithMatchObjectPath(ObjectPath),
		dbus.WithMatchSender(BusName),
	); err != nil {
		return fmt.Errorf("subscribing to Completed: %w", err)
	}

	p.mu.Lock()
	p.onCompleted = handler
	p.mu.Unlock()
	return nil
}

// Install asks the service to install the bundle. RAUC acknowledges the
// call immediately and reports the outcome through Completed.
func (p *Proxy) Install(ctx context.Context, bundle string) error {
	call := p.obj.CallWithContext(ctx, InterfaceInstaller+".InstallBundle", 0,
		bundle, map[string]dbus.Variant{})
	if call.Err != nil {
		return fmt.Errorf("InstallBundle %s: %w", bundle, call.Err)
	}
	return nil
}

// Close disconnects the handlers and releases the bus connection.
// Idempotent; safe to call on a proxy whose subscriptions never
// succeeded.
func (p *Proxy) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.onProperty = nil
	p.onCompleted = nil
	p.mu.Unlock()

	p.conn.RemoveSignal(p.signals)
	close(p.signals)
	return p.conn.Close()
}

// pump demultiplexes bus signals to the registered handlers. It exits
// when Close drains the signal channel.
func (p *Proxy) pump() {
	for sig := range p.signals {
		switch sig.Name {
		case signalPropertiesChanged:
			update, ok := parsePropertiesChanged(sig.Body)
			if !ok {
				log.Warn(log.CatDBus, "malformed PropertiesChanged signal", "body", sig.Body)
				continue
			}
			p.notifyProperty(update)
		case signalNameOwnerChanged:
			if parseNameLost(sig.Body) {
				log.Info(log.CatDBus, "service lost its bus name", "service", BusName)
				p.notifyProperty(installer.PropertyUpdate{
					Invalidated: []string{"Operation", "Progress", "LastError"},
				})
			}
		case signalCompleted:
			result, ok := parseCompleted(sig.Body)
			if !ok {
				log.Warn(log.CatDBus, "malformed Completed signal", "body", sig.Body)
				continue
			}
			p.notifyCompleted(result)
		}
	}
}

func (p *Proxy) notifyProperty(update installer.PropertyUpdate) {
	p.mu.Lock()
	handler := p.onProperty
	p.mu.Unlock()
	if handler != nil {
		handler(update)
	}
}

func (p *Proxy) notifyCompleted(result int32) {
	p.mu.Lock()
	handler := p.onCompleted
	p.mu.Unlock()
	if handler != nil {
		handler(result)
	}
}
