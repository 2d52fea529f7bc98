package mock

import (
	"context"
	"sync"

	"github.com/fwkit/rauctl/internal/installer"
)

// Proxy is a mock implementation of installer.Proxy. Behavior is
// configured via the error fields and InstallFunc; emissions are driven
// by the Emit* methods.
type Proxy struct {
	mu          sync.Mutex
	onProperty  installer.PropertyHandler
	onCompleted installer.CompletedHandler
	closed      bool
	closeCount  int

	installCalls []string

	// PropertyErr and CompletedErr, when set, fail the respective
	// subscription.
	PropertyErr  error
	CompletedErr error

	// InstallErr, when set, rejects the install call synchronously.
	InstallErr error

	// InstallFunc, when set, is invoked by Install after the call is
	// recorded. It runs on the session's worker goroutine, so tests can
	// use it to emit notifications "from" the remote service.
	InstallFunc func(ctx context.Context, bundle string) error
}

// NewProxy creates a mock proxy with default success behavior.
func NewProxy() *Proxy {
	return &Proxy{}
}

// Dialer returns an installer.Dialer that always hands out this proxy.
func (p *Proxy) Dialer() installer.Dialer {
	return func(ctx context.Context, scope installer.BusScope) (installer.Proxy, error) {
		return p, nil
	}
}

// FailingDialer returns an installer.Dialer that fails with err,
// simulating an unreachable bus or absent service.
func FailingDialer(err error) installer.Dialer {
	return func(ctx context.Context, scope installer.BusScope) (installer.Proxy, error) {
		return nil, err
	}
}

// OnPropertyChanged registers the property-change handler.
func (p *Proxy) OnPropertyChanged(handler installer.PropertyHandler) error {
	if p.PropertyErr != nil {
		return p.PropertyErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onProperty = handler
	return nil
}

// OnCompleted registers the completion handler.
func (p *Proxy) OnCompleted(handler installer.CompletedHandler) error {
	if p.CompletedErr != nil {
		return p.CompletedErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCompleted = handler
	return nil
}

// Install records the call and delegates to InstallFunc when set.
func (p *Proxy) Install(ctx context.Context, bundle string) error {
	p.mu.Lock()
	p.installCalls = append(p.installCalls, bundle)
	fn := p.InstallFunc
	p.mu.Unlock()

	if p.InstallErr != nil {
		return p.InstallErr
	}
	if fn != nil {
		return fn(ctx, bundle)
	}
	return nil
}

// Close disconnects both handlers. Idempotent.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeCount++
	p.onProperty = nil
	p.onCompleted = nil
	return nil
}

// --- Control methods for tests ---

// EmitChanged delivers a raw property-change payload.
func (p *Proxy) EmitChanged(changed map[string]any) {
	p.mu.Lock()
	handler := p.onProperty
	p.mu.Unlock()
	if handler != nil {
		handler(installer.PropertyUpdate{Changed: changed})
	}
}

// EmitOperation delivers an Operation property change.
func (p *Proxy) EmitOperation(name string) {
	p.EmitChanged(map[string]any{"Operation": name})
}

// EmitProgress delivers a Progress property change.
func (p *Proxy) EmitProgress(percent int32, message string, depth int32) {
	p.EmitChanged(map[string]any{"Progress": installer.Progress{
		Percent: percent,
		Message: message,
		Depth:   depth,
	}})
}

// EmitLastError delivers a LastError property change.
func (p *Proxy) EmitLastError(message string) {
	p.EmitChanged(map[string]any{"LastError": message})
}

// EmitVanished simulates the remote service disappearing from the bus.
func (p *Proxy) EmitVanished() {
	p.mu.Lock()
	handler := p.onProperty
	p.mu.Unlock()
	if handler != nil {
		handler(installer.PropertyUpdate{Invalidated: []string{"Operation", "Progress", "LastError"}})
	}
}

// EmitCompleted delivers the one-shot completion code.
func (p *Proxy) EmitCompleted(result int32) {
	p.mu.Lock()
	handler := p.onCompleted
	p.mu.Unlock()
	if handler != nil {
		handler(result)
	}
}

// Closed reports whether Close has been called.
func (p *Proxy) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// CloseCount returns how many times Close was called.
func (p *Proxy) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCount
}

// InstallCalls returns the bundles Install was invoked with.
func (p *Proxy) InstallCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := make([]string, len(p.installCalls))
	copy(calls, p.installCalls)
	return calls
}
