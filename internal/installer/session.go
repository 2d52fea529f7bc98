// Package installer drives an asynchronous firmware installation performed
// by the remote RAUC service. A session spawns one worker goroutine that
// connects to the service, subscribes to its notifications, and issues the
// install call, plus one dispatcher goroutine that redelivers buffered
// progress records to the caller's callbacks in FIFO order. The caller
// never blocks and never receives an owning reference to the session.
package installer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fwkit/rauctl/internal/log"
)

// Result codes reported through the completion callback.
const (
	// ResultSuccess means the remote service installed the bundle.
	ResultSuccess int32 = 0
	// ResultDisconnected is the reserved sentinel for local failures:
	// the service could not be reached, a subscription could not be
	// registered, the install call was rejected synchronously, or the
	// service vanished mid-install. Remote-reported failures use their
	// own positive codes.
	ResultDisconnected int32 = 2
)

// State identifies where a session is in its lifecycle.
type State string

const (
	StateCreated      State = "created"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateInstalling   State = "installing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateDisconnected State = "disconnected"
)

// EventFunc receives one progress record. It is invoked on the session's
// dispatcher goroutine, never on the worker, so a slow callback cannot
// stall signal handling.
type EventFunc func(event Event)

// CompleteFunc receives the terminal result code. It is invoked exactly
// once per session, after every progress record has been delivered.
type CompleteFunc func(result int32)

// Config carries the collaborators a session needs. Dial is required;
// Tracer is optional and defaults to no tracing.
type Config struct {
	// Scope selects the bus the session connects on. Resolve it with
	// ResolveBusScope or set it explicitly.
	Scope BusScope

	// Dial establishes the proxy to the remote installer.
	Dial Dialer

	// Tracer, when set, records spans for the session's phases.
	Tracer trace.Tracer
}

// Session owns the event queue, the proxy handle, and the two callbacks
// for one installation. It is created by Start and destroyed by its own
// worker goroutine after the completion callback fires; no other owner
// ever holds it.
type Session struct {
	id     string
	bundle string
	cfg    Config

	queue      *eventQueue
	onEvent    EventFunc
	onComplete CompleteFunc

	mu     sync.Mutex
	result *int32
	state  State
	span   trace.Span

	wake           chan struct{}
	done           chan struct{}
	dispatcherDone chan struct{}
}

// Start begins installing bundle in the background and returns
// immediately. Progress records are delivered to onEvent in the order the
// remote service emitted them; onComplete fires exactly once with the
// terminal result (ResultSuccess, a positive remote failure code, or
// ResultDisconnected). Either callback may be nil. There is no handle for
// cancellation: the session ends on success, remote failure, or
// disconnect.
func Start(ctx context.Context, cfg Config, bundle string, onEvent EventFunc, onComplete CompleteFunc) {
	s := &Session{
		id:             uuid.NewString(),
		bundle:         bundle,
		cfg:            cfg,
		queue:          newEventQueue(),
		onEvent:        onEvent,
		onComplete:     onComplete,
		state:          StateCreated,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		dispatcherDone: make(chan struct{}),
	}
	go s.run(ctx)
}

// run is the worker goroutine. It performs every blocking step of the
// session and tears the session down when the remote operation finishes,
// fails, or the connection is lost. The completion callback fires on
// every path, including early exits.
func (s *Session) run(ctx context.Context) {
	log.Debug(log.CatSession, "session started",
		"session", s.id, "bundle", s.bundle, "bus", s.cfg.Scope)

	if s.onEvent != nil {
		go s.dispatch()
	} else {
		close(s.dispatcherDone)
	}

	ctx, span := s.startSpan(ctx)
	s.span = span
	proxy := s.execute(ctx)
	if proxy != nil {
		// Idempotent, and required even when subscription or install
		// failed so no handler outlives the session.
		if err := proxy.Close(); err != nil {
			log.ErrorErr(log.CatSession, "closing proxy", err, "session", s.id)
		}
	}
	s.finish(span)
}

// execute walks the session through connect, subscribe, and install, then
// waits for the terminal signal. Any synchronous failure records the
// disconnect sentinel and returns without entering the wait. The returned
// proxy may be nil if the connection never succeeded.
func (s *Session) execute(ctx context.Context) Proxy {
	s.setState(StateConnecting)
	proxy, err := s.cfg.Dial(ctx, s.cfg.Scope)
	if err != nil {
		log.ErrorErr(log.CatSession, "connecting to installer service", err, "session", s.id)
		s.terminate(ResultDisconnected, StateDisconnected)
		return nil
	}

	if err := proxy.OnPropertyChanged(s.handleProperties); err != nil {
		log.ErrorErr(log.CatSession, "subscribing to property changes", err, "session", s.id)
		s.terminate(ResultDisconnected, StateDisconnected)
		return proxy
	}
	if err := proxy.OnCompleted(s.handleCompleted); err != nil {
		log.ErrorErr(log.CatSession, "subscribing to completion signal", err, "session", s.id)
		s.terminate(ResultDisconnected, StateDisconnected)
		return proxy
	}
	s.setState(StateSubscribed)

	s.setState(StateInstalling)
	if err := proxy.Install(ctx, s.bundle); err != nil {
		log.ErrorErr(log.CatSession, "install call rejected", err, "session", s.id)
		s.terminate(ResultDisconnected, StateDisconnected)
		return proxy
	}

	// The only blocking point: wait for completion or disconnect.
	<-s.done
	return proxy
}

// finish waits for the dispatcher to drain the last records, fires the
// completion callback exactly once, and verifies the teardown invariants.
func (s *Session) finish(span trace.Span) {
	<-s.dispatcherDone

	s.mu.Lock()
	result := s.result
	state := s.state
	s.mu.Unlock()

	if result == nil {
		// Contract violation: the wait ended without a terminal result.
		log.Error(log.CatSession, "invariant violated: no terminal result at teardown",
			"session", s.id)
		r := ResultDisconnected
		result = &r
		state = StateDisconnected
	}
	if n := s.queue.len(); n != 0 {
		log.Error(log.CatSession, "invariant violated: undelivered events at teardown",
			"session", s.id, "queued", n)
	}

	s.endSpan(span, *result, state)
	log.Info(log.CatSession, "session finished",
		"session", s.id, "state", state, "result", *result)

	if s.onComplete != nil {
		s.onComplete(*result)
	}
}

// dispatch is the dispatcher goroutine. Each wake signal coalesces one or
// more pushes; a drain delivers everything buffered so far, front to
// back. The final drain after the terminal signal guarantees no record is
// lost between the last push and teardown.
func (s *Session) dispatch() {
	defer close(s.dispatcherDone)
	for {
		select {
		case <-s.wake:
			s.deliver()
		case <-s.done:
			s.deliver()
			return
		}
	}
}

func (s *Session) deliver() {
	for _, ev := range s.queue.drain() {
		s.onEvent(ev)
	}
}

// handleProperties ingests one property-change notification from the
// remote service. Invalidated properties mean the service vanished:
// terminal disconnect, no further events. Otherwise the payload is
// classified into at most one record, pushed, and the dispatcher woken.
func (s *Session) handleProperties(update PropertyUpdate) {
	if update.Vanished() {
		log.Error(log.CatSession, "installer service disappeared", "session", s.id)
		s.terminate(ResultDisconnected, StateDisconnected)
		return
	}
	if s.onEvent == nil {
		return
	}

	s.mu.Lock()
	if s.result != nil {
		// Terminal result already recorded; late notifications are
		// dropped so teardown never races a push.
		s.mu.Unlock()
		return
	}
	ev, ok := classify(update.Changed, time.Now())
	if ok {
		s.queue.push(ev)
	}
	s.mu.Unlock()

	if ok {
		select {
		case s.wake <- struct{}{}:
		default:
			// A wake is already pending; the next drain picks this
			// record up too.
		}
	}
}

// handleCompleted ingests the one-shot completion code. Codes >= 0 are
// terminal (0 success, >0 remote failure). Negative codes would be a
// protocol violation by the remote side and are ignored.
func (s *Session) handleCompleted(result int32) {
	if result < 0 {
		log.Warn(log.CatSession, "ignoring negative completion code",
			"session", s.id, "result", result)
		return
	}
	state := StateCompleted
	if result > 0 {
		state = StateFailed
	}
	s.terminate(result, state)
}

// terminate records the terminal result and releases the wait. The first
// caller wins; the result is never overwritten.
func (s *Session) terminate(result int32, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return
	}
	r := result
	s.result = &r
	s.state = state
	close(s.done)
}

// setState records a lifecycle transition. Only the worker goroutine
// calls it, so the span access needs no lock.
func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if s.span != nil {
		s.span.AddEvent(string(state))
	}
	log.Debug(log.CatSession, "state change", "session", s.id, "state", state)
}

func (s *Session) startSpan(ctx context.Context) (context.Context, trace.Span) {
	if s.cfg.Tracer == nil {
		return ctx, nil
	}
	return s.cfg.Tracer.Start(ctx, "installer.session",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("session.bundle", s.bundle),
			attribute.String("session.bus", string(s.cfg.Scope)),
		))
}

func (s *Session) endSpan(span trace.Span, result int32, state State) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("session.result", int(result)),
		attribute.String("session.state", string(state)),
	)
	span.End()
}
