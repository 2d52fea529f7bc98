package installer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fwkit/rauctl/internal/installer"
	"github.com/fwkit/rauctl/internal/installer/mock"
)

// collector records callback invocations for a single session.
type collector struct {
	mu          sync.Mutex
	events      []installer.Event
	completions []int32
	done        chan struct{}
}

func newCollector() *collector {
	return &collector{done: make(chan struct{})}
}

func (c *collector) onEvent(ev installer.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) onComplete(result int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completions = append(c.completions, result)
	if len(c.completions) == 1 {
		close(c.done)
	}
}

// wait blocks until the first completion fires and returns its result.
func (c *collector) wait(t require.TestingT) int32 {
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		require.Fail(t, "timeout waiting for completion")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completions[0]
}

func (c *collector) Events() []installer.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]installer.Event, len(c.events))
	copy(events, c.events)
	return events
}

func (c *collector) CompletionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.completions)
}

func start(proxy *mock.Proxy, col *collector) {
	cfg := installer.Config{Scope: installer.BusSession, Dial: proxy.Dialer()}
	installer.Start(context.Background(), cfg, "/data/update.raucb", col.onEvent, col.onComplete)
}

func TestSession_ImmediateSuccess(t *testing.T) {
	// Scenario A: completed(0) with no progress notifications.
	proxy := mock.NewProxy()
	proxy.InstallFunc = func(ctx context.Context, bundle string) error {
		proxy.EmitCompleted(0)
		return nil
	}
	col := newCollector()
	start(proxy, col)

	require.Equal(t, installer.ResultSuccess, col.wait(t))
	require.Empty(t, col.Events())
	require.Equal(t, []string{"/data/update.raucb"}, proxy.InstallCalls())
	require.True(t, proxy.Closed())
}

func TestSession_ProgressThenSuccess(t *testing.T) {
	// Scenario B: three progress records delivered in order, all before
	// the completion callback.
	proxy := mock.NewProxy()
	proxy.InstallFunc = func(ctx context.Context, bundle string) error {
		proxy.EmitProgress(10, "checking", 0)
		proxy.EmitProgress(50, "writing", 0)
		proxy.EmitProgress(100, "done", 0)
		proxy.EmitCompleted(0)
		return nil
	}
	col := newCollector()
	start(proxy, col)

	require.Equal(t, installer.ResultSuccess, col.wait(t))

	events := col.Events()
	require.Len(t, events, 3)
	require.Equal(t, int32(10), events[0].Percent)
	require.Equal(t, "checking", events[0].Message)
	require.Equal(t, int32(50), events[1].Percent)
	require.Equal(t, "writing", events[1].Message)
	require.Equal(t, int32(100), events[2].Percent)
	require.Equal(t, "done", events[2].Message)
}

func TestSession_RemoteFailureCode(t *testing.T) {
	proxy := mock.NewProxy()
	proxy.InstallFunc = func(ctx context.Context, bundle string) error {
		proxy.EmitLastError("signature verification failed")
		proxy.EmitCompleted(1)
		return nil
	}
	col := newCollector()
	start(proxy, col)

	require.Equal(t, int32(1), col.wait(t))
	events := col.Events()
	require.Len(t, events, 1)
	require.True(t, events[0].IsLastError())
	require.Equal(t, "signature verification failed", events[0].Error)
}

func TestSession_VanishMidInstall(t *testing.T) {
	// Scenario C: the service disappears after one progress record; the
	// record is still delivered and the result is the disconnect
	// sentinel.
	proxy := mock.NewProxy()
	proxy.InstallFunc = func(ctx context.Context, bundle string) error {
		proxy.EmitProgress(30, "copying image", 1)
		proxy.EmitVanished()
		return nil
	}
	col := newCollector()
	start(proxy, col)

	require.Equal(t, installer.ResultDisconnected, col.wait(t))
	events := col.Events()
	require.Len(t, events, 1)
	require.Equal(t, int32(30), events[0].Percent)
}

func TestSession_SynchronousInstallFailure(t *testing.T) {
	// Scenario D: the install call is rejected synchronously; the wait
	// loop is never entered and no events are delivered.
	proxy := mock.NewProxy()
	proxy.InstallErr = errors.New("bundle not found")
	col := newCollector()
	start(proxy, col)

	require.Equal(t, installer.ResultDisconnected, col.wait(t))
	require.Empty(t, col.Events())
	require.Len(t, proxy.InstallCalls(), 1)
	require.True(t, proxy.Closed())
}

func TestSession_ConnectionFailure(t *testing.T) {
	col := newCollector()
	cfg := installer.Config{
		Scope: installer.BusSystem,
		Dial:  mock.FailingDialer(errors.New("no such bus")),
	}
	installer.Start(context.Background(), cfg, "/data/update.raucb", col.onEvent, col.onComplete)

	require.Equal(t, installer.ResultDisconnected, col.wait(t))
	require.Empty(t, col.Events())
}

func TestSession_SubscriptionFailure(t *testing.T) {
	tests := []struct {
		name      string
		configure func(p *mock.Proxy)
	}{
		{"property subscription fails", func(p *mock.Proxy) {
			p.PropertyErr = errors.New("match rule rejected")
		}},
		{"completed subscription fails", func(p *mock.Proxy) {
			p.CompletedErr = errors.New("match rule rejected")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proxy := mock.NewProxy()
			tt.configure(proxy)
			col := newCollector()
			start(proxy, col)

			require.Equal(t, installer.ResultDisconnected, col.wait(t))
			require.Empty(t, proxy.InstallCalls(), "install must be skipped")
			require.True(t, proxy.Closed(), "handlers must be disconnected on early exit")
		})
	}
}

func TestSession_ExactlyOneCompletion(t *testing.T) {
	proxy := mock.NewProxy()
	proxy.InstallFunc = func(ctx context.Context, bundle string) error {
		proxy.EmitCompleted(0)
		proxy.EmitCompleted(7)
		proxy.EmitVanished()
		return nil
	}
	col := newCollector()
	start(proxy, col)

	require.Equal(t, installer.ResultSuccess, col.wait(t), "first terminal result wins")

	// Give any spurious second invocation time to surface.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, col.CompletionCount())
}

func TestSession_TerminalExclusivity(t *testing.T) {
	// Records emitted after the terminal result are never delivered.
	proxy := mock.NewProxy()
	proxy.InstallFunc = func(ctx context.Context, bundle string) error {
		proxy.EmitProgress(10, "checking", 0)
		proxy.EmitCompleted(0)
		proxy.EmitProgress(99, "late", 0)
		proxy.EmitOperation("late operation")
		return nil
	}
	col := newCollector()
	start(proxy, col)

	require.Equal(t, installer.ResultSuccess, col.wait(t))
	time.Sleep(50 * time.Millisecond)

	events := col.Events()
	require.Len(t, events, 1)
	require.Equal(t, int32(10), events[0].Percent)
}

func TestSession_NegativeCompletionCodeIgnored(t *testing.T) {
	proxy := mock.NewProxy()
	proxy.InstallFunc = func(ctx context.Context, bundle string) error {
		proxy.EmitCompleted(-1)
		proxy.EmitCompleted(3)
		return nil
	}
	col := newCollector()
	start(proxy, col)

	require.Equal(t, int32(3), col.wait(t))
}

func TestSession_EmptyLastErrorSuppressed(t *testing.T) {
	proxy := mock.NewProxy()
	proxy.InstallFunc = func(ctx context.Context, bundle string) error {
		proxy.EmitLastError("")
		proxy.EmitCompleted(0)
		return nil
	}
	col := newCollector()
	start(proxy, col)

	require.Equal(t, installer.ResultSuccess, col.wait(t))
	require.Empty(t, col.Events())
}

func TestSession_NilEventCallback(t *testing.T) {
	// Without an on-event callback records are not buffered at all; the
	// session still completes normally.
	proxy := mock.NewProxy()
	proxy.InstallFunc = func(ctx context.Context, bundle string) error {
		proxy.EmitProgress(10, "checking", 0)
		proxy.EmitProgress(100, "done", 0)
		proxy.EmitCompleted(0)
		return nil
	}
	col := newCollector()
	cfg := installer.Config{Scope: installer.BusSession, Dial: proxy.Dialer()}
	installer.Start(context.Background(), cfg, "/data/update.raucb", nil, col.onComplete)

	require.Equal(t, installer.ResultSuccess, col.wait(t))
}

func TestSession_NilCompleteCallback(t *testing.T) {
	proxy := mock.NewProxy()
	installed := make(chan struct{})
	proxy.InstallFunc = func(ctx context.Context, bundle string) error {
		proxy.EmitCompleted(0)
		close(installed)
		return nil
	}
	cfg := installer.Config{Scope: installer.BusSession, Dial: proxy.Dialer()}
	installer.Start(context.Background(), cfg, "/data/update.raucb", nil, nil)

	select {
	case <-installed:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for install call")
	}
}

func TestSession_IndependentSessions(t *testing.T) {
	// Two concurrent sessions share nothing; each gets its own result.
	mk := func(result int32) (*mock.Proxy, *collector) {
		proxy := mock.NewProxy()
		proxy.InstallFunc = func(ctx context.Context, bundle string) error {
			proxy.EmitCompleted(result)
			return nil
		}
		return proxy, newCollector()
	}

	p1, c1 := mk(0)
	p2, c2 := mk(4)
	start(p1, c1)
	start(p2, c2)

	require.Equal(t, int32(0), c1.wait(t))
	require.Equal(t, int32(4), c2.wait(t))
}

// TestSession_OrderingProperty drives a random notification sequence
// through a session and requires the delivered records to match the
// emitted ones exactly: same order, no loss, no duplication.
func TestSession_OrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		type notification struct {
			kind    int // 0 operation, 1 progress, 2 error, 3 empty error
			payload string
			percent int32
		}

		count := rapid.IntRange(0, 40).Draw(t, "count")
		notifications := make([]notification, count)
		for i := range notifications {
			notifications[i] = notification{
				kind:    rapid.IntRange(0, 3).Draw(t, "kind"),
				payload: rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "payload"),
				percent: int32(rapid.IntRange(0, 100).Draw(t, "percent")),
			}
		}

		var expected []string
		proxy := mock.NewProxy()
		proxy.InstallFunc = func(ctx context.Context, bundle string) error {
			for _, n := range notifications {
				switch n.kind {
				case 0:
					proxy.EmitOperation(n.payload)
				case 1:
					proxy.EmitProgress(n.percent, n.payload, 0)
				case 2:
					proxy.EmitLastError(n.payload)
				case 3:
					proxy.EmitLastError("") // must be suppressed
				}
			}
			proxy.EmitCompleted(0)
			return nil
		}
		for _, n := range notifications {
			if n.kind != 3 {
				expected = append(expected, n.payload)
			}
		}

		col := newCollector()
		start(proxy, col)
		require.Equal(t, installer.ResultSuccess, col.wait(t))

		events := col.Events()
		require.Len(t, events, len(expected))
		for i, ev := range events {
			switch ev.Type {
			case installer.EventOperation:
				require.Equal(t, expected[i], ev.Operation)
			case installer.EventProgress:
				require.Equal(t, expected[i], ev.Message)
			case installer.EventLastError:
				require.Equal(t, expected[i], ev.Error)
			}
		}
	})
}

func TestResolveBusScope(t *testing.T) {
	t.Setenv("DBUS_STARTER_BUS_TYPE", "")
	require.Equal(t, installer.BusSystem, installer.ResolveBusScope())

	t.Setenv("DBUS_STARTER_BUS_TYPE", "session")
	require.Equal(t, installer.BusSession, installer.ResolveBusScope())

	t.Setenv("DBUS_STARTER_BUS_TYPE", "system")
	require.Equal(t, installer.BusSystem, installer.ResolveBusScope())
}
