package install

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/stretchr/testify/require"

	"github.com/fwkit/rauctl/internal/installer"
	"github.com/fwkit/rauctl/internal/pubsub"
)

// stripANSI removes ANSI escape codes for easier testing of content
func stripANSI(s string) string {
	result := s
	for strings.Contains(result, "\x1b[") {
		start := strings.Index(result, "\x1b[")
		end := start + 2
		for end < len(result) && result[end] != 'm' {
			end++
		}
		if end < len(result) {
			result = result[:start] + result[end+1:]
		} else {
			break
		}
	}
	return result
}

func recordMsg(event installer.Event) pubsub.Event[installer.Event] {
	return pubsub.Event[installer.Event]{
		Type:      pubsub.RecordEvent,
		Payload:   event,
		Timestamp: time.Now(),
	}
}

func TestModel_InitialView(t *testing.T) {
	m := New("/data/update.raucb", nil)

	view := stripANSI(m.View())
	require.Contains(t, view, "Installing")
	require.Contains(t, view, "/data/update.raucb")
	require.Contains(t, view, "connecting")
	require.Contains(t, view, "[q] Quit")
}

func TestModel_OperationRecord(t *testing.T) {
	m := New("/data/update.raucb", nil)

	updated, cmd := m.Update(recordMsg(installer.Event{
		Type:      installer.EventOperation,
		Operation: "installing",
	}))
	m = updated.(Model)

	require.Nil(t, cmd, "no listener means no re-listen command")

	view := stripANSI(m.View())
	require.Contains(t, view, "installing")
}

func TestModel_ProgressRecord(t *testing.T) {
	m := New("/data/update.raucb", nil)

	updated, _ := m.Update(recordMsg(installer.Event{
		Type:    installer.EventProgress,
		Percent: 42,
		Message: "copying image",
		Depth:   1,
	}))
	m = updated.(Model)

	view := stripANSI(m.View())
	require.Contains(t, view, " 42% copying image")
}

func TestModel_LastErrorRecord(t *testing.T) {
	m := New("/data/update.raucb", nil)

	updated, _ := m.Update(recordMsg(installer.Event{
		Type:  installer.EventLastError,
		Error: "bundle verification failed",
	}))
	m = updated.(Model)

	view := stripANSI(m.View())
	require.Contains(t, view, "bundle verification failed")
}

func TestModel_HistoryKeepsRecentRecords(t *testing.T) {
	m := New("/data/update.raucb", nil)

	for i := 0; i < maxHistory+4; i++ {
		updated, _ := m.Update(recordMsg(installer.Event{
			Type:      installer.EventOperation,
			Operation: fmt.Sprintf("phase-%d", i),
		}))
		m = updated.(Model)
	}

	view := stripANSI(m.View())
	require.NotContains(t, view, "phase-0\n", "oldest records should scroll off")
	require.Contains(t, view, fmt.Sprintf("phase-%d", maxHistory+3))
}

func TestModel_Result(t *testing.T) {
	tests := []struct {
		name string
		code int32
		want string
	}{
		{name: "success", code: 0, want: "Install succeeded"},
		{name: "remote failure", code: 1, want: "Install failed (code 1)"},
		{name: "disconnect", code: 2, want: "Lost connection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New("/data/update.raucb", nil)

			updated, cmd := m.Update(ResultMsg{Code: tt.code})
			m = updated.(Model)

			require.True(t, m.Finished())
			require.Equal(t, tt.code, m.Result())
			require.NotNil(t, cmd)
			require.Equal(t, tea.QuitMsg{}, cmd())

			view := stripANSI(m.View())
			require.Contains(t, view, tt.want)
			require.NotContains(t, view, "[q] Quit")
		})
	}
}

func TestModel_QuitKey(t *testing.T) {
	m := New("/data/update.raucb", nil)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	require.Equal(t, tea.QuitMsg{}, cmd())
}

func TestModel_FullRun(t *testing.T) {
	broker := pubsub.NewBroker[installer.Event]()
	defer broker.Close()

	ctx := t.Context()
	listener := pubsub.NewContinuousListener(ctx, broker)

	tm := teatest.NewTestModel(t, New("/data/update.raucb", listener),
		teatest.WithInitialTermSize(80, 24))

	broker.Publish(pubsub.RecordEvent, installer.Event{
		Type:      installer.EventOperation,
		Operation: "installing",
	})
	broker.Publish(pubsub.RecordEvent, installer.Event{
		Type:    installer.EventProgress,
		Percent: 100,
		Message: "done",
	})

	teatest.WaitFor(t, tm.Output(), func(bts []byte) bool {
		return bytes.Contains(bts, []byte("100% done"))
	}, teatest.WithDuration(3*time.Second))

	tm.Send(ResultMsg{Code: 0})
	tm.WaitFinished(t, teatest.WithFinalTimeout(3*time.Second))

	fm, ok := tm.FinalModel(t).(Model)
	require.True(t, ok)
	require.True(t, fm.Finished())
	require.Equal(t, int32(0), fm.Result())
}
