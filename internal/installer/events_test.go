package installer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		changed map[string]any
		want    Event
		wantOK  bool
	}{
		{
			name:    "operation",
			changed: map[string]any{"Operation": "installing"},
			want:    Event{Type: EventOperation, Operation: "installing"},
			wantOK:  true,
		},
		{
			name:    "progress",
			changed: map[string]any{"Progress": Progress{Percent: 42, Message: "writing image", Depth: 1}},
			want:    Event{Type: EventProgress, Percent: 42, Message: "writing image", Depth: 1},
			wantOK:  true,
		},
		{
			name:    "last error",
			changed: map[string]any{"LastError": "slot write failed"},
			want:    Event{Type: EventLastError, Error: "slot write failed"},
			wantOK:  true,
		},
		{
			name:    "empty last error is suppressed",
			changed: map[string]any{"LastError": ""},
			wantOK:  false,
		},
		{
			name:    "unknown property",
			changed: map[string]any{"BootSlot": "A"},
			wantOK:  false,
		},
		{
			name:    "empty payload",
			changed: map[string]any{},
			wantOK:  false,
		},
		{
			name: "operation wins over progress and error",
			changed: map[string]any{
				"Operation": "idle",
				"Progress":  Progress{Percent: 100, Message: "done"},
				"LastError": "stale",
			},
			want:   Event{Type: EventOperation, Operation: "idle"},
			wantOK: true,
		},
		{
			name: "progress wins over error",
			changed: map[string]any{
				"Progress":  Progress{Percent: 50, Message: "copying"},
				"LastError": "stale",
			},
			want:   Event{Type: EventProgress, Percent: 50, Message: "copying"},
			wantOK: true,
		},
		{
			name:    "wrong type for operation falls through",
			changed: map[string]any{"Operation": 7},
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := classify(tt.changed, now)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			require.Equal(t, tt.want.Type, got.Type)
			require.Equal(t, tt.want.Operation, got.Operation)
			require.Equal(t, tt.want.Percent, got.Percent)
			require.Equal(t, tt.want.Message, got.Message)
			require.Equal(t, tt.want.Depth, got.Depth)
			require.Equal(t, tt.want.Error, got.Error)
			require.Equal(t, now, got.Timestamp)
		})
	}
}

func TestEvent_String(t *testing.T) {
	require.Equal(t, "installing",
		Event{Type: EventOperation, Operation: "installing"}.String())
	require.Equal(t, " 10% checking",
		Event{Type: EventProgress, Percent: 10, Message: "checking"}.String())
	require.Equal(t, "100% done",
		Event{Type: EventProgress, Percent: 100, Message: "done"}.String())
	require.Equal(t, "LastError: bad bundle",
		Event{Type: EventLastError, Error: "bad bundle"}.String())
}

func TestPropertyUpdate_Vanished(t *testing.T) {
	require.False(t, PropertyUpdate{Changed: map[string]any{"Operation": "idle"}}.Vanished())
	require.True(t, PropertyUpdate{Invalidated: []string{"Operation"}}.Vanished())
}
