package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSlotStatus(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    SlotStatus
		wantErr bool
	}{
		{name: "processed", input: "processed", want: StatusProcessed},
		{name: "confirmed", input: "confirmed", want: StatusConfirmed},
		{name: "rooted", input: "rooted", want: StatusRooted},
		{name: "dead", input: "dead", want: StatusDead},
		{name: "unknown", input: "finalized", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSlotStatus(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSlotStatus_IsTerminal(t *testing.T) {
	require.True(t, StatusRooted.IsTerminal())
	require.True(t, StatusDead.IsTerminal())
	require.False(t, StatusProcessed.IsTerminal())
	require.False(t, StatusConfirmed.IsTerminal())
}

func TestCommittedUpdate_Supersedes(t *testing.T) {
	u := CommittedUpdate{Slot: 10, WriteVersion: 5}

	require.True(t, u.Supersedes(9, 100))
	require.True(t, u.Supersedes(10, 4))
	require.False(t, u.Supersedes(10, 5))
	require.False(t, u.Supersedes(10, 6))
	require.False(t, u.Supersedes(11, 0))
}
