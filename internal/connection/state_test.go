package connection

import "testing"

func TestValidTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"disconnected to connecting", StateDisconnected, StateConnecting, true},
		{"connecting to connected", StateConnecting, StateConnected, true},
		{"connecting to broken", StateConnecting, StateBroken, true},
		{"connected to broken", StateConnected, StateBroken, true},
		{"broken to connecting", StateBroken, StateConnecting, true},
		{"connected to disconnected", StateConnected, StateDisconnected, true},
		{"broken to disconnected", StateBroken, StateDisconnected, true},
		{"disconnected to connected", StateDisconnected, StateConnected, false},
		{"disconnected to broken", StateDisconnected, StateBroken, false},
		{"broken to connected", StateBroken, StateConnected, false},
		{"connected to connecting", StateConnected, StateConnecting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("validTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if StateBroken.String() != "broken" || StateConnected.String() != "connected" {
		t.Error("unexpected state names")
	}
}
