package gagspeak

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Project-GagSpeak/gagspeak-client/internal/session"
)

func TestDistribGate(t *testing.T) {
	cases := []struct {
		state   session.State
		enabled bool
		ok      bool
	}{
		{session.StateConnectedDataSynced, true, true},
		{session.StateConnecting, false, true},
		{session.StateReconnecting, false, true},
		{session.StateDisconnecting, false, true},
		{session.StateDisconnected, false, true},
		{session.StateOffline, false, true},
		// A mid-session 401 or version refusal must stop outbound pushes
		// immediately, not on the next manual connect.
		{session.StateUnauthorized, false, true},
		{session.StateVersionMismatch, false, true},
		{session.StateNoCredential, false, true},
		// Connected without the data sync leaves the gate alone.
		{session.StateConnected, false, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.state), func(t *testing.T) {
			enabled, ok := distribGate(tc.state)
			assert.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.enabled, enabled)
			}
		})
	}
}
