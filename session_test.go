package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStateString(t *testing.T) {
	tests := []struct {
		state    ConnectionState
		expected string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateAwaitingSession, "awaiting_session"},
		{StateActive, "active"},
		{StateReconnecting, "reconnecting"},
		{StateClosing, "closing"},
		{StateClosed, "closed"},
		{ConnectionState(42), "unknown(42)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.state.String())
	}
	assert.True(t, StateActive.active())
	assert.False(t, StateReconnecting.active())
}

func TestSessionConfigToMap(t *testing.T) {
	cfg := NewSessionConfig("gpt-realtime", "marin", "be brief")
	m, err := sessionConfigToMap(cfg)
	require.NoError(t, err)

	assert.Equal(t, "gpt-realtime", m["model"])
	assert.Equal(t, "be brief", m["instructions"])
	audio, ok := m["audio"].(map[string]any)
	require.True(t, ok)
	output, ok := audio["output"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "marin", output["voice"])

	_, err = sessionConfigToMap(nil)
	assert.Error(t, err)
}

func TestMergeSessionPatch(t *testing.T) {
	base := map[string]any{"voice": "ash", "model": "gpt-realtime"}
	merged := mergeSessionPatch(base, map[string]any{"voice": "marin", "speed": 1.1})

	assert.Equal(t, "marin", merged["voice"])
	assert.Equal(t, "gpt-realtime", merged["model"])
	assert.Equal(t, 1.1, merged["speed"])
	assert.Equal(t, "ash", base["voice"], "base map untouched")
}
