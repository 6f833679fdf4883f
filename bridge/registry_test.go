package bridge

import (
	"testing"

	"github.com/bt-bridge/telephony-realtime/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Len())

	session := newFakeSession()
	b, err := New(shared.NewNopLogger(), session, newFakeConn(), nil, "")
	require.NoError(t, err)

	r.Put("conv_1", b)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get("conv_1")
	assert.True(t, ok)
	assert.Same(t, b, got)

	_, ok = r.Get("conv_2")
	assert.False(t, ok)

	assert.True(t, r.Remove("conv_1"))
	assert.False(t, r.Remove("conv_1"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryCloseConversation(t *testing.T) {
	r := NewRegistry()
	session := newFakeSession()
	b, err := New(shared.NewNopLogger(), session, newFakeConn(), r, "")
	require.NoError(t, err)

	require.NoError(t, r.CloseConversation(b.rt.ConversationId()))
	assert.Equal(t, int32(1), session.closes.Load())
	assert.ErrorIs(t, r.CloseConversation("conv_absent"), shared.ErrUnknownSession)
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry()
	sessions := make([]*fakeSession, 3)
	for i := range sessions {
		sessions[i] = newFakeSession()
		b, err := New(shared.NewNopLogger(), sessions[i], newFakeConn(), nil, "")
		require.NoError(t, err)
		r.Put(sessions[i].ConversationId()+string(rune('a'+i)), b)
	}

	r.CloseAll()
	for i, session := range sessions {
		assert.Equal(t, int32(1), session.closes.Load(), "session %d closed once", i)
	}
}
