package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bt-bridge/telephony-realtime/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorilla/websocket"
)

// startEndpoint runs a fake realtime endpoint that performs the session
// handshake, then hands the connection to script and keeps reading until the
// peer goes away.
func startEndpoint(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Handshake: consume the session.update, answer session.created.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		created := `{"event_id":"ev_srv_1","type":"session.created","session":{"id":"sess_test","voice":"ash"}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(created)); err != nil {
			return
		}
		if script != nil {
			script(conn)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testClientConfig(url string) Config {
	return Config{
		APIKey:         "sk-test",
		BaseURL:        url,
		ConnectTimeout: 2 * time.Second,
	}
}

func newConnectedClient(t *testing.T, script func(conn *websocket.Conn)) *Client {
	t.Helper()
	url := startEndpoint(t, script)
	client, err := NewClient(
		context.Background(),
		shared.NewNopLogger(),
		testClientConfig(url),
		NewSessionConfig("gpt-realtime", "ash", "test instructions"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Connect(context.Background()))
	return client
}

func TestNewClientGuards(t *testing.T) {
	ctx := context.Background()
	session := NewSessionConfig("gpt-realtime", "ash", "")

	_, err := NewClient(ctx, nil, Config{APIKey: "sk-test"}, session)
	assert.ErrorIs(t, err, shared.ErrNoLogger)

	_, err = NewClient(ctx, shared.NewNopLogger(), Config{}, session)
	assert.ErrorIs(t, err, shared.ErrNoAPIKey)

	_, err = NewClient(ctx, shared.NewNopLogger(), Config{APIKey: "sk-test"}, nil)
	assert.ErrorIs(t, err, shared.ErrNoConfig)

	var zero Client
	assert.ErrorIs(t, zero.Connect(ctx), shared.ErrClientNotInitialized)
	_, err = zero.SendEvent(&ClientEvent{})
	assert.ErrorIs(t, err, shared.ErrClientNotInitialized)
}

func TestClientConnectHandshake(t *testing.T) {
	client := newConnectedClient(t, nil)

	assert.Equal(t, StateActive, client.State())
	assert.Equal(t, "sess_test", client.SessionId())
	assert.NotEmpty(t, client.ConversationId())
	effective := client.EffectiveSession()
	assert.Equal(t, "ash", effective["voice"])
}

func TestClientConnectWhileRunning(t *testing.T) {
	client := newConnectedClient(t, nil)
	assert.ErrorIs(t, client.Connect(context.Background()), shared.ErrSessionAlreadyRunning)
}

func TestClientCloseIdempotent(t *testing.T) {
	client := newConnectedClient(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, client.Close())
		}()
	}
	wg.Wait()

	assert.Equal(t, StateClosed, client.State())
	assert.Empty(t, client.SessionId())
	assert.Empty(t, client.ConversationId())
	assert.ErrorIs(t, client.Connect(context.Background()), shared.ErrTransportClosed)
}

func TestClientMalformedFrameSkipped(t *testing.T) {
	received := make(chan *ServerEvent, 1)
	client := newConnectedClient(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`this is not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.done"}`))
		valid := `{"event_id":"ev_srv_2","type":"response.done","response":{"id":"resp_1","status":"completed"}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(valid))
	})
	client.On(ServerEventTypeResponseDone, func(event *ServerEvent) {
		select {
		case received <- event:
		default:
		}
	})

	select {
	case event := <-received:
		assert.Equal(t, "ev_srv_2", event.EventId)
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after malformed ones never arrived")
	}
	assert.Equal(t, StateActive, client.State(), "malformed frames must not kill the connection")
}

func TestClientAudioDeltaFeedsQueue(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	client := newConnectedClient(t, func(conn *websocket.Conn) {
		delta := `{"event_id":"ev_srv_3","type":"response.output_audio.delta",` +
			`"response_id":"resp_1","item_id":"item_1","output_index":0,"content_index":0,` +
			`"delta":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(delta))
	})

	chunk, ok := client.ReceiveAudioChunk(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, pcm, chunk)

	_, ok = client.ReceiveAudioChunk(0)
	assert.False(t, ok)
}

func TestClientSendEventInactive(t *testing.T) {
	client, err := NewClient(
		context.Background(),
		shared.NewNopLogger(),
		testClientConfig("ws://127.0.0.1:1"),
		NewSessionConfig("gpt-realtime", "ash", ""),
	)
	require.NoError(t, err)

	_, err = client.SendEvent(&ClientEvent{
		Type:  ClientEventTypeInputAudioBufferCommit,
		Param: new(ClientEventParamInputAudioBufferCommit),
	})
	assert.ErrorIs(t, err, shared.ErrConnectionInactive)
	assert.False(t, client.SendAudioChunk([]byte{1, 2}))
}

func TestClientSendAudioChunkValidation(t *testing.T) {
	client := newConnectedClient(t, nil)
	client.cfg.MaxChunkBytes = 4

	assert.False(t, client.SendAudioChunk(nil), "empty chunk refused")
	assert.False(t, client.SendAudioChunk([]byte{1, 2, 3, 4, 5}), "oversize chunk refused")
	assert.True(t, client.SendAudioChunk([]byte{1, 2, 3, 4}))
}

func TestClientSendEventRateLimited(t *testing.T) {
	client := newConnectedClient(t, nil)
	client.limiter = NewRateLimiter(time.Minute, 1, 0)

	_, err := client.SendEvent(&ClientEvent{
		Type:  ClientEventTypeInputAudioBufferCommit,
		Param: new(ClientEventParamInputAudioBufferCommit),
	})
	require.NoError(t, err)
	_, err = client.SendEvent(&ClientEvent{
		Type:  ClientEventTypeInputAudioBufferCommit,
		Param: new(ClientEventParamInputAudioBufferCommit),
	})
	assert.ErrorIs(t, err, shared.ErrRateLimited)
}

func TestClientAutomaticReconnect(t *testing.T) {
	var connections atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		created := `{"event_id":"ev_srv_1","type":"session.created","session":{"id":"sess_test"}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(created)); err != nil {
			return
		}
		if connections.Add(1) == 1 {
			// Abrupt drop right after the handshake, no close frame.
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	cfg := testClientConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.BaseReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	cfg.MaxReconnectAttempts = 5
	client, err := NewClient(
		context.Background(),
		shared.NewNopLogger(),
		cfg,
		NewSessionConfig("gpt-realtime", "ash", ""),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	lost := make(chan error, 4)
	restored := make(chan struct{}, 4)
	client.OnConnectionLost(func(err error) { lost <- err })
	client.OnConnectionRestored(func() { restored <- struct{}{} })
	require.NoError(t, client.Connect(context.Background()))

	select {
	case err := <-lost:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connection-lost never fired after the drop")
	}
	select {
	case <-restored:
	case <-time.After(2 * time.Second):
		t.Fatal("connection-restored never fired")
	}
	require.Eventually(t, func() bool { return client.State() == StateActive }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), connections.Load())
	select {
	case <-lost:
		t.Fatal("one drop reported more than once")
	default:
	}
}

func TestConnectionLostFiresOncePerDrop(t *testing.T) {
	client, err := NewClient(
		context.Background(),
		shared.NewNopLogger(),
		testClientConfig("ws://127.0.0.1:1"),
		NewSessionConfig("gpt-realtime", "ash", ""),
	)
	require.NoError(t, err)

	calls := 0
	client.OnConnectionLost(func(error) { calls++ })
	client.setState(StateActive)

	// A heartbeat failure and the read error it provokes both land here.
	client.markDisconnected(errors.New("write tcp: broken pipe"))
	client.markDisconnected(errors.New("read tcp: connection reset"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestMergeSessionCacheReturnsCopy(t *testing.T) {
	client, err := NewClient(
		context.Background(),
		shared.NewNopLogger(),
		testClientConfig("ws://127.0.0.1:1"),
		NewSessionConfig("gpt-realtime", "ash", ""),
	)
	require.NoError(t, err)

	first := client.mergeSessionCache(map[string]any{"voice": "ash"})
	second := client.mergeSessionCache(map[string]any{"voice": "marin"})
	assert.Equal(t, "ash", first["voice"], "earlier snapshot unaffected by later merges")
	assert.Equal(t, "marin", second["voice"])

	second["voice"] = "mutated"
	assert.Equal(t, "marin", client.EffectiveSession()["voice"], "cache shielded from caller mutation")
}

func TestReconnectDelayBackoff(t *testing.T) {
	base := time.Second
	max := 30 * time.Second
	previous := time.Duration(0)
	for attempt := 1; attempt <= 8; attempt++ {
		floor := base << (attempt - 1)
		if floor > max {
			floor = max
		}
		ceiling := floor + floor*3/10
		for trial := 0; trial < 50; trial++ {
			delay := reconnectDelay(attempt, base, max)
			assert.GreaterOrEqual(t, delay, floor, "attempt %d", attempt)
			assert.Less(t, delay, ceiling+1, "jitter stays under 30%% on attempt %d", attempt)
		}
		assert.GreaterOrEqual(t, floor, previous, "pre-jitter delay never decreases")
		previous = floor
	}
}

func TestDialURL(t *testing.T) {
	tests := []struct {
		name      string
		baseURL   string
		expect    string
		expectErr bool
	}{
		{
			name:    "https becomes wss",
			baseURL: "https://api.openai.com/v1/realtime",
			expect:  "wss://api.openai.com/v1/realtime?model=gpt-realtime",
		},
		{
			name:    "wss kept",
			baseURL: "wss://api.openai.com/v1/realtime",
			expect:  "wss://api.openai.com/v1/realtime?model=gpt-realtime",
		},
		{
			name:    "loopback may stay plaintext",
			baseURL: "ws://127.0.0.1:9000/realtime",
			expect:  "ws://127.0.0.1:9000/realtime?model=gpt-realtime",
		},
		{
			name:      "plaintext to the outside refused",
			baseURL:   "ws://example.com/realtime",
			expectErr: true,
		},
		{
			name:      "unsupported scheme",
			baseURL:   "ftp://example.com",
			expectErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(
				context.Background(),
				shared.NewNopLogger(),
				Config{APIKey: "sk-test", BaseURL: tt.baseURL, Model: "gpt-realtime"},
				NewSessionConfig("gpt-realtime", "ash", ""),
			)
			require.NoError(t, err)
			got, err := client.dialURL()
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestDecodeMaybeBase64(t *testing.T) {
	raw := []byte{0xFF, 0x01, 0x80, 0x7F}
	encoded := []byte(base64.StdEncoding.EncodeToString(raw))
	assert.Equal(t, raw, decodeMaybeBase64(encoded))
	assert.Equal(t, raw, decodeMaybeBase64(raw), "undecodable payloads pass through")
}
