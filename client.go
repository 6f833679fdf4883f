package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bt-bridge/telephony-realtime/shared"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ConnectionLostHandler func(err error)

type ConnectionRestoredHandler func()

// Client owns one connection to the realtime endpoint: handshake, receive and
// heartbeat loops, reconnection with backoff, rate-limited sends and
// backpressured audio buffering. All state transitions happen on the client's
// own goroutines.
type Client struct {
	logger  shared.LoggerAdapter
	cfg     Config
	session *SessionConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnectionState
	sessionId        string
	conversationId   string
	effectiveSession map[string]any
	reconnectAttempt int
	updateAck        chan map[string]any
	connCancel       context.CancelFunc

	// writeMu serializes websocket writes and makes the rate limiter's
	// check+write+record sequence exclusive across senders.
	writeMu sync.Mutex

	closing      atomic.Bool
	reconnecting atomic.Bool
	lastActivity atomic.Int64
	lastPong     atomic.Int64

	limiter    *RateLimiter
	audioQueue *AudioQueue
	dispatcher *EventDispatcher
	memory     *memoryGauge

	onLost     ConnectionLostHandler
	onRestored ConnectionRestoredHandler

	loopWg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelCauseFunc
}

func NewClient(ctx context.Context, logger shared.LoggerAdapter, cfg Config, session *SessionConfig) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.APIKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if session == nil {
		return nil, shared.ErrNoConfig
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	c := &Client{
		logger:     logger,
		cfg:        cfg,
		session:    session,
		state:      StateDisconnected,
		limiter:    NewRateLimiter(cfg.RateWindow, cfg.RateMaxRequests, cfg.RateMaxBytes),
		audioQueue: NewAudioQueue(cfg.AudioQueueCapacity),
		dispatcher: NewEventDispatcher(logger),
		memory:     newMemoryGauge(cfg.MemoryLimitBytes, cfg.MemoryHighWater, cfg.MemoryCheckInterval),
		ctx:        ctx,
		cancel:     cancel,
	}
	return c, nil
}

func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) SessionId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionId
}

func (c *Client) ConversationId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationId
}

// EffectiveSession returns a copy of the server-acknowledged session config.
func (c *Client) EffectiveSession() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.effectiveSession == nil {
		return nil
	}
	out := make(map[string]any, len(c.effectiveSession))
	for k, v := range c.effectiveSession {
		out[k] = v
	}
	return out
}

// On registers an event handler, returning its registration id.
func (c *Client) On(eventType ServerEventType, handler EventHandler) string {
	return c.dispatcher.On(eventType, handler)
}

// Off removes an event handler registration.
func (c *Client) Off(eventType ServerEventType, id string) bool {
	return c.dispatcher.Off(eventType, id)
}

// OnConnectionLost sets the callback fired when the connection drops or
// reconnection gives up. Set before Connect.
func (c *Client) OnConnectionLost(handler ConnectionLostHandler) {
	c.onLost = handler
}

// OnConnectionRestored sets the callback fired after a successful reconnect.
// Set before Connect.
func (c *Client) OnConnectionRestored(handler ConnectionRestoredHandler) {
	c.onRestored = handler
}

// Connect opens the transport, performs the session handshake and starts the
// receive and heartbeat loops. Calling it on an already running client fails.
func (c *Client) Connect(ctx context.Context) error {
	if c.limiter == nil {
		return shared.ErrClientNotInitialized
	}
	if c.closing.Load() {
		return shared.ErrTransportClosed
	}
	c.mu.Lock()
	switch c.state {
	case StateDisconnected, StateReconnecting:
	default:
		c.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	c.state = StateConnecting
	if c.conversationId == "" {
		c.conversationId = uuid.NewString()
	}
	c.mu.Unlock()

	if err := c.establish(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	return nil
}

// establish dials, handshakes and arms the steady-state loops. Shared by
// Connect and the reconnect loop; any failure closes the partial transport.
func (c *Client) establish(ctx context.Context) error {
	endpoint, err := c.dialURL()
	if err != nil {
		return err
	}

	// The bearer credential and capability header are sent once at transport
	// open and never logged.
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialCtx, cancelDial := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancelDial()
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return fmt.Errorf("dialing realtime endpoint: %w", err)
	}

	if err := c.handshake(conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closing.Load() {
		c.mu.Unlock()
		_ = conn.Close()
		return shared.ErrTransportClosed
	}
	if c.connCancel != nil {
		c.connCancel()
	}
	connCtx, connCancel := context.WithCancel(c.ctx)
	c.conn = conn
	c.connCancel = connCancel
	c.state = StateActive
	c.mu.Unlock()

	c.touch()
	c.lastPong.Store(time.Now().UnixNano())
	conn.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().UnixNano())
		return conn.SetReadDeadline(time.Now().Add(c.readIdleCeiling()))
	})
	_ = conn.SetReadDeadline(time.Now().Add(c.readIdleCeiling()))

	c.loopWg.Add(2)
	go c.receiveLoop(connCtx, conn)
	go c.heartbeatLoop(connCtx, conn)
	c.logger.Info(
		"realtime connection active",
		zap.String("session_id", c.SessionId()),
		zap.String("conversation_id", c.ConversationId()),
	)
	return nil
}

// handshake sends the initial session.update and blocks for session.created.
func (c *Client) handshake(conn *websocket.Conn) error {
	c.setState(StateAwaitingSession)
	sessMap, err := sessionConfigToMap(c.session)
	if err != nil {
		return err
	}
	update := &ClientEvent{
		EventId: uuid.NewString(),
		Type:    ClientEventTypeSessionUpdate,
		Param:   &ClientEventParamSessionUpdate{Session: sessMap},
	}
	data, err := update.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling session update: %w", err)
	}
	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("sending session update: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(deadline)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				return fmt.Errorf("waiting for session.created: %w", shared.ErrHandshakeTimeout)
			}
			return fmt.Errorf("reading handshake frame: %w", err)
		}
		event := new(ServerEvent)
		if err := event.UnmarshalJSON(frame); err != nil {
			c.logger.Warn("skipping malformed handshake frame", zap.Error(err))
			continue
		}
		switch param := event.Param.(type) {
		case *ServerEventParamError:
			return fmt.Errorf("realtime endpoint rejected session: %s (%s)", param.Message, param.Code)
		case *ServerEventParamSessionCreated:
			c.cacheSession(param.Session)
			return nil
		default:
			c.logger.Debug("frame before session.created", zap.String("type", string(event.Type)))
		}
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	switch u.Scheme {
	case "wss":
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Scheme == "ws" && !isLoopback(u.Host) {
		return "", errors.New("TLS is required for non-loopback endpoints")
	}
	q := u.Query()
	if q.Get("model") == "" {
		q.Set("model", c.cfg.Model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// receiveLoop pumps frames until the transport fails or the client closes.
// Closing the websocket is what unblocks the pending read; the closing flag
// decides whether the resulting error means shutdown or a lost connection.
func (c *Client) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.loopWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if c.closing.Load() || ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("realtime endpoint closed the connection")
				c.markDisconnected(nil)
				return
			}
			c.logger.Warn("receive loop transport error", zap.Error(err))
			c.markDisconnected(err)
			c.scheduleReconnect()
			return
		}
		c.touch()
		_ = conn.SetReadDeadline(time.Now().Add(c.readIdleCeiling()))
		switch msgType {
		case websocket.BinaryMessage:
			c.enqueueAudio(decodeMaybeBase64(data))
		case websocket.TextMessage:
			c.handleFrame(data)
		}
	}
}

// handleFrame parses one text frame. Malformed JSON is skipped, never fatal.
func (c *Client) handleFrame(data []byte) {
	event := new(ServerEvent)
	if err := event.UnmarshalJSON(data); err != nil {
		c.logger.Warn("skipping malformed frame", zap.Error(err))
		return
	}
	switch param := event.Param.(type) {
	case *ServerEventParamSessionCreated:
		c.cacheSession(param.Session)
	case *ServerEventParamSessionUpdated:
		effective := c.mergeSessionCache(param.Session)
		c.deliverUpdateAck(effective)
	case *ServerEventParamResponseOutputAudioDelta:
		chunk, err := base64.StdEncoding.DecodeString(param.Delta)
		if err != nil {
			c.logger.Warn("undecodable audio delta", zap.Error(err))
		} else {
			c.enqueueAudio(chunk)
		}
	case *ServerEventParamError:
		c.logger.Warn(
			"realtime endpoint error event",
			zap.String("code", param.Code),
			zap.String("message", param.Message),
		)
	case *ServerEventParamUnrecognized:
		c.logger.Debug("unrecognized event type", zap.String("type", string(event.Type)))
		return
	}
	c.dispatcher.Dispatch(event)
}

func (c *Client) enqueueAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if !c.audioQueue.TryPush(chunk) {
		c.logger.Warn("audio queue full, dropping chunk", zap.Int("bytes", len(chunk)))
	}
}

// heartbeatLoop sends a liveness ping when the connection has been idle past
// the threshold and verifies the pong arrives in time.
func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		idle := time.Since(time.Unix(0, c.lastActivity.Load()))
		if idle < c.cfg.IdleThreshold {
			continue
		}
		if err := c.ping(ctx, conn); err != nil {
			if c.closing.Load() || ctx.Err() != nil {
				return
			}
			c.logger.Warn("heartbeat failed", zap.Error(err), zap.Duration("idle", idle))
			c.markDisconnected(err)
			_ = conn.Close()
			c.scheduleReconnect()
			return
		}
	}
}

func (c *Client) ping(ctx context.Context, conn *websocket.Conn) error {
	before := c.lastPong.Load()
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.PongTimeout)); err != nil {
		return fmt.Errorf("writing ping frame: %w", err)
	}
	waitUntil := time.Now().Add(c.cfg.PongTimeout)
	for time.Now().Before(waitUntil) {
		if c.lastPong.Load() > before {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReadPoll):
		}
	}
	return fmt.Errorf("pong wait: %w", shared.ErrHandshakeTimeout)
}

// SendEvent attaches an id, applies rate limiting, serializes and writes.
// The sample is recorded only when the write succeeds.
func (c *Client) SendEvent(event *ClientEvent) (string, error) {
	if c.limiter == nil {
		return "", shared.ErrClientNotInitialized
	}
	if event == nil {
		return "", shared.ErrNoConfig
	}
	if event.EventId == "" {
		event.EventId = uuid.NewString()
	}
	data, err := event.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshaling event: %w", err)
	}
	if err := c.write(data, len(data)); err != nil {
		return "", err
	}
	return event.EventId, nil
}

// write performs the exclusive check+write+record sequence.
func (c *Client) write(data []byte, cost int) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	conn := c.conn
	active := c.state.active()
	c.mu.Unlock()
	if conn == nil || !active {
		return shared.ErrConnectionInactive
	}
	if !c.limiter.Allow(cost) {
		return shared.ErrRateLimited
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if c.closing.Load() {
			return shared.ErrTransportClosed
		}
		return fmt.Errorf("writing frame: %w", errors.Join(shared.ErrTransportClosed, err))
	}
	c.limiter.Record(cost)
	c.touch()
	return nil
}

// SendAudioChunk forwards one audio payload to the endpoint's input buffer.
// Every failure mode degrades to false: validation, memory pressure, rate
// limiting, backpressure, transport.
func (c *Client) SendAudioChunk(chunk []byte) bool {
	if len(chunk) == 0 || len(chunk) > c.cfg.MaxChunkBytes {
		c.logger.Warn("refusing audio chunk", zap.Int("bytes", len(chunk)), zap.Error(shared.ErrAudioValidation))
		return false
	}
	if !c.Active() {
		return false
	}
	if c.memory.underPressure() {
		c.logger.Warn("refusing audio chunk", zap.Error(shared.ErrMemoryPressure))
		return false
	}
	if !c.limiter.Allow(len(chunk)) {
		c.logger.Debug("audio chunk rate limited", zap.Int("bytes", len(chunk)))
		return false
	}
	if c.audioQueue.NearCapacity() {
		time.Sleep(c.cfg.QueueDrainPause)
		if c.audioQueue.Len() >= c.audioQueue.Cap() {
			c.logger.Warn("dropping audio chunk under backpressure", zap.Int("queued", c.audioQueue.Len()))
			return false
		}
	}
	event := &ClientEvent{
		Type: ClientEventTypeInputAudioBufferAppend,
		Param: &ClientEventParamInputAudioBufferAppend{
			Audio: base64.StdEncoding.EncodeToString(chunk),
		},
	}
	event.EventId = uuid.NewString()
	data, err := event.MarshalJSON()
	if err != nil {
		c.logger.Error("marshaling audio append", err)
		return false
	}
	if err := c.write(data, len(chunk)); err != nil {
		c.logger.Debug("audio chunk not sent", zap.Error(err))
		return false
	}
	return true
}

// ReceiveAudioChunk returns the next queued audio payload, waiting up to
// timeout. It returns immediately when data is queued, and reports no data
// when the queue is drained and the connection inactive.
func (c *Client) ReceiveAudioChunk(timeout time.Duration) ([]byte, bool) {
	if data, ok := c.audioQueue.Pop(0); ok {
		return data, true
	}
	if !c.Active() {
		return nil, false
	}
	return c.audioQueue.Pop(timeout)
}

// CommitAudioBuffer asks the endpoint to commit the pending input audio.
func (c *Client) CommitAudioBuffer() error {
	_, err := c.SendEvent(&ClientEvent{
		Type:  ClientEventTypeInputAudioBufferCommit,
		Param: new(ClientEventParamInputAudioBufferCommit),
	})
	return err
}

// ClearAudioBuffer discards the endpoint's pending input audio.
func (c *Client) ClearAudioBuffer() error {
	_, err := c.SendEvent(&ClientEvent{
		Type:  ClientEventTypeInputAudioBufferClear,
		Param: new(ClientEventParamInputAudioBufferClear),
	})
	return err
}

// SendTextMessage creates a conversation item carrying text for the role.
func (c *Client) SendTextMessage(text, role string) error {
	if role == "" {
		role = "user"
	}
	_, err := c.SendEvent(&ClientEvent{
		Type: ClientEventTypeConversationItemCreate,
		Param: &ClientEventParamConversationItemCreate{
			Item: map[string]any{
				"type": "message",
				"role": role,
				"content": []any{
					map[string]any{"type": "input_text", "text": text},
				},
			},
		},
	})
	return err
}

// CreateResponse asks the endpoint to generate a response.
func (c *Client) CreateResponse(modalities []string, instructions string) error {
	response := map[string]any{}
	if len(modalities) > 0 {
		response["output_modalities"] = modalities
	}
	if instructions != "" {
		response["instructions"] = instructions
	}
	_, err := c.SendEvent(&ClientEvent{
		Type:  ClientEventTypeResponseCreate,
		Param: &ClientEventParamResponseCreate{Response: response},
	})
	return err
}

// CancelResponse cancels the in-flight response, if any.
func (c *Client) CancelResponse(responseId string) error {
	_, err := c.SendEvent(&ClientEvent{
		Type:  ClientEventTypeResponseCancel,
		Param: &ClientEventParamResponseCancel{ResponseId: responseId},
	})
	return err
}

// UpdateSession sends a session patch and blocks for the acknowledgment,
// returning the effective config the server acknowledged.
func (c *Client) UpdateSession(patch map[string]any) (map[string]any, error) {
	if len(patch) == 0 {
		return c.EffectiveSession(), nil
	}
	ack := make(chan map[string]any, 1)
	c.mu.Lock()
	c.updateAck = ack
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.updateAck == ack {
			c.updateAck = nil
		}
		c.mu.Unlock()
	}()

	_, err := c.SendEvent(&ClientEvent{
		Type:  ClientEventTypeSessionUpdate,
		Param: &ClientEventParamSessionUpdate{Session: patch},
	})
	if err != nil {
		return nil, err
	}
	select {
	case effective := <-ack:
		return effective, nil
	case <-time.After(c.cfg.ConnectTimeout):
		return nil, fmt.Errorf("waiting for session.updated: %w", shared.ErrHandshakeTimeout)
	case <-c.ctx.Done():
		return nil, shared.ErrTransportClosed
	}
}

// Active reports whether frames may flow right now.
func (c *Client) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.active()
}

// Close shuts the client down: suppress reconnects, stop the loops, close the
// transport once, drain the queue and reset identifiers. Idempotent.
func (c *Client) Close() error {
	if c.closing.Swap(true) {
		return nil
	}
	c.setState(StateClosing)
	c.cancel(errors.New("client closed"))

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		if err := conn.Close(); err != nil {
			c.logger.Error("closing transport", err)
		}
	}
	c.loopWg.Wait()
	if dropped := c.audioQueue.Drain(); dropped > 0 {
		c.logger.Debug("drained audio queue", zap.Int("dropped", dropped))
	}

	c.mu.Lock()
	c.sessionId = ""
	c.conversationId = ""
	c.effectiveSession = nil
	c.state = StateClosed
	c.mu.Unlock()
	c.logger.Info("realtime client closed")
	return nil
}

// scheduleReconnect spawns the self-driving reconnect task, at most one in
// flight, bound to the client context so it cannot outlive Close.
func (c *Client) scheduleReconnect() {
	if c.closing.Load() {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	defer c.reconnecting.Store(false)
	for {
		if c.closing.Load() || c.ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		c.state = StateReconnecting
		c.reconnectAttempt++
		attempt := c.reconnectAttempt
		c.mu.Unlock()

		if attempt > c.cfg.MaxReconnectAttempts {
			c.logger.Error(
				"giving up on reconnection",
				shared.ErrReconnectExhausted,
				zap.Int("attempts", attempt-1),
			)
			c.setState(StateDisconnected)
			if c.onLost != nil {
				c.onLost(shared.ErrReconnectExhausted)
			}
			return
		}

		delay := reconnectDelay(attempt, c.cfg.BaseReconnectDelay, c.cfg.MaxReconnectDelay)
		c.logger.Info(
			"reconnecting to realtime endpoint",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxReconnectAttempts),
			zap.Duration("delay", delay),
		)
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
		if c.closing.Load() {
			return
		}

		if err := c.establish(c.ctx); err != nil {
			c.logger.Warn("reconnect attempt failed", zap.Error(err), zap.Int("attempt", attempt))
			continue
		}

		c.mu.Lock()
		c.reconnectAttempt = 0
		c.mu.Unlock()
		c.logger.Info("realtime connection restored")
		if c.onRestored != nil {
			c.onRestored()
		}
		return
	}
}

// reconnectDelay is min(base*2^(attempt-1), max) plus jitter in [0, 30%).
func reconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	jitterCeil := int64(delay) * 3 / 10
	if jitterCeil > 0 {
		delay += time.Duration(rand.Int63n(jitterCeil))
	}
	return delay
}

// markDisconnected flips the state off Active and fires the connection-lost
// callback. A nil err means a clean remote close. The callback fires only on
// the Active→Disconnected edge: a heartbeat failure and the read error it
// provokes report the same drop once.
func (c *Client) markDisconnected(err error) {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	wasActive := c.state == StateActive
	c.state = StateDisconnected
	c.mu.Unlock()
	if err != nil && wasActive && c.onLost != nil {
		c.onLost(err)
	}
}

func (c *Client) setState(state ConnectionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Client) cacheSession(session map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.effectiveSession = session
	if id, ok := session["id"].(string); ok && id != "" {
		c.sessionId = id
	}
}

// mergeSessionCache folds a possibly partial session.updated payload into the
// cached config and returns a copy of the merged result, so callers holding
// it never observe later merges.
func (c *Client) mergeSessionCache(session map[string]any) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.effectiveSession = mergeSessionPatch(c.effectiveSession, session)
	if id, ok := session["id"].(string); ok && id != "" {
		c.sessionId = id
	}
	out := make(map[string]any, len(c.effectiveSession))
	for k, v := range c.effectiveSession {
		out[k] = v
	}
	return out
}

func (c *Client) deliverUpdateAck(session map[string]any) {
	c.mu.Lock()
	ack := c.updateAck
	c.updateAck = nil
	c.mu.Unlock()
	if ack != nil {
		select {
		case ack <- session:
		default:
		}
	}
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) readIdleCeiling() time.Duration {
	return c.cfg.IdleThreshold + 2*c.cfg.PongTimeout
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isLoopback(host string) bool {
	h := host
	if i := strings.LastIndex(h, ":"); i >= 0 {
		if withoutPort, _, err := net.SplitHostPort(h); err == nil {
			h = withoutPort
		}
	}
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

// decodeMaybeBase64 handles binary frames carrying either raw or base64 PCM.
func decodeMaybeBase64(data []byte) []byte {
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(decoded, data)
	if err != nil {
		return data
	}
	return decoded[:n]
}
