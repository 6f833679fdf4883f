package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	realtime "github.com/bt-bridge/telephony-realtime"
	"github.com/bt-bridge/telephony-realtime/shared"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TelephonyConn is the subset of the telephony websocket the bridge drives.
// *websocket.Conn satisfies it.
type TelephonyConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// RealtimeSession is the subset of realtime.Client the bridge drives.
type RealtimeSession interface {
	On(eventType realtime.ServerEventType, handler realtime.EventHandler) string
	Off(eventType realtime.ServerEventType, id string) bool
	SendAudioChunk(chunk []byte) bool
	CommitAudioBuffer() error
	CreateResponse(modalities []string, instructions string) error
	CancelResponse(responseId string) error
	ConversationId() string
	Active() bool
	Close() error
}

type subscription struct {
	eventType realtime.ServerEventType
	id        string
}

// Bridge pairs one telephony media stream with one realtime session and pumps
// audio both ways until either side ends. A bridge is single-use: once closed
// it cannot be restarted.
type Bridge struct {
	logger   shared.LoggerAdapter
	rt       RealtimeSession
	tel      TelephonyConn
	registry *Registry
	greeting string

	out chan *OutboundMessage

	closed atomic.Bool
	wg     sync.WaitGroup

	mu               sync.Mutex
	streamSid        string
	callSid          string
	playStreamId     string
	activeResponseId string
	subs             []subscription
	runCancel        context.CancelFunc
}

// New wires a bridge between the two connections: registers the realtime
// event handlers, records itself in the registry and, when a greeting is
// given, asks for the opening assistant turn. The realtime session must
// already be connected.
func New(logger shared.LoggerAdapter, session RealtimeSession, conn TelephonyConn, registry *Registry, greeting string) (*Bridge, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if session == nil || conn == nil {
		return nil, shared.ErrNoConfig
	}
	if !session.Active() {
		return nil, shared.ErrConnectionInactive
	}
	b := &Bridge{
		logger:   logger.With(zap.String("conversation_id", session.ConversationId())),
		rt:       session,
		tel:      conn,
		registry: registry,
		greeting: greeting,
		out:      make(chan *OutboundMessage, 64),
	}
	b.subscribe()
	if registry != nil {
		registry.Put(session.ConversationId(), b)
	}
	if greeting != "" {
		if err := session.CreateResponse([]string{"audio"}, greeting); err != nil {
			b.Close()
			return nil, fmt.Errorf("requesting greeting turn: %w", err)
		}
	}
	return b, nil
}

func (b *Bridge) subscribe() {
	register := func(t realtime.ServerEventType, h realtime.EventHandler) {
		b.subs = append(b.subs, subscription{eventType: t, id: b.rt.On(t, h)})
	}
	register(realtime.ServerEventTypeResponseCreated, b.onResponseCreated)
	register(realtime.ServerEventTypeResponseOutputAudioDelta, b.onAudioDelta)
	register(realtime.ServerEventTypeResponseOutputAudioDone, b.onAudioDone)
	register(realtime.ServerEventTypeResponseDone, b.onResponseDone)
	register(realtime.ServerEventTypeError, b.onEndpointError)
}

// Run starts both pump loops and blocks until the bridge closes.
func (b *Bridge) Run(ctx context.Context) error {
	if b.closed.Load() {
		return shared.ErrBridgeClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.runCancel = cancel
	b.mu.Unlock()

	b.wg.Add(2)
	go b.inboundPump(ctx)
	go b.outboundPump(ctx)
	b.wg.Wait()
	cancel()
	return nil
}

// inboundPump reads telephony frames and forwards caller audio to the
// realtime session. Any read failure or a stop frame ends the bridge; there
// is no retry on this side.
func (b *Bridge) inboundPump(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := b.tel.ReadMessage()
		if err != nil {
			if !b.closed.Load() {
				b.logger.Warn("telephony stream ended", zap.Error(err))
				go b.Close()
			}
			return
		}
		msg, err := ParseInbound(data)
		if err != nil {
			b.logger.Warn("dropping telephony frame", zap.Error(err))
			if !b.closed.Load() {
				go b.Close()
			}
			return
		}
		if done := b.handleInbound(msg); done {
			return
		}
	}
}

// handleInbound reports true when the pump should stop.
func (b *Bridge) handleInbound(msg *InboundMessage) bool {
	switch msg.Event {
	case EventConnected:
		b.logger.Debug("telephony stream connected")
	case EventStart:
		b.mu.Lock()
		if msg.Start != nil {
			b.streamSid = msg.Start.StreamSid
			b.callSid = msg.Start.CallSid
		}
		if b.streamSid == "" {
			b.streamSid = msg.StreamSid
		}
		streamSid, callSid := b.streamSid, b.callSid
		b.mu.Unlock()
		b.logger.Info(
			"telephony stream started",
			zap.String("stream_sid", streamSid),
			zap.String("call_sid", callSid),
		)
	case EventMedia:
		if msg.Media == nil || msg.Media.Payload == "" {
			b.logger.Warn("media frame without payload")
			return false
		}
		chunk, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			b.logger.Warn("undecodable media payload", zap.Error(err))
			return false
		}
		if !b.rt.SendAudioChunk(chunk) {
			b.logger.Debug("caller audio chunk not accepted", zap.Int("bytes", len(chunk)))
		}
	case EventMark:
		if msg.Mark != nil {
			b.logger.Debug("telephony mark", zap.String("name", msg.Mark.Name))
		}
	case EventStop:
		b.logger.Info("telephony stream stopped")
		if err := b.rt.CommitAudioBuffer(); err != nil {
			b.logger.Debug("committing final audio", zap.Error(err))
		}
		b.mu.Lock()
		responseId := b.activeResponseId
		b.mu.Unlock()
		if responseId != "" {
			if err := b.rt.CancelResponse(responseId); err != nil {
				b.logger.Debug("canceling in-flight response", zap.Error(err))
			}
		}
		go b.Close()
		return true
	default:
		b.logger.Debug("ignoring telephony event", zap.String("event", msg.Event))
	}
	return false
}

// outboundPump is the single writer on the telephony socket, draining frames
// the event handlers enqueue.
func (b *Bridge) outboundPump(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.out:
			data, err := msg.Encode()
			if err != nil {
				b.logger.Error("encoding outbound frame", err)
				continue
			}
			if err := b.tel.WriteMessage(websocket.TextMessage, data); err != nil {
				if !b.closed.Load() {
					b.logger.Warn("telephony write failed", zap.Error(err))
					go b.Close()
				}
				return
			}
		}
	}
}

func (b *Bridge) enqueue(msg *OutboundMessage) {
	select {
	case b.out <- msg:
	default:
		b.logger.Warn("outbound frame dropped", zap.String("event", msg.Event))
	}
}

func (b *Bridge) onResponseCreated(event *realtime.ServerEvent) {
	param, ok := event.Param.(*realtime.ServerEventParamResponseCreated)
	if !ok {
		return
	}
	if id, ok := param.Response["id"].(string); ok {
		b.mu.Lock()
		b.activeResponseId = id
		b.mu.Unlock()
	}
}

// onAudioDelta forwards assistant audio. The first delta of a turn opens a
// play stream; whether that turn is the greeting or a reply is not visible on
// the wire, only its position after session start.
func (b *Bridge) onAudioDelta(event *realtime.ServerEvent) {
	param, ok := event.Param.(*realtime.ServerEventParamResponseOutputAudioDelta)
	if !ok {
		return
	}
	// The event is the source of truth for this turn's audio; the client's
	// queue serves ReceiveAudioChunk consumers and may hold unrelated binary
	// frames, so it is never substituted here.
	payload := param.Delta
	b.mu.Lock()
	streamSid := b.streamSid
	streamId := b.playStreamId
	opening := streamId == ""
	if opening {
		streamId = uuid.NewString()
		b.playStreamId = streamId
	}
	b.mu.Unlock()
	if opening {
		b.enqueue(&OutboundMessage{
			Event:     EventPlayStreamStart,
			StreamId:  streamId,
			StreamSid: streamSid,
			Format:    &MediaFormat{Encoding: "audio/pcm", SampleRate: 24000, Channels: 1},
		})
	}
	b.enqueue(&OutboundMessage{
		Event:    EventPlayStreamChunk,
		StreamId: streamId,
		Payload:  payload,
	})
}

func (b *Bridge) onAudioDone(event *realtime.ServerEvent) {
	b.closePlayStream()
}

func (b *Bridge) onResponseDone(event *realtime.ServerEvent) {
	b.mu.Lock()
	b.activeResponseId = ""
	b.mu.Unlock()
	b.closePlayStream()
}

func (b *Bridge) closePlayStream() {
	b.mu.Lock()
	streamId := b.playStreamId
	b.playStreamId = ""
	b.mu.Unlock()
	if streamId == "" {
		return
	}
	b.enqueue(&OutboundMessage{
		Event:    EventPlayStreamStop,
		StreamId: streamId,
	})
}

func (b *Bridge) onEndpointError(event *realtime.ServerEvent) {
	if param, ok := event.Param.(*realtime.ServerEventParamError); ok {
		b.logger.Warn(
			"realtime endpoint error",
			zap.String("code", param.Code),
			zap.String("message", param.Message),
		)
	}
}

// StreamSid returns the telephony stream id, once known.
func (b *Bridge) StreamSid() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamSid
}

// Close tears both sides down exactly once: unsubscribes the handlers, closes
// the realtime client then the telephony conn, and removes the bridge from
// the registry. Either pump, either peer or the driver may race to call it.
func (b *Bridge) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.logger.Info("closing bridge", zap.String("stream_sid", b.StreamSid()))
	b.mu.Lock()
	cancel := b.runCancel
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, s := range subs {
		b.rt.Off(s.eventType, s.id)
	}
	conversationId := b.rt.ConversationId()
	if err := b.rt.Close(); err != nil {
		b.logger.Error("closing realtime session", err)
	}
	_ = b.tel.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	if err := b.tel.Close(); err != nil {
		b.logger.Error("closing telephony conn", err)
	}
	if b.registry != nil {
		b.registry.Remove(conversationId)
	}
	return nil
}
