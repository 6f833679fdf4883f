package bridge

import (
	"fmt"

	"github.com/bt-bridge/telephony-realtime/shared"
	"github.com/bytedance/sonic"
)

// Telephony stream events, inbound and outbound.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"

	EventPlayStreamStart = "playStream.start"
	EventPlayStreamChunk = "playStream.chunk"
	EventPlayStreamStop  = "playStream.stop"
)

// InboundMessage is one frame from the telephony media stream.
type InboundMessage struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
}

type StartPayload struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid,omitempty"`
	CallSid          string            `json:"callSid,omitempty"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64 audio chunk.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

type StopPayload struct {
	AccountSid string `json:"accountSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
}

// OutboundMessage is one frame toward the telephony media stream. Play-stream
// frames group the audio of one assistant turn under a shared stream id.
type OutboundMessage struct {
	Event     string       `json:"event"`
	StreamId  string       `json:"streamId,omitempty"`
	StreamSid string       `json:"streamSid,omitempty"`
	Format    *MediaFormat `json:"format,omitempty"`
	Payload   string       `json:"payload,omitempty"`
}

// ParseInbound decodes one telephony frame. A frame without an event name is
// malformed.
func ParseInbound(data []byte) (*InboundMessage, error) {
	msg := new(InboundMessage)
	if err := sonic.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decoding telephony frame: %w", shared.ErrMalformedMessage)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("telephony frame without event: %w", shared.ErrMalformedMessage)
	}
	return msg, nil
}

func (m *OutboundMessage) Encode() ([]byte, error) {
	data, err := sonic.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding telephony frame: %w", err)
	}
	return data, nil
}
