package realtime

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/openai/openai-go/v3/packages/param"
	oairealtime "github.com/openai/openai-go/v3/realtime"
)

// ConnectionState is the single source of truth for the client's lifecycle.
// It replaces any notion of independent connected/closing/reconnecting flags;
// transitions happen only on the client's own goroutines.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAwaitingSession
	StateActive
	StateReconnecting
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingSession:
		return "awaiting_session"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// active states are the ones in which frames may flow.
func (s ConnectionState) active() bool {
	return s == StateActive
}

// SessionConfig is the session-update payload sent at connect and on updates.
type SessionConfig = oairealtime.RealtimeSessionCreateRequestParam

// NewSessionConfig builds a voice session config with PCM audio both ways and
// semantic VAD turn detection, the shape the realtime endpoint expects for
// telephony relays.
func NewSessionConfig(model, voice, instructions string) *SessionConfig {
	cfg := &SessionConfig{
		Model: model,
		Audio: oairealtime.RealtimeAudioConfigParam{
			Input: oairealtime.RealtimeAudioConfigInputParam{
				TurnDetection: oairealtime.RealtimeAudioInputTurnDetectionUnionParam{
					OfSemanticVad: &oairealtime.RealtimeAudioInputTurnDetectionSemanticVadParam{
						CreateResponse:    param.NewOpt(true),
						InterruptResponse: param.NewOpt(true),
					},
				},
				Format: oairealtime.RealtimeAudioFormatsUnionParam{
					OfAudioPCM: &oairealtime.RealtimeAudioFormatsAudioPCMParam{
						Rate: 24000,
						Type: "audio/pcm",
					},
				},
			},
			Output: oairealtime.RealtimeAudioConfigOutputParam{
				Format: oairealtime.RealtimeAudioFormatsUnionParam{
					OfAudioPCM: &oairealtime.RealtimeAudioFormatsAudioPCMParam{
						Rate: 24000,
						Type: "audio/pcm",
					},
				},
				Voice: oairealtime.RealtimeAudioConfigOutputVoice(voice),
			},
		},
	}
	if instructions != "" {
		cfg.Instructions = param.NewOpt(instructions)
	}
	return cfg
}

// sessionConfigToMap renders the SDK param struct into the raw map shape the
// session.update event carries.
func sessionConfigToMap(cfg *SessionConfig) (map[string]any, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil session config")
	}
	raw, err := cfg.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshaling session config: %w", err)
	}
	var m map[string]any
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("rendering session config: %w", err)
	}
	return m, nil
}

// mergeSessionPatch overlays patch keys onto a session map copy.
func mergeSessionPatch(base map[string]any, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}
