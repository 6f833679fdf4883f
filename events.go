package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types
const (
	ServerEventTypeError                              ServerEventType = "error"
	ServerEventTypeSessionCreated                     ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                     ServerEventType = "session.updated"
	ServerEventTypeInputAudioBufferCommitted          ServerEventType = "input_audio_buffer.committed"
	ServerEventTypeInputAudioBufferCleared            ServerEventType = "input_audio_buffer.cleared"
	ServerEventTypeInputAudioBufferSpeechStarted      ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped      ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeResponseCreated                    ServerEventType = "response.created"
	ServerEventTypeResponseDone                       ServerEventType = "response.done"
	ServerEventTypeResponseOutputTextDelta            ServerEventType = "response.output_text.delta"
	ServerEventTypeResponseOutputAudioTranscriptDelta ServerEventType = "response.output_audio_transcript.delta"
	ServerEventTypeResponseOutputAudioDelta           ServerEventType = "response.output_audio.delta"
	ServerEventTypeResponseOutputAudioDone            ServerEventType = "response.output_audio.done"
	ServerEventTypeRatelimitsUpdated                  ServerEventType = "rate_limits.updated"
)

// Client event types
const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeInputAudioBufferAppend ClientEventType = "input_audio_buffer.append"
	ClientEventTypeInputAudioBufferCommit ClientEventType = "input_audio_buffer.commit"
	ClientEventTypeInputAudioBufferClear  ClientEventType = "input_audio_buffer.clear"
	ClientEventTypeConversationItemCreate ClientEventType = "conversation.item.create"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
	ClientEventTypeResponseCancel         ClientEventType = "response.cancel"
)

type Event interface {
	EventType() EventType
	IsServerEvent() bool
	IsClientEvent() bool
	MarshalYAML() ([]byte, error)
	MarshalJSON() ([]byte, error)
	UnmarshalJSON(data []byte) error
}

type ServerEvent struct {
	EventId string
	Type    ServerEventType
	Param   EventParam
}

var _ Event = (*ServerEvent)(nil)

func (e *ServerEvent) EventType() EventType {
	return EventType(e.Type)
}

func (e *ServerEvent) IsServerEvent() bool {
	return true
}

func (e *ServerEvent) IsClientEvent() bool {
	return false
}

// Recognized reports whether the event type is part of the dispatch table, as
// opposed to a forward-compatible unrecognized type carried as raw payload.
func (e *ServerEvent) Recognized() bool {
	_, ok := e.Param.(*ServerEventParamUnrecognized)
	return !ok
}

func (e *ServerEvent) MarshalYAML() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	if e.Param == nil {
		return nil, errors.New("Param is nil")
	}
	resp := map[string]any{}
	for k, v := range e.Param.Json() {
		resp[k] = v
	}
	resp["event_id"] = e.EventId
	resp["type"] = e.Type
	return yaml.MarshalWithOptions(resp, yaml.UseJSONMarshaler())
}

func (e *ServerEvent) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	if e.Param == nil {
		return nil, errors.New("Param is nil")
	}
	resp := map[string]any{}
	for k, v := range e.Param.Json() {
		resp[k] = v
	}
	resp["event_id"] = e.EventId
	resp["type"] = e.Type
	return sonic.Marshal(resp)
}

func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["event_id"].(string); ok {
		e.EventId = v
		delete(raw, "event_id")
	} else {
		return errors.New("missing event_id")
	}
	if v, ok := raw["type"].(string); ok {
		e.Type = ServerEventType(v)
		delete(raw, "type")
	} else {
		return errors.New("missing type")
	}
	switch e.Type {
	case ServerEventTypeError:
		e.Param = new(ServerEventParamError)
	case ServerEventTypeSessionCreated:
		e.Param = new(ServerEventParamSessionCreated)
	case ServerEventTypeSessionUpdated:
		e.Param = new(ServerEventParamSessionUpdated)
	case ServerEventTypeInputAudioBufferCommitted:
		e.Param = new(ServerEventParamInputAudioBufferCommitted)
	case ServerEventTypeInputAudioBufferCleared:
		e.Param = new(ServerEventParamInputAudioBufferCleared)
	case ServerEventTypeInputAudioBufferSpeechStarted:
		e.Param = new(ServerEventParamInputAudioBufferSpeechStarted)
	case ServerEventTypeInputAudioBufferSpeechStopped:
		e.Param = new(ServerEventParamInputAudioBufferSpeechStopped)
	case ServerEventTypeResponseCreated:
		e.Param = new(ServerEventParamResponseCreated)
	case ServerEventTypeResponseDone:
		e.Param = new(ServerEventParamResponseDone)
	case ServerEventTypeResponseOutputTextDelta:
		e.Param = new(ServerEventParamResponseOutputTextDelta)
	case ServerEventTypeResponseOutputAudioTranscriptDelta:
		e.Param = new(ServerEventParamResponseOutputAudioTranscriptDelta)
	case ServerEventTypeResponseOutputAudioDelta:
		e.Param = new(ServerEventParamResponseOutputAudioDelta)
	case ServerEventTypeResponseOutputAudioDone:
		e.Param = new(ServerEventParamResponseOutputAudioDone)
	case ServerEventTypeRatelimitsUpdated:
		e.Param = new(ServerEventParamRatelimitsUpdated)
	default:
		// Forward compatibility: unknown server events are carried whole so
		// callers can log them; they are never dispatched by type.
		e.Param = new(ServerEventParamUnrecognized)
	}
	return e.Param.New(raw)
}

type ClientEvent struct {
	EventId string
	Type    ClientEventType
	Param   EventParam
}

var _ Event = (*ClientEvent)(nil)

func (e *ClientEvent) EventType() EventType {
	return EventType(e.Type)
}

func (e *ClientEvent) IsServerEvent() bool {
	return false
}

func (e *ClientEvent) IsClientEvent() bool {
	return true
}

func (e *ClientEvent) MarshalYAML() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	if e.Param == nil {
		return nil, errors.New("Param is nil")
	}
	resp := map[string]any{}
	for k, v := range e.Param.Json() {
		resp[k] = v
	}
	resp["event_id"] = e.EventId
	resp["type"] = e.Type
	return yaml.MarshalWithOptions(resp, yaml.UseJSONMarshaler())
}

func (e *ClientEvent) MarshalJSON() ([]byte, error) {
	if e.EventId == "" {
		return nil, errors.New("EventId is empty")
	}
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	if e.Param == nil {
		return nil, errors.New("Param is nil")
	}
	resp := map[string]any{}
	for k, v := range e.Param.Json() {
		resp[k] = v
	}
	resp["event_id"] = e.EventId
	resp["type"] = e.Type
	return sonic.Marshal(resp)
}

func (e *ClientEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["event_id"].(string); ok {
		e.EventId = v
		delete(raw, "event_id")
	}
	if v, ok := raw["type"].(string); ok {
		e.Type = ClientEventType(v)
		delete(raw, "type")
	} else {
		return errors.New("missing type")
	}
	switch e.Type {
	case ClientEventTypeSessionUpdate:
		e.Param = new(ClientEventParamSessionUpdate)
	case ClientEventTypeInputAudioBufferAppend:
		e.Param = new(ClientEventParamInputAudioBufferAppend)
	case ClientEventTypeInputAudioBufferCommit:
		e.Param = new(ClientEventParamInputAudioBufferCommit)
	case ClientEventTypeInputAudioBufferClear:
		e.Param = new(ClientEventParamInputAudioBufferClear)
	case ClientEventTypeConversationItemCreate:
		e.Param = new(ClientEventParamConversationItemCreate)
	case ClientEventTypeResponseCreate:
		e.Param = new(ClientEventParamResponseCreate)
	case ClientEventTypeResponseCancel:
		e.Param = new(ClientEventParamResponseCancel)
	default:
		return fmt.Errorf("unknown event type: %s", e.Type)
	}
	return e.Param.New(raw)
}

type EventParam interface {
	New(map[string]any) error
	Json() map[string]any
}

// Helpers for number conversions
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

// ServerEventParamError
type ServerEventParamError struct {
	Type    string
	EventId string
	Code    string
	Message string
	Param   any
}

func (p *ServerEventParamError) New(jsonMap map[string]any) error {
	if errObj, ok := jsonMap["error"].(map[string]any); ok {
		if v, ok := errObj["type"].(string); ok {
			p.Type = v
		} else {
			return errors.New("missing error.type")
		}
		if v, ok := errObj["message"].(string); ok {
			p.Message = v
		} else {
			return errors.New("missing error.message")
		}
		if v, ok := errObj["code"].(string); ok {
			p.Code = v
		}
		if v, ok := errObj["event_id"].(string); ok {
			p.EventId = v
		}
		p.Param = errObj["param"]
		return nil
	}

	// Fallback: flattened keys
	if v, ok := jsonMap["type"].(string); ok {
		p.Type = v
	} else {
		return errors.New("missing type")
	}
	if v, ok := jsonMap["message"].(string); ok {
		p.Message = v
	} else {
		return errors.New("missing message")
	}
	if v, ok := jsonMap["code"].(string); ok {
		p.Code = v
	}
	if v, ok := jsonMap["event_id"].(string); ok {
		p.EventId = v
	}
	p.Param = jsonMap["param"]
	return nil
}

func (p *ServerEventParamError) Json() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":     p.Type,
			"event_id": p.EventId,
			"code":     p.Code,
			"message":  p.Message,
			"param":    p.Param,
		},
	}
}

// session.created
type ServerEventParamSessionCreated struct {
	Session map[string]any
}

func (p *ServerEventParamSessionCreated) New(m map[string]any) error {
	if session, ok := m["session"].(map[string]any); ok {
		p.Session = session
	} else {
		return errors.New("missing session")
	}
	return nil
}

func (p *ServerEventParamSessionCreated) Json() map[string]any {
	return map[string]any{
		"session": p.Session,
	}
}

// session.updated
type ServerEventParamSessionUpdated struct {
	Session map[string]any
}

func (p *ServerEventParamSessionUpdated) New(m map[string]any) error {
	if session, ok := m["session"].(map[string]any); ok {
		p.Session = session
	} else {
		return errors.New("missing session")
	}
	return nil
}

func (p *ServerEventParamSessionUpdated) Json() map[string]any {
	return map[string]any{
		"session": p.Session,
	}
}

// input_audio_buffer.committed
type ServerEventParamInputAudioBufferCommitted struct {
	PreviousItemId any
	ItemId         string
}

func (p *ServerEventParamInputAudioBufferCommitted) New(m map[string]any) error {
	p.PreviousItemId = m["previous_item_id"]
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	return nil
}

func (p *ServerEventParamInputAudioBufferCommitted) Json() map[string]any {
	return map[string]any{
		"previous_item_id": p.PreviousItemId,
		"item_id":          p.ItemId,
	}
}

// input_audio_buffer.cleared
type ServerEventParamInputAudioBufferCleared struct{}

func (p *ServerEventParamInputAudioBufferCleared) New(m map[string]any) error {
	return nil
}

func (p *ServerEventParamInputAudioBufferCleared) Json() map[string]any {
	return map[string]any{}
}

// input_audio_buffer.speech_started
type ServerEventParamInputAudioBufferSpeechStarted struct {
	AudioStartMs int
	ItemId       string
}

func (p *ServerEventParamInputAudioBufferSpeechStarted) New(m map[string]any) error {
	if v, ok := asInt(m["audio_start_ms"]); ok {
		p.AudioStartMs = v
	} else {
		return errors.New("missing audio_start_ms")
	}
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	return nil
}

func (p *ServerEventParamInputAudioBufferSpeechStarted) Json() map[string]any {
	return map[string]any{
		"audio_start_ms": p.AudioStartMs,
		"item_id":        p.ItemId,
	}
}

// input_audio_buffer.speech_stopped
type ServerEventParamInputAudioBufferSpeechStopped struct {
	AudioEndMs int
	ItemId     string
}

func (p *ServerEventParamInputAudioBufferSpeechStopped) New(m map[string]any) error {
	if v, ok := asInt(m["audio_end_ms"]); ok {
		p.AudioEndMs = v
	} else {
		return errors.New("missing audio_end_ms")
	}
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	return nil
}

func (p *ServerEventParamInputAudioBufferSpeechStopped) Json() map[string]any {
	return map[string]any{
		"audio_end_ms": p.AudioEndMs,
		"item_id":      p.ItemId,
	}
}

// response.created
type ServerEventParamResponseCreated struct {
	Response map[string]any
}

func (p *ServerEventParamResponseCreated) New(m map[string]any) error {
	if v, ok := m["response"].(map[string]any); ok {
		p.Response = v
	} else {
		return errors.New("missing response")
	}
	return nil
}

func (p *ServerEventParamResponseCreated) Json() map[string]any {
	return map[string]any{
		"response": p.Response,
	}
}

// response.done
type ServerEventParamResponseDone struct {
	Response map[string]any
}

func (p *ServerEventParamResponseDone) New(m map[string]any) error {
	if v, ok := m["response"].(map[string]any); ok {
		p.Response = v
	} else {
		return errors.New("missing response")
	}
	return nil
}

func (p *ServerEventParamResponseDone) Json() map[string]any {
	return map[string]any{
		"response": p.Response,
	}
}

// response.output_text.delta
type ServerEventParamResponseOutputTextDelta struct {
	ResponseId   string
	ItemId       string
	OutputIndex  int
	ContentIndex int
	Delta        string
}

func (p *ServerEventParamResponseOutputTextDelta) New(m map[string]any) error {
	if v, ok := m["response_id"].(string); ok {
		p.ResponseId = v
	} else {
		return errors.New("missing response_id")
	}
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	if v, ok := asInt(m["output_index"]); ok {
		p.OutputIndex = v
	} else {
		return errors.New("missing output_index")
	}
	if v, ok := asInt(m["content_index"]); ok {
		p.ContentIndex = v
	} else {
		return errors.New("missing content_index")
	}
	if v, ok := m["delta"].(string); ok {
		p.Delta = v
	} else {
		return errors.New("missing delta")
	}
	return nil
}

func (p *ServerEventParamResponseOutputTextDelta) Json() map[string]any {
	return map[string]any{
		"response_id":   p.ResponseId,
		"item_id":       p.ItemId,
		"output_index":  p.OutputIndex,
		"content_index": p.ContentIndex,
		"delta":         p.Delta,
	}
}

// response.output_audio_transcript.delta
type ServerEventParamResponseOutputAudioTranscriptDelta struct {
	ResponseId   string
	ItemId       string
	OutputIndex  int
	ContentIndex int
	Delta        string
}

func (p *ServerEventParamResponseOutputAudioTranscriptDelta) New(m map[string]any) error {
	if v, ok := m["response_id"].(string); ok {
		p.ResponseId = v
	} else {
		return errors.New("missing response_id")
	}
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	if v, ok := asInt(m["output_index"]); ok {
		p.OutputIndex = v
	} else {
		return errors.New("missing output_index")
	}
	if v, ok := asInt(m["content_index"]); ok {
		p.ContentIndex = v
	} else {
		return errors.New("missing content_index")
	}
	if v, ok := m["delta"].(string); ok {
		p.Delta = v
	} else {
		return errors.New("missing delta")
	}
	return nil
}

func (p *ServerEventParamResponseOutputAudioTranscriptDelta) Json() map[string]any {
	return map[string]any{
		"response_id":   p.ResponseId,
		"item_id":       p.ItemId,
		"output_index":  p.OutputIndex,
		"content_index": p.ContentIndex,
		"delta":         p.Delta,
	}
}

// response.output_audio.delta
type ServerEventParamResponseOutputAudioDelta struct {
	ResponseId   string
	ItemId       string
	OutputIndex  int
	ContentIndex int
	Delta        string
}

func (p *ServerEventParamResponseOutputAudioDelta) New(m map[string]any) error {
	if v, ok := m["response_id"].(string); ok {
		p.ResponseId = v
	} else {
		return errors.New("missing response_id")
	}
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	if v, ok := asInt(m["output_index"]); ok {
		p.OutputIndex = v
	} else {
		return errors.New("missing output_index")
	}
	if v, ok := asInt(m["content_index"]); ok {
		p.ContentIndex = v
	} else {
		return errors.New("missing content_index")
	}
	// Some relays carry the audio under "audio" instead of "delta".
	if v, ok := m["delta"].(string); ok {
		p.Delta = v
	} else if v, ok := m["audio"].(string); ok {
		p.Delta = v
	} else {
		return errors.New("missing delta")
	}
	return nil
}

func (p *ServerEventParamResponseOutputAudioDelta) Json() map[string]any {
	return map[string]any{
		"response_id":   p.ResponseId,
		"item_id":       p.ItemId,
		"output_index":  p.OutputIndex,
		"content_index": p.ContentIndex,
		"delta":         p.Delta,
	}
}

// response.output_audio.done
type ServerEventParamResponseOutputAudioDone struct {
	ResponseId   string
	ItemId       string
	OutputIndex  int
	ContentIndex int
}

func (p *ServerEventParamResponseOutputAudioDone) New(m map[string]any) error {
	if v, ok := m["response_id"].(string); ok {
		p.ResponseId = v
	} else {
		return errors.New("missing response_id")
	}
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	if v, ok := asInt(m["output_index"]); ok {
		p.OutputIndex = v
	} else {
		return errors.New("missing output_index")
	}
	if v, ok := asInt(m["content_index"]); ok {
		p.ContentIndex = v
	} else {
		return errors.New("missing content_index")
	}
	return nil
}

func (p *ServerEventParamResponseOutputAudioDone) Json() map[string]any {
	return map[string]any{
		"response_id":   p.ResponseId,
		"item_id":       p.ItemId,
		"output_index":  p.OutputIndex,
		"content_index": p.ContentIndex,
	}
}

// rate_limits.updated
type ServerEventParamRatelimitsUpdated struct {
	RateLimits []map[string]any
}

func (p *ServerEventParamRatelimitsUpdated) New(m map[string]any) error {
	v, ok := m["rate_limits"]
	if !ok {
		return errors.New("missing rate_limits")
	}
	switch rr := v.(type) {
	case []any:
		res := make([]map[string]any, 0, len(rr))
		for _, r := range rr {
			if rm, ok := r.(map[string]any); ok {
				res = append(res, rm)
			} else {
				return errors.New("invalid element in rate_limits")
			}
		}
		p.RateLimits = res
	case []map[string]any:
		p.RateLimits = rr
	default:
		return errors.New("invalid rate_limits")
	}
	return nil
}

func (p *ServerEventParamRatelimitsUpdated) Json() map[string]any {
	return map[string]any{
		"rate_limits": p.RateLimits,
	}
}

// Unrecognized server event, kept as raw payload.
type ServerEventParamUnrecognized struct {
	Raw map[string]any
}

func (p *ServerEventParamUnrecognized) New(m map[string]any) error {
	p.Raw = m
	return nil
}

func (p *ServerEventParamUnrecognized) Json() map[string]any {
	return p.Raw
}

// session.update
type ClientEventParamSessionUpdate struct {
	Session map[string]any
}

func (p *ClientEventParamSessionUpdate) New(m map[string]any) error {
	if v, ok := m["session"].(map[string]any); ok {
		p.Session = v
	} else {
		return errors.New("missing session")
	}
	return nil
}

func (p *ClientEventParamSessionUpdate) Json() map[string]any {
	return map[string]any{
		"session": p.Session,
	}
}

// input_audio_buffer.append
type ClientEventParamInputAudioBufferAppend struct {
	Audio string // base64 payload
}

func (p *ClientEventParamInputAudioBufferAppend) New(m map[string]any) error {
	if v, ok := m["audio"].(string); ok {
		p.Audio = v
	} else {
		return errors.New("missing audio")
	}
	return nil
}

func (p *ClientEventParamInputAudioBufferAppend) Json() map[string]any {
	return map[string]any{
		"audio": p.Audio,
	}
}

// input_audio_buffer.commit
type ClientEventParamInputAudioBufferCommit struct{}

func (p *ClientEventParamInputAudioBufferCommit) New(m map[string]any) error {
	return nil
}

func (p *ClientEventParamInputAudioBufferCommit) Json() map[string]any {
	return map[string]any{}
}

// input_audio_buffer.clear
type ClientEventParamInputAudioBufferClear struct{}

func (p *ClientEventParamInputAudioBufferClear) New(m map[string]any) error {
	return nil
}

func (p *ClientEventParamInputAudioBufferClear) Json() map[string]any {
	return map[string]any{}
}

// conversation.item.create
type ClientEventParamConversationItemCreate struct {
	PreviousItemId string
	Item           map[string]any
}

func (p *ClientEventParamConversationItemCreate) New(m map[string]any) error {
	if v, ok := m["previous_item_id"].(string); ok {
		p.PreviousItemId = v
	}
	if v, ok := m["item"].(map[string]any); ok {
		p.Item = v
	} else {
		return errors.New("missing item")
	}
	return nil
}

func (p *ClientEventParamConversationItemCreate) Json() map[string]any {
	resp := map[string]any{
		"item": p.Item,
	}
	if p.PreviousItemId != "" {
		resp["previous_item_id"] = p.PreviousItemId
	}
	return resp
}

// response.create
type ClientEventParamResponseCreate struct {
	Response map[string]any
}

func (p *ClientEventParamResponseCreate) New(m map[string]any) error {
	if v, ok := m["response"].(map[string]any); ok {
		p.Response = v
	}
	return nil
}

func (p *ClientEventParamResponseCreate) Json() map[string]any {
	if p.Response == nil {
		return map[string]any{}
	}
	return map[string]any{
		"response": p.Response,
	}
}

// response.cancel
type ClientEventParamResponseCancel struct {
	ResponseId string
}

func (p *ClientEventParamResponseCancel) New(m map[string]any) error {
	if v, ok := m["response_id"].(string); ok {
		p.ResponseId = v
	}
	return nil
}

func (p *ClientEventParamResponseCancel) Json() map[string]any {
	if p.ResponseId == "" {
		return map[string]any{}
	}
	return map[string]any{
		"response_id": p.ResponseId,
	}
}
