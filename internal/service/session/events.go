package session

import (
	"encoding/json"
	"time"
)

// Inbound event types.
const (
	EventAuthenticate     = "authenticate"
	EventChangeProvider   = "change_provider"
	EventChangeModel      = "change_model"
	EventSetPersona       = "set_persona"
	EventSetMode          = "set_mode"
	EventGetModels        = "get_models"
	EventValidateProvider = "validate_provider"
	EventAudioChunk       = "audio_chunk"
	EventAudioFile        = "audio_file"
	EventTextQuery        = "text_query"
	EventVisualQuery      = "visual_query"
	EventFileUpload       = "file_upload"
	EventStartSession     = "start_session"
	EventEndSession       = "end_session"
)

// Outbound event types.
const (
	EventConnected         = "connected"
	EventAuthenticated     = "authenticated"
	EventTranscriptFinal   = "transcript_final"
	EventAnswerFinal       = "answer_final"
	EventStatusUpdate      = "status_update"
	EventProviderChanged   = "provider_changed"
	EventModelChanged      = "model_changed"
	EventPersonaSet        = "persona_set"
	EventModeChanged       = "mode_changed"
	EventModelsList        = "models_list"
	EventProviderValidated = "provider_validated"
	EventSessionStarted    = "session_started"
	EventSessionSummary    = "session_summary"
	EventSessionEnded      = "session_ended"
	EventFileReady         = "file:ready"
	EventFileError         = "file:error"
	EventError             = "error"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`

	// Invalid 非空表示传输层无法解码该帧，会话回复 validation_error
	Invalid string `json:"-"`
}

// Outbound 是发往客户端的事件，Data 由写协程序列化。
type Outbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// InvalidEnvelope wraps a frame the transport could not decode so the session
// can report it without closing the connection.
func InvalidEnvelope(err error) Envelope {
	return Envelope{Invalid: err.Error(), Timestamp: time.Now().UnixMilli()}
}

// NewEnvelope 构造入站事件，主要用于测试和工具。
func NewEnvelope(eventType string, data any) (Envelope, error) {
	env := Envelope{Type: eventType, Timestamp: time.Now().UnixMilli()}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = raw
	return env, nil
}

type authenticatePayload struct {
	Token      string `json:"token"`
	Credential string `json:"credential"`
}

type providerPayload struct {
	Provider string `json:"provider"`
}

type modelPayload struct {
	Model string `json:"model"`
}

type personaPayload struct {
	Persona string `json:"persona"`
}

type modePayload struct {
	Mode string `json:"mode"`
}

type audioChunkPayload struct {
	Audio string `json:"audio"`
	Final bool   `json:"final"`
}

type audioFilePayload struct {
	Audio    string `json:"audio"`
	Format   string `json:"format"`
	Language string `json:"language"`
}

type textPayload struct {
	Text string `json:"text"`
}

type visualPayload struct {
	Text     string `json:"text"`
	Image    string `json:"image"`
	MIMEType string `json:"mimeType"`
}

type filePayload struct {
	File     string `json:"file"`
	Name     string `json:"name"`
	MIMEType string `json:"mime"`
	Question string `json:"question"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// StatusPayload is the data of a status_update event.
type StatusPayload struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Text     string `json:"text,omitempty"`
	Position int    `json:"position,omitempty"`
}

// AnswerPayload is the data of answer_final.
type AnswerPayload struct {
	Answer   string `json:"answer"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Mode     string `json:"mode"`
	Question string `json:"question"`
	Cached   bool   `json:"cached"`
}

// TranscriptPayload is the data of transcript_final.
type TranscriptPayload struct {
	Text        string `json:"text"`
	Source      string `json:"source"`
	Disposition string `json:"disposition"`
	Engine      string `json:"engine,omitempty"`
}
