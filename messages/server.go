package messages

import (
	"github.com/room4-2/studytutor/audio"
	"github.com/room4-2/studytutor/failure"
)

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeSessionFailed    = "SESSION_FAILED"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	ErrCodeBufferFull       = "BUFFER_FULL"
)

// Message types
const (
	TypeAudio     = "audio"
	TypeText      = "text"
	TypeChat      = "chat"
	TypeState     = "state"
	TypeInterrupt = "interrupt"
	TypeStatus    = "status"
	TypeError     = "error"
)

// ServerMessage represents a message sent to frontend client
type ServerMessage struct {
	Type      string `json:"type"` // "audio", "text", "chat", "state", "interrupt", "status", "error"
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// AudioResponsePayload contains audio data for client
type AudioResponsePayload struct {
	Data     string `json:"data"`     // Base64-encoded PCM audio
	MimeType string `json:"mimeType"` // "audio/pcm;rate=24000"
}

// TextResponsePayload contains text response
type TextResponsePayload struct {
	Text string `json:"text"`
}

// ChatPayload is one entry of the text chat log
type ChatPayload struct {
	Role  string `json:"role"`
	Text  string `json:"text"`
	Error bool   `json:"error,omitempty"`
}

// StatePayload reports a tutor transition. Code and Reason are set in the
// error state, with the recoveries the client may offer.
type StatePayload struct {
	From       string   `json:"from,omitempty"`
	State      string   `json:"state"`
	Code       string   `json:"code,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Recoveries []string `json:"recoveries,omitempty"`
	Muted      bool     `json:"muted"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"` // "connected", "turn_complete", "pong"
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAudioMessage creates an audio response message
func NewAudioMessage(sessionID, data string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeAudio,
		SessionID: sessionID,
		Payload: AudioResponsePayload{
			Data:     data,
			MimeType: audio.OutputMIMEType,
		},
	}
}

// NewTextMessage creates a text response message
func NewTextMessage(sessionID, text string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeText,
		SessionID: sessionID,
		Payload: TextResponsePayload{
			Text: text,
		},
	}
}

// NewChatMessage creates a chat log message
func NewChatMessage(sessionID string, msg ChatPayload) *ServerMessage {
	return &ServerMessage{
		Type:      TypeChat,
		SessionID: sessionID,
		Payload:   msg,
	}
}

// NewStateMessage creates a state message
func NewStateMessage(sessionID string, state StatePayload) *ServerMessage {
	return &ServerMessage{
		Type:      TypeState,
		SessionID: sessionID,
		Payload:   state,
	}
}

// NewInterruptMessage tells the client to drop queued playback
func NewInterruptMessage(sessionID string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeInterrupt,
		SessionID: sessionID,
	}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// NewFailureMessage creates an error message coded by the failure kind
func NewFailureMessage(sessionID string, err error) *ServerMessage {
	return NewErrorMessage(sessionID, failure.Code(failure.KindOf(err)), err.Error())
}
