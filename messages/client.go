package messages

import "encoding/json"

// Client message types
const (
	TypeClientAudio   = "audio"
	TypeClientText    = "text"
	TypeClientControl = "control"
	TypeClientLesson  = "lesson"
)

// Control actions
const (
	ActionPing         = "ping"
	ActionStartVoice   = "start_voice"
	ActionStartText    = "start_text"
	ActionFallbackText = "fallback_text"
	ActionMute         = "mute"
	ActionUnmute       = "unmute"
	ActionReset        = "reset"
	ActionClose        = "close"
)

// ClientMessage represents a message from frontend client
type ClientMessage struct {
	Type    string          `json:"type"` // "audio", "text", "control", "lesson"
	Payload json.RawMessage `json:"payload"`
}

// AudioPayload contains audio data from client
type AudioPayload struct {
	Data string `json:"data"` // Base64-encoded PCM audio, 16kHz mono
}

// TextPayload is a chat turn typed by the student
type TextPayload struct {
	Text string `json:"text"`
}

// LessonPayload sets what the tutor teaches. Only accepted before a session starts.
type LessonPayload struct {
	Topic    string `json:"topic"`
	Context  string `json:"context,omitempty"`
	Language string `json:"language,omitempty"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"`
}
