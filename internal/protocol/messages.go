package protocol

// MessageType identifies the events published for a care session.
type MessageType string

const (
	TypeAudioChunk     MessageType = "audio_chunk"
	TypeAssistantReply MessageType = "assistant_reply"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

// System event codes surfaced to session listeners.
const (
	CodeVoiceUnavailable = "voice_unavailable"
	CodeEscalated        = "escalated"
	CodeSessionEnded     = "session_ended"
	CodeSessionTimeout   = "session_timeout"
)

// AudioChunk carries one decoded upstream audio frame. Chunks for a session
// are published in the order they arrive from the synthesis stream.
type AudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	AudioBase64 string      `json:"audio_base64"`
	Final       bool        `json:"final"`
}

// AssistantReply is the text reply for one conversational turn. It is always
// published, whether or not voice delivery succeeded.
type AssistantReply struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"session_id"`
	Text           string      `json:"text"`
	VoiceDelivered bool        `json:"voice_delivered"`
	TSMs           int64       `json:"ts_ms"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}
