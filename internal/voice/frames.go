package voice

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
)

type FrameKind int

const (
	// FrameNone is structured upstream chatter carrying neither audio nor an
	// error; it is acknowledged and dropped.
	FrameNone FrameKind = iota
	FrameAudio
	FrameError
)

// Frame is the decoded form of one inbound transport message.
type Frame struct {
	Kind   FrameKind
	Audio  []byte
	Final  bool
	Code   string
	Detail string
}

// DecodeFrame classifies one inbound message from the synthesis stream.
//
// The upstream speaks two framings for the same logical stream: JSON
// envelopes carrying base64 audio or an error payload, and raw binary audio
// with no envelope at all. Both paths are live in production traffic, so both
// are handled here; do not fold one into the other without confirming against
// current vendor docs.
func DecodeFrame(data []byte) Frame {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{Kind: FrameAudio, Audio: data}
	}

	if detail := asString(raw["error"]); detail != "" {
		code := asString(raw["code"])
		if code == "" {
			code = "upstream_error"
		}
		return Frame{Kind: FrameError, Code: code, Detail: detail}
	}

	if audio := asString(raw["audio"]); audio != "" {
		decoded, err := base64.StdEncoding.DecodeString(audio)
		if err != nil {
			return Frame{Kind: FrameError, Code: "bad_audio_payload", Detail: err.Error()}
		}
		return Frame{
			Kind:  FrameAudio,
			Audio: decoded,
			Final: asBool(raw["isFinalAudio"]) || asBool(raw["is_final_audio"]),
		}
	}

	return Frame{Kind: FrameNone}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
