// Package protocol defines the wire frames exchanged with the realtime
// tutor transport. Inbound frames are a tagged union with explicit optional
// fields rather than an open-ended dictionary: a frame may carry any
// combination of an input-transcript fragment, an output-transcript
// fragment, a turn-complete flag, and an inline audio payload.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// InputSampleRateHz is the fixed outbound (microphone) rate.
	InputSampleRateHz = 16000
	// OutputSampleRateHz is the fixed inbound (synthesized speech) rate.
	OutputSampleRateHz = 24000
	// Channels is the fixed channel count in both directions.
	Channels = 1

	// InputMIMEType tags outbound audio frames with codec and rate.
	InputMIMEType = "audio/pcm;rate=16000"
)

// DecodeError describes a frame that could not be decoded.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func badFrame(format string, args ...any) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: fmt.Sprintf(format, args...)}
}

// ClientSetup opens a tutoring session scoped to one topic.
type ClientSetup struct {
	Type      string   `json:"type"`
	Topic     string   `json:"topic"`
	KeyPoints []string `json:"key_points,omitempty"`
}

// NewClientSetup builds a setup frame for the given topic.
func NewClientSetup(topic string, keyPoints []string) ClientSetup {
	return ClientSetup{Type: "setup", Topic: topic, KeyPoints: keyPoints}
}

// ClientAudioFrame carries one encoded microphone frame.
type ClientAudioFrame struct {
	Type     string `json:"type"`
	MIMEType string `json:"mime_type"`
	DataB64  string `json:"data"`
}

// ServerError is the error payload of an inbound error frame.
type ServerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ServerMessage is one inbound frame. All content fields are optional and
// may be combined within a single frame; fragment pointers distinguish an
// absent fragment from an empty one.
type ServerMessage struct {
	Type string `json:"type"`

	// InputText is a fragment of the user speech transcription.
	InputText *string `json:"input_transcription,omitempty"`
	// OutputText is a fragment of the model speech transcription.
	OutputText *string `json:"output_transcription,omitempty"`
	// TurnComplete marks the end of the current speaker turn.
	TurnComplete bool `json:"turn_complete,omitempty"`
	// AudioB64 is inline synthesized speech: base64 PCM16LE at
	// OutputSampleRateHz, mono.
	AudioB64 string `json:"audio,omitempty"`

	Error *ServerError `json:"error,omitempty"`
}

// HasContent reports whether the frame carries anything the session core
// needs to act on.
func (m ServerMessage) HasContent() bool {
	return m.InputText != nil || m.OutputText != nil || m.TurnComplete ||
		m.AudioB64 != "" || m.Error != nil
}

// DecodeServerMessage parses an inbound text frame.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, badFrame("decode server frame: %v", err)
	}
	if strings.TrimSpace(msg.Type) == "" && !msg.HasContent() {
		return ServerMessage{}, badFrame("server frame has no recognizable shape")
	}
	return msg, nil
}
