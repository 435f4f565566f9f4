package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientMediaChunk   MessageType = "client_media_chunk"
	TypeClientControl      MessageType = "client_control"
	TypeClientUserTurn     MessageType = "client_user_turn"
	TypeStatus             MessageType = "status"
	TypeInspectionStep     MessageType = "inspection_step"
	TypeInspectionComplete MessageType = "inspection_complete"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeAssistantAudio     MessageType = "assistant_audio_chunk"
	TypeSpeaking           MessageType = "speaking"
	TypeAudioLevel         MessageType = "audio_level"
	TypeTranscription      MessageType = "transcription"
	TypeMediaCaptured      MessageType = "media_captured"
	TypeFinalize           MessageType = "finalize"
	TypeErrorEvent         MessageType = "error_event"
)

// Control actions accepted in client_control.
const (
	ActionNext      = "next"
	ActionRepeat    = "repeat"
	ActionSkip      = "skip"
	ActionPace      = "pace"
	ActionStop      = "stop"
	ActionReconnect = "reconnect"
)

var ErrUnsupportedType = errors.New("unsupported message type")

var validActions = map[string]bool{
	ActionNext:      true,
	ActionRepeat:    true,
	ActionSkip:      true,
	ActionPace:      true,
	ActionStop:      true,
	ActionReconnect: true,
}

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientMediaChunk carries one camera frame or microphone chunk. Data is
// base64 or a data URL.
type ClientMediaChunk struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Seq        int         `json:"seq"`
	MimeType   string      `json:"mime_type"`
	Data       string      `json:"data"`
	SampleRate int         `json:"sample_rate,omitempty"`
	TSMs       int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	// Mode is the pace mode for the pace action.
	Mode string `json:"mode,omitempty"`
	TSMs int64  `json:"ts_ms,omitempty"`
}

// ClientUserTurn is typed inspector input answered by the checkpoint engine.
type ClientUserTurn struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type Status struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Status    string      `json:"status"`
}

type InspectionStep struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Question  string      `json:"question"`
	Section   string      `json:"section"`
	Part      string      `json:"part"`
	Index     int         `json:"index"`
	Total     int         `json:"total"`
}

type InspectionComplete struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Total     int         `json:"total"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type Speaking struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Speaking  bool        `json:"speaking"`
}

type AudioLevel struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Level     float64     `json:"level"`
}

type Transcription struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
	Kind      string      `json:"kind"`
}

type MediaCaptured struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Label     string      `json:"label"`
	URL       string      `json:"url"`
	Position  int         `json:"position"`
	Total     int         `json:"total"`
}

// Finalize tells the page to stop recording, upload the video and leave.
type Finalize struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	VehicleID  string      `json:"vehicle_id"`
	Reason     string      `json:"reason"`
	RedirectTo string      `json:"redirect_to"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// Encode serializes an outbound or client message for a websocket text frame.
func Encode(msg any) ([]byte, error) {
	return sonic.Marshal(msg)
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientMediaChunk:
		var msg ClientMediaChunk
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.MimeType == "" || msg.Data == "" {
			return nil, errors.New("invalid client_media_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || !validActions[msg.Action] {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	case TypeClientUserTurn:
		var msg ClientUserTurn
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_user_turn")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
