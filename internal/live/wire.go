package live

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// Upstream request frames.

type setupFrame struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model             string           `json:"model"`
	GenerationConfig  generationConfig `json:"generation_config"`
	SystemInstruction *wireContent     `json:"system_instruction,omitempty"`
	Tools             []wireTool       `json:"tools,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"response_modalities"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireTool struct {
	FunctionDeclarations []FunctionDeclaration `json:"function_declarations"`
}

// FunctionDeclaration is the tool schema advertised in the setup frame.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputFrame struct {
	RealtimeInput realtimeInput `json:"realtime_input"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"media_chunks,omitempty"`
	Text        string       `json:"text,omitempty"`
}

type mediaChunk struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type clientContentFrame struct {
	ClientContent clientContent `json:"client_content"`
}

type clientContent struct {
	Turns        []wireContent `json:"turns"`
	TurnComplete bool          `json:"turn_complete"`
}

type toolResponseFrame struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	ToolUseID string         `json:"toolUseId"`
	Response  map[string]any `json:"response"`
}

// Upstream response frames. Both camelCase and snake_case spellings appear
// across API revisions; the first non-empty one wins.

type serverFrame struct {
	SetupComplete      any            `json:"setupComplete"`
	SetupCompleteSnake any            `json:"setup_complete"`
	ToolCall           *wireToolCall  `json:"toolCall"`
	ToolCallSnake      *wireToolCall  `json:"tool_call"`
	ServerContent      *serverContent `json:"serverContent"`
	ServerContentSnake *serverContent `json:"server_content"`
}

type wireToolCall struct {
	ID            string             `json:"id"`
	FunctionCalls []wireFunctionCall `json:"functionCalls"`
}

type wireFunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type serverContent struct {
	ModelTurn    *wireContent `json:"modelTurn"`
	TurnComplete bool         `json:"turnComplete"`
}

type wirePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// EventKind tags a decoded upstream event.
type EventKind string

const (
	EventSetupComplete EventKind = "setup_complete"
	EventToolCall      EventKind = "tool_call"
	EventAudioChunk    EventKind = "audio_chunk"
	EventTextChunk     EventKind = "text_chunk"
	EventTurnComplete  EventKind = "turn_complete"
	EventUnknown       EventKind = "unknown"
)

// FunctionCall is one invocation inside a tool-call frame.
type FunctionCall struct {
	Name string
	Args map[string]any
}

// Event is one variant of the decoded upstream stream. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind      EventKind
	ToolUseID string
	Calls     []FunctionCall
	MimeType  string
	Data      string
	Text      string
}

// Decode parses one upstream frame into events in the order they must be
// handled: setup ack, tool calls, content parts, turn complete. A frame that
// carries none of these yields a single EventUnknown.
func Decode(frame []byte) ([]Event, error) {
	var f serverFrame
	if err := sonic.Unmarshal(frame, &f); err != nil {
		return nil, fmt.Errorf("decode upstream frame: %w", err)
	}

	var events []Event
	if setupAcknowledged(f.SetupComplete) || setupAcknowledged(f.SetupCompleteSnake) {
		events = append(events, Event{Kind: EventSetupComplete})
	}

	call := f.ToolCall
	if call == nil {
		call = f.ToolCallSnake
	}
	if call != nil && len(call.FunctionCalls) > 0 {
		ev := Event{Kind: EventToolCall, ToolUseID: call.ID}
		for _, fc := range call.FunctionCalls {
			if ev.ToolUseID == "" {
				ev.ToolUseID = fc.ID
			}
			ev.Calls = append(ev.Calls, FunctionCall{Name: fc.Name, Args: fc.Args})
		}
		events = append(events, ev)
	}

	content := f.ServerContent
	if content == nil {
		content = f.ServerContentSnake
	}
	if content != nil {
		if content.ModelTurn != nil {
			for _, p := range content.ModelTurn.Parts {
				if p.InlineData != nil && strings.HasPrefix(strings.ToLower(p.InlineData.MimeType), "audio/") && p.InlineData.Data != "" {
					events = append(events, Event{Kind: EventAudioChunk, MimeType: p.InlineData.MimeType, Data: p.InlineData.Data})
				}
				if p.Text != "" {
					events = append(events, Event{Kind: EventTextChunk, Text: p.Text})
				}
			}
		}
		if content.TurnComplete {
			events = append(events, Event{Kind: EventTurnComplete})
		}
	}

	if len(events) == 0 {
		events = append(events, Event{Kind: EventUnknown})
	}
	return events, nil
}

// setupComplete arrives as `true` or as an empty object.
func setupAcknowledged(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}

func encodeFrame(v any) ([]byte, error) {
	return sonic.Marshal(v)
}
