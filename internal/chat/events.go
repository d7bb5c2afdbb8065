package chat

import "encoding/json"

// Event types streamed to the client during a chat turn.
const (
	EventTextDelta      = "text-delta"
	EventReasoningDelta = "reasoning-delta"
	EventToolCall       = "tool-call"
	EventToolResult     = "tool-result"
	EventSource         = "source"
	EventError          = "error"
	EventFinish         = "finish"
)

// Event is one element of the streamed chat response. Type selects which
// fields are populated, mirroring the part types used for persistence.
type Event struct {
	Type         string          `json:"type"`
	Delta        string          `json:"delta,omitempty"`
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       any             `json:"output,omitempty"`
	URL          string          `json:"url,omitempty"`
	Title        string          `json:"title,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Sink receives events in stream order. A non-nil return means the client
// can no longer be written to; the turn stops emitting.
type Sink func(Event) error
