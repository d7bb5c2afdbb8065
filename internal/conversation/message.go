package conversation

import "encoding/json"

// Roles a persisted message may carry. Tool activity is represented as
// parts on assistant messages, not as a separate role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Part is one content segment of a message. Type selects which fields are
// meaningful: "text" and "reasoning" use Text; "tool-call" uses ToolCallID,
// ToolName, and Input; "tool-result" uses ToolCallID and Output; "source"
// uses URL and Title.
type Part struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	URL        string          `json:"url,omitempty"`
	Title      string          `json:"title,omitempty"`
}

// Part types.
const (
	PartText       = "text"
	PartReasoning  = "reasoning"
	PartToolCall   = "tool-call"
	PartToolResult = "tool-result"
	PartSource     = "source"
)

// Message is a chat message as exchanged with clients and persisted per
// conversation. Ordering within a conversation is positional.
type Message struct {
	ID       string          `json:"id"`
	Role     string          `json:"role"`
	Parts    []Part          `json:"parts"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// FirstText returns the text of the first text part, or "" if none exists.
func (m Message) FirstText() string {
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			return p.Text
		}
	}
	return ""
}
