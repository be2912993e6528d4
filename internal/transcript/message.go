package transcript

import "strings"

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind tags a content part.
type PartKind string

const (
	PartText     PartKind = "text"
	PartToolCall PartKind = "tool-call"
)

// Part is one content part of a message: accumulating text, or a
// tool call correlated by id across its start, argument fragments,
// and eventual result.
type Part struct {
	Kind       PartKind `json:"kind"`
	Text       string   `json:"text,omitempty"`
	ToolCallID string   `json:"tool_call_id,omitempty"`
	ToolName   string   `json:"tool_name,omitempty"`
	ToolInput  string   `json:"tool_input,omitempty"`
	ToolResult string   `json:"tool_result,omitempty"`
	Done       bool     `json:"done,omitempty"`
}

// Message is one conversational turn. RunID is populated once the
// turn's top-level run start is observed and drives parent-context
// chaining on the next turn.
type Message struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
	RunID string `json:"run_id,omitempty"`
}

// Text returns the concatenated text content of the message.
func (m *Message) Text() string {
	var b strings.Builder
	for _, part := range m.Parts {
		if part.Kind == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
