package run

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType tags a run event record.
type EventType string

const (
	EventStart  EventType = "START"
	EventDelta  EventType = "DELTA"
	EventChunk  EventType = "CHUNK" // legacy untyped fragment, still accepted
	EventOutput EventType = "OUTPUT"
)

// Delta item kinds.
const (
	ItemTextDelta     = "text_delta"
	ItemToolUse       = "tool_use"
	ItemToolUseDelta  = "tool_use_delta"
	ItemThinking      = "thinking"
	ItemThinkingDelta = "thinking_delta"
	ItemCustom        = "custom"
	ItemBlockStop     = "content_block_stop"
)

// DeltaItem is the typed payload of a DELTA event.
type DeltaItem struct {
	Type          string          `json:"type"`
	TextDelta     string          `json:"text_delta,omitempty"`
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name,omitempty"`
	Input         json.RawMessage `json:"input,omitempty"`
	InputDelta    string          `json:"input_delta,omitempty"`
	Thinking      string          `json:"thinking,omitempty"`
	ThinkingDelta string          `json:"thinking_delta,omitempty"`
}

// InputString returns the serialized tool input of a tool_use item.
// The wire value is either a JSON string holding partial JSON, or a
// structured object.
func (d *DeltaItem) InputString() string {
	return RawString(d.Input)
}

// Status is the terminal status of an OUTPUT event.
type Status struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// OutputBlock is one structured content block of an OUTPUT payload.
type OutputBlock struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Text    string          `json:"text,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Event is one record of a run stream. Every event belongs to exactly
// one run; the path locates the emitting step inside it, dot-separated.
type Event struct {
	Type         EventType       `json:"type"`
	RunID        string          `json:"run_id"`
	ParentRunID  string          `json:"parent_run_id,omitempty"`
	Path         string          `json:"path"`
	CallID       string          `json:"call_id"`
	ParentCallID string          `json:"parent_call_id,omitempty"`
	StatusText   string          `json:"status_text,omitempty"`
	Item         *DeltaItem      `json:"item,omitempty"`
	Chunk        json.RawMessage `json:"chunk,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Status       *Status         `json:"status,omitempty"`
	T0           int64           `json:"t0,omitempty"`
	T1           int64           `json:"t1,omitempty"`
	Usage        map[string]int  `json:"usage,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Validate checks the fields every event must carry.
func (e *Event) Validate() error {
	switch e.Type {
	case EventStart, EventDelta, EventChunk, EventOutput:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.RunID == "" {
		return fmt.Errorf("%s event missing run_id", e.Type)
	}
	if e.Path == "" {
		return fmt.Errorf("%s event missing path", e.Type)
	}
	if e.CallID == "" {
		return fmt.Errorf("%s event missing call_id", e.Type)
	}
	return nil
}

// IsTopLevel reports whether the event came from the run's root step.
func (e *Event) IsTopLevel() bool {
	return !strings.Contains(e.Path, ".")
}

// IsTopLevelStart reports whether this is the START of the turn's
// top-level run.
func (e *Event) IsTopLevelStart() bool {
	return e.Type == EventStart && e.IsTopLevel()
}

// OutputBlocks returns the structured content blocks of an OUTPUT
// payload, or nil when the payload has no content array.
func (e *Event) OutputBlocks() []OutputBlock {
	if len(e.Output) == 0 {
		return nil
	}
	var wrapper struct {
		Content []OutputBlock `json:"content"`
	}
	if err := json.Unmarshal(e.Output, &wrapper); err != nil {
		return nil
	}
	return wrapper.Content
}

// OutputText returns the raw OUTPUT payload as display text.
func (e *Event) OutputText() string {
	return RawString(e.Output)
}

// RawString renders a raw JSON value as text: JSON strings unwrap to
// their value, everything else stays serialized.
func RawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
