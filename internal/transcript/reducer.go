package transcript

import (
	"timbal-cli/internal/run"

	"go.uber.org/zap"
)

// Reducer projects a run's event sequence into the ordered content
// parts of a single in-flight assistant message. Events are applied
// strictly in arrival order; after every mutation an immutable parts
// snapshot is published before the next event is read.
//
// Tool-call parts are addressed through an id→index map so argument
// fragments interleaved with text deltas never trigger a scan.
type Reducer struct {
	parts   []Part
	toolIdx map[string]int
	publish func([]Part)
	onRunID func(string)
	logger  *zap.Logger
}

// NewReducer builds a Reducer. publish receives a snapshot after each
// mutation; onRunID fires once when the top-level run start is seen.
// Both may be nil.
func NewReducer(publish func([]Part), onRunID func(string), logger *zap.Logger) *Reducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reducer{
		toolIdx: make(map[string]int),
		publish: publish,
		onRunID: onRunID,
		logger:  logger,
	}
}

// Parts returns a copy of the accumulated content parts.
func (r *Reducer) Parts() []Part {
	return append([]Part(nil), r.parts...)
}

// Apply consumes one event.
func (r *Reducer) Apply(ev *run.Event) {
	switch ev.Type {
	case run.EventStart:
		if ev.IsTopLevelStart() && r.onRunID != nil {
			r.onRunID(ev.RunID)
		}
	case run.EventDelta:
		r.applyDelta(ev.Item)
	case run.EventChunk:
		r.appendText(run.RawString(ev.Chunk))
	case run.EventOutput:
		r.applyOutput(ev)
	}
}

// FailIfEmpty records a terminal failure notice when nothing streamed
// before the error. Partial content is left untouched.
func (r *Reducer) FailIfEmpty(notice string) {
	if len(r.parts) > 0 {
		return
	}
	r.parts = append(r.parts, Part{Kind: PartText, Text: notice})
	r.snapshot()
}

func (r *Reducer) applyDelta(item *run.DeltaItem) {
	if item == nil {
		return
	}
	switch item.Type {
	case run.ItemTextDelta:
		r.appendText(item.TextDelta)
	case run.ItemToolUse:
		r.parts = append(r.parts, Part{
			Kind:       PartToolCall,
			ToolCallID: item.ID,
			ToolName:   item.Name,
			ToolInput:  item.InputString(),
		})
		r.toolIdx[item.ID] = len(r.parts) - 1
		r.snapshot()
	case run.ItemToolUseDelta:
		idx, ok := r.toolIdx[item.ID]
		if !ok {
			r.logger.Debug("dropping tool_use_delta for unknown call", zap.String("id", item.ID))
			return
		}
		r.parts[idx].ToolInput += item.InputDelta
		r.snapshot()
	default:
		// thinking, custom and block boundaries do not change the transcript
	}
}

// appendText extends the open text part, or opens a new one when the
// last part is not text.
func (r *Reducer) appendText(text string) {
	if text == "" {
		return
	}
	if n := len(r.parts); n > 0 && r.parts[n-1].Kind == PartText {
		r.parts[n-1].Text += text
	} else {
		r.parts = append(r.parts, Part{Kind: PartText, Text: text})
	}
	r.snapshot()
}

func (r *Reducer) applyOutput(ev *run.Event) {
	blocks := ev.OutputBlocks()
	if len(blocks) == 0 {
		// fallback for backends that never streamed anything
		if len(r.parts) == 0 {
			if text := ev.OutputText(); text != "" {
				r.parts = append(r.parts, Part{Kind: PartText, Text: text})
				r.snapshot()
			}
		}
		return
	}

	for _, block := range blocks {
		switch block.Type {
		case "tool_use":
			if idx, ok := r.toolIdx[block.ID]; ok {
				r.resolveTool(idx, block)
			} else {
				r.parts = append(r.parts, Part{
					Kind:       PartToolCall,
					ToolCallID: block.ID,
					ToolName:   block.Name,
					ToolInput:  run.RawString(block.Input),
					ToolResult: run.RawString(block.Content),
					Done:       true,
				})
				r.toolIdx[block.ID] = len(r.parts) - 1
			}
		case "text":
			// final text only backfills a part nothing streamed into;
			// streamed text always wins
			if n := len(r.parts); n > 0 && r.parts[n-1].Kind == PartText && r.parts[n-1].Text == "" {
				r.parts[n-1].Text = block.Text
			} else if len(r.parts) == 0 {
				r.parts = append(r.parts, Part{Kind: PartText, Text: block.Text})
			}
		}
	}
	r.snapshot()
}

func (r *Reducer) resolveTool(idx int, block run.OutputBlock) {
	part := &r.parts[idx]
	part.Done = true
	if part.ToolName == "" {
		part.ToolName = block.Name
	}
	if len(block.Input) > 0 {
		part.ToolInput = run.RawString(block.Input)
	}
	if len(block.Content) > 0 {
		part.ToolResult = run.RawString(block.Content)
	}
}

func (r *Reducer) snapshot() {
	if r.publish == nil {
		return
	}
	r.publish(append([]Part(nil), r.parts...))
}
