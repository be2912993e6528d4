package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"timbal-cli/internal/run"
	"timbal-cli/internal/util"
)

// Renderer consumes decoded run events for display.
type Renderer interface {
	Emit(ev *run.Event)
	Close() error
}

// StdoutRenderer prints a turn's content as it streams: text deltas
// verbatim, tool calls as single annotated lines, thinking only under
// verbose. Safe for concurrent Emit calls.
type StdoutRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	quiet   bool

	printedHeader bool
	sawDelta      bool
	newlineEnding bool
}

// NewStdoutRenderer builds a renderer writing to out.
func NewStdoutRenderer(out io.Writer, verbose, quiet bool) *StdoutRenderer {
	return &StdoutRenderer{out: out, verbose: verbose, quiet: quiet, newlineEnding: true}
}

// Emit prints one event.
func (r *StdoutRenderer) Emit(ev *run.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case run.EventStart:
		if r.verbose {
			r.line(fmt.Sprintf("[start %s]", ev.Path))
		}
	case run.EventDelta:
		r.emitDelta(ev.Item)
	case run.EventChunk:
		r.write(run.RawString(ev.Chunk))
	case run.EventOutput:
		r.emitOutput(ev)
	}
}

func (r *StdoutRenderer) emitDelta(item *run.DeltaItem) {
	if item == nil {
		return
	}
	switch item.Type {
	case run.ItemTextDelta:
		r.sawDelta = true
		r.header()
		r.write(item.TextDelta)
	case run.ItemToolUse:
		if !r.quiet {
			r.line(fmt.Sprintf("[tool %s]", item.Name))
		}
	case run.ItemThinking, run.ItemThinkingDelta:
		if r.verbose {
			r.write(item.Thinking + item.ThinkingDelta)
		}
	}
}

func (r *StdoutRenderer) emitOutput(ev *run.Event) {
	for _, block := range ev.OutputBlocks() {
		switch block.Type {
		case "tool_use":
			if r.quiet {
				continue
			}
			input := util.Preview(util.RedactSecrets(run.RawString(block.Input)), 1, 120)
			r.line(fmt.Sprintf("[tool %s %s]", block.Name, input))
		case "text":
			// streamed deltas already printed this text
			if !r.sawDelta && ev.IsTopLevel() {
				r.header()
				r.write(block.Text)
			}
		}
	}
	if len(ev.OutputBlocks()) == 0 && !r.sawDelta && ev.IsTopLevel() {
		if text := ev.OutputText(); text != "" {
			r.header()
			r.write(text)
		}
	}
	if r.verbose && ev.IsTopLevel() && ev.Status != nil {
		summary := "[run " + ev.Status.Code
		if ev.T1 > ev.T0 {
			summary += fmt.Sprintf(" in %dms", ev.T1-ev.T0)
		}
		for key, value := range ev.Usage {
			summary += fmt.Sprintf(" %s=%d", key, value)
		}
		r.line(summary + "]")
	}
}

// header prefixes the reply once per turn.
func (r *StdoutRenderer) header() {
	if r.printedHeader || r.quiet {
		return
	}
	r.printedHeader = true
	fmt.Fprint(r.out, "timbal: ")
	r.newlineEnding = false
}

// Close ends the turn: it terminates the current line so the next
// prompt starts clean and resets per-turn state for reuse.
func (r *StdoutRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.newlineEnding {
		fmt.Fprintln(r.out)
		r.newlineEnding = true
	}
	r.printedHeader = false
	r.sawDelta = false
	return nil
}

func (r *StdoutRenderer) write(text string) {
	if text == "" {
		return
	}
	fmt.Fprint(r.out, text)
	r.newlineEnding = strings.HasSuffix(text, "\n")
}

func (r *StdoutRenderer) line(text string) {
	if !r.newlineEnding {
		fmt.Fprintln(r.out)
	}
	fmt.Fprintln(r.out, text)
	r.newlineEnding = true
}
