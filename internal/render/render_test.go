package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"timbal-cli/internal/run"
)

func delta(text string) *run.Event {
	return &run.Event{
		Type: run.EventDelta, RunID: "r1", Path: "app", CallID: "c1",
		Item: &run.DeltaItem{Type: run.ItemTextDelta, TextDelta: text},
	}
}

func TestRendererStreamsText(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutRenderer(&buf, false, false)
	r.Emit(delta("Hel"))
	r.Emit(delta("lo"))
	_ = r.Close()

	if got := buf.String(); got != "timbal: Hello\n" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestRendererAnnouncesToolCalls(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutRenderer(&buf, false, false)
	r.Emit(&run.Event{
		Type: run.EventDelta, RunID: "r1", Path: "app", CallID: "c1",
		Item: &run.DeltaItem{Type: run.ItemToolUse, ID: "t1", Name: "search"},
	})
	_ = r.Close()

	if !strings.Contains(buf.String(), "[tool search]") {
		t.Fatalf("missing tool line: %q", buf.String())
	}
}

func TestRendererQuietHidesTools(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutRenderer(&buf, false, true)
	r.Emit(&run.Event{
		Type: run.EventDelta, RunID: "r1", Path: "app", CallID: "c1",
		Item: &run.DeltaItem{Type: run.ItemToolUse, ID: "t1", Name: "search"},
	})
	r.Emit(delta("answer"))
	_ = r.Close()

	out := buf.String()
	if strings.Contains(out, "[tool") {
		t.Fatalf("quiet mode must hide tool lines: %q", out)
	}
	if !strings.Contains(out, "answer") {
		t.Fatalf("quiet mode must keep text: %q", out)
	}
}

func TestRendererOutputFallbackWhenNothingStreamed(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutRenderer(&buf, false, false)
	r.Emit(&run.Event{
		Type: run.EventOutput, RunID: "r1", Path: "app", CallID: "c1",
		Output: json.RawMessage(`{"content":[{"type":"text","text":"complete answer"}]}`),
	})
	_ = r.Close()

	if !strings.Contains(buf.String(), "complete answer") {
		t.Fatalf("missing fallback text: %q", buf.String())
	}
}

func TestRendererSkipsFinalTextAfterStreaming(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutRenderer(&buf, false, false)
	r.Emit(delta("streamed"))
	r.Emit(&run.Event{
		Type: run.EventOutput, RunID: "r1", Path: "app", CallID: "c1",
		Output: json.RawMessage(`{"content":[{"type":"text","text":"streamed"}]}`),
	})
	_ = r.Close()

	if got := buf.String(); got != "timbal: streamed\n" {
		t.Fatalf("final text must not print twice: %q", got)
	}
}

func TestRendererRedactsToolInput(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutRenderer(&buf, false, false)
	r.Emit(&run.Event{
		Type: run.EventOutput, RunID: "r1", Path: "app.step", CallID: "c2",
		Output: json.RawMessage(`{"content":[{"type":"tool_use","id":"t1","name":"http","input":{"token":"tb-abcdefghij0123456789"}}]}`),
	})
	_ = r.Close()

	out := buf.String()
	if strings.Contains(out, "tb-abcdefghij0123456789") {
		t.Fatalf("secret leaked into output: %q", out)
	}
}
