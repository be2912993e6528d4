package run

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkReader yields the payload in fixed-size fragments to exercise
// reads that split lines at arbitrary boundaries.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func drain(t *testing.T, d *Decoder) []*Event {
	t.Helper()
	var events []*Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("unexpected decode error: %v", err)
		}
		events = append(events, ev)
	}
}

const sampleStream = `data: {"type":"START","run_id":"r1","path":"app","call_id":"c1"}
data: {"type":"DELTA","run_id":"r1","path":"app","call_id":"c1","item":{"type":"text_delta","text_delta":"Hel"}}
data: {"type":"DELTA","run_id":"r1","path":"app","call_id":"c1","item":{"type":"text_delta","text_delta":"lo"}}
data: {"type":"OUTPUT","run_id":"r1","path":"app","call_id":"c1","output":"Hello"}
data: [DONE]
`

func TestDecoderFragmentBoundaryInvariance(t *testing.T) {
	whole := NewDecoder(strings.NewReader(sampleStream), nil)
	want := drain(t, whole)
	if len(want) != 4 {
		t.Fatalf("expected 4 events, got %d", len(want))
	}

	for _, size := range []int{1, 2, 3, 7, 16, 64, 4096} {
		d := NewDecoder(&chunkReader{data: []byte(sampleStream), size: size}, nil)
		got := drain(t, d)
		if len(got) != len(want) {
			t.Fatalf("size %d: expected %d events, got %d", size, len(want), len(got))
		}
		for i := range got {
			if got[i].Type != want[i].Type || got[i].RunID != want[i].RunID {
				t.Fatalf("size %d: event %d differs: %+v vs %+v", size, i, got[i], want[i])
			}
		}
	}
}

func TestDecoderSkipsSSEMetaLines(t *testing.T) {
	stream := ": keepalive\n" +
		"id: 17\n" +
		"event: message\n" +
		"retry: 3000\n" +
		"\n" +
		`{"type":"START","run_id":"r1","path":"app","call_id":"c1"}` + "\n"
	events := drain(t, NewDecoder(strings.NewReader(stream), nil))
	if len(events) != 1 || events[0].Type != EventStart {
		t.Fatalf("expected only the start event, got %+v", events)
	}
}

func TestDecoderDropsMalformedLines(t *testing.T) {
	stream := `{"type":"START","run_id":"r1","path":"app","call_id":"c1"}` + "\n" +
		`{"type":"DELTA","run_id":"r1",` + "\n" + // truncated JSON
		`{"type":"NOISE","run_id":"r1","path":"app","call_id":"c1"}` + "\n" + // unknown type
		`{"type":"DELTA","path":"app","call_id":"c1"}` + "\n" + // missing run_id
		"some plain text\n" +
		`{"type":"OUTPUT","run_id":"r1","path":"app","call_id":"c1","output":"done"}` + "\n"
	events := drain(t, NewDecoder(strings.NewReader(stream), nil))
	if len(events) != 2 {
		t.Fatalf("expected 2 surviving events, got %d", len(events))
	}
	if events[0].Type != EventStart || events[1].Type != EventOutput {
		t.Fatalf("wrong events survived: %+v", events)
	}
}

func TestDecoderFlushesUnterminatedTrailingLine(t *testing.T) {
	stream := `{"type":"OUTPUT","run_id":"r1","path":"app","call_id":"c1","output":"tail"}`
	events := drain(t, NewDecoder(strings.NewReader(stream), nil))
	if len(events) != 1 || events[0].OutputText() != "tail" {
		t.Fatalf("trailing line without newline must be decoded, got %+v", events)
	}
}

func TestDecoderPropagatesReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader(`{"type":"START","run_id":"r1","path":"app","call_id":"c1"}`+"\n"),
		&failReader{err: boom},
	)
	d := NewDecoder(r, nil)
	if _, err := d.Next(); err != nil {
		t.Fatalf("first event should decode: %v", err)
	}
	if _, err := d.Next(); !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
}

type failReader struct{ err error }

func (r *failReader) Read([]byte) (int, error) { return 0, r.err }

func TestEventValidate(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		ok   bool
	}{
		{"valid", Event{Type: EventStart, RunID: "r", Path: "p", CallID: "c"}, true},
		{"unknown type", Event{Type: "PING", RunID: "r", Path: "p", CallID: "c"}, false},
		{"missing run_id", Event{Type: EventDelta, Path: "p", CallID: "c"}, false},
		{"missing path", Event{Type: EventDelta, RunID: "r", CallID: "c"}, false},
		{"missing call_id", Event{Type: EventDelta, RunID: "r", Path: "p"}, false},
	}
	for _, tc := range cases {
		err := tc.ev.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestIsTopLevel(t *testing.T) {
	top := Event{Type: EventStart, RunID: "r", Path: "app", CallID: "c"}
	nested := Event{Type: EventStart, RunID: "r", Path: "app.step", CallID: "c"}
	if !top.IsTopLevel() || !top.IsTopLevelStart() {
		t.Fatalf("dotless path is top level")
	}
	if nested.IsTopLevel() || nested.IsTopLevelStart() {
		t.Fatalf("dotted path is nested")
	}
}
