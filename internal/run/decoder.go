package run

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"
)

const maxLineBytes = 1 << 20

// sseMetaPrefixes are framing lines that never carry an event.
var sseMetaPrefixes = []string{":", "id:", "event:", "retry:"}

// Decoder turns a raw chunked byte stream into validated run events.
// It is a single-pass consumer: once a stream starts it cannot be
// rewound. Lines may arrive split across arbitrary read boundaries;
// the line scanner reassembles them and flushes a trailing line that
// lacks a final newline.
type Decoder struct {
	scanner *bufio.Scanner
	logger  *zap.Logger
}

// NewDecoder wraps r. A nil logger disables drop diagnostics.
func NewDecoder(r io.Reader, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Decoder{scanner: scanner, logger: logger}
}

// Next returns the next event in arrival order, io.EOF at clean end
// of stream, or the underlying read error. Malformed lines are
// dropped, never terminating the stream.
func (d *Decoder) Next() (*Event, error) {
	for d.scanner.Scan() {
		if ev, ok := d.parseLine(d.scanner.Text()); ok {
			return ev, nil
		}
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (d *Decoder) parseLine(line string) (*Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}
	for _, prefix := range sseMetaPrefixes {
		if strings.HasPrefix(line, prefix) {
			return nil, false
		}
	}
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		line = strings.TrimSpace(rest)
	}
	if line == "" || line == "[DONE]" {
		return nil, false
	}
	if !strings.HasPrefix(line, "{") {
		// non-JSON noise
		return nil, false
	}

	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		d.logger.Debug("dropping malformed stream line", zap.Error(err))
		return nil, false
	}
	if err := ev.Validate(); err != nil {
		d.logger.Debug("dropping invalid event", zap.Error(err))
		return nil, false
	}
	return &ev, true
}
