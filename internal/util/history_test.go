package util

import (
	"path/filepath"
	"testing"
)

func TestPromptHistoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	t.Setenv("TIMBAL_HISTORY_FILE", path)

	AppendPromptHistory("first question")
	AppendPromptHistory("second\nquestion")
	AppendPromptHistory("   ")

	lines := LoadPromptHistory(10)
	if len(lines) != 2 {
		t.Fatalf("expected 2 history lines, got %d", len(lines))
	}
	if lines[0] != "first question" {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
	if lines[1] != "second question" {
		t.Fatalf("expected flattened prompt, got %q", lines[1])
	}

	if got := LoadPromptHistory(1); len(got) != 1 || got[0] != "second question" {
		t.Fatalf("expected most recent prompt only, got %v", got)
	}
}

func TestLoadPromptHistoryMissingFile(t *testing.T) {
	t.Setenv("TIMBAL_HISTORY_FILE", filepath.Join(t.TempDir(), "nope"))
	if got := LoadPromptHistory(5); got != nil {
		t.Fatalf("expected nil for missing file, got %v", got)
	}
}
