package util

import "strings"

// TruncateBytes trims a string to maxBytes if needed.
func TruncateBytes(input string, maxBytes int) (string, bool) {
	if maxBytes <= 0 || len(input) <= maxBytes {
		return input, false
	}
	return input[:maxBytes], true
}

// Preview returns a short preview of text by limiting lines and
// total bytes.
func Preview(text string, maxLines int, maxBytes int) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	out := strings.Join(lines, "\n")
	out, _ = TruncateBytes(out, maxBytes)
	return out
}
