package util

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// historyFile returns the prompt history path, creating parent
// directories as needed when create is set.
func historyFile(create bool) string {
	if path := os.Getenv("TIMBAL_HISTORY_FILE"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".local", "share", "timbal-cli")
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ""
		}
	}
	return filepath.Join(dir, "history")
}

// LoadPromptHistory returns the last N submitted prompts, most recent
// last.
func LoadPromptHistory(maxLines int) []string {
	if maxLines <= 0 {
		return nil
	}
	path := historyFile(false)
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lines := make([]string, 0, maxLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) > maxLines {
			lines = lines[len(lines)-maxLines:]
		}
	}
	return lines
}

// AppendPromptHistory records a submitted prompt. Multi-line prompts
// are flattened so the history stays one prompt per line.
func AppendPromptHistory(prompt string) {
	prompt = strings.TrimSpace(strings.ReplaceAll(prompt, "\n", " "))
	if prompt == "" {
		return
	}
	path := historyFile(true)
	if path == "" {
		return
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(prompt + "\n")
}
