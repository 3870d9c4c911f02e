// Package logtail retains the most recent output of a supervised process and
// answers substring queries against it. Readiness and failure detection both
// work off this window, so it is deliberately small and bounded.
package logtail

import (
	"regexp"
	"strings"
	"sync"
)

// DefaultCapacity is the number of lines a Window retains.
const DefaultCapacity = 100

// enginePrefix matches the timestamp/level/source prefix the engine puts on
// every log line, e.g. "10:22:33.456 INFO (GraphBuilder.java:123) message".
var enginePrefix = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}\.\d+\s+[A-Z]+\s+\([^)]*\)\s*`)

// Window is a fixed-capacity FIFO of raw log lines. Oldest lines are evicted
// on overflow. Safe for concurrent use.
type Window struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	partial  string
}

// NewWindow creates a Window with the given capacity, or DefaultCapacity
// when capacity is not positive.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{capacity: capacity}
}

// Observe splits a chunk of process output on newlines and appends the
// complete lines. A trailing fragment without a newline is carried over and
// completed by the next chunk.
func (w *Window) Observe(chunk string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	parts := strings.Split(w.partial+chunk, "\n")
	w.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		if line == "" {
			continue
		}
		w.append(line)
	}
}

// ObserveLine appends a single already-split line.
func (w *Window) ObserveLine(line string) {
	if line == "" {
		return
	}
	w.mu.Lock()
	w.append(line)
	w.mu.Unlock()
}

func (w *Window) append(line string) {
	w.lines = append(w.lines, line)
	if len(w.lines) > w.capacity {
		w.lines = w.lines[len(w.lines)-w.capacity:]
	}
}

// Replace swaps the retained window for the given lines, keeping only the
// most recent capacity entries. Used when re-reading a log file from disk.
func (w *Window) Replace(lines []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(lines) > w.capacity {
		lines = lines[len(lines)-w.capacity:]
	}
	w.lines = append(w.lines[:0], lines...)
}

// Len returns the number of retained lines.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.lines)
}

// Lines returns a copy of the retained window, oldest first.
func (w *Window) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.lines))
	copy(out, w.lines)
	return out
}

// LatestTrimmed returns the most recent line with the engine's
// timestamp/source prefix stripped, truncated to maxLen. It returns "" until
// the window holds at least two lines.
//
// The two-line threshold is historical: the original status reporter indexed
// one behind a trailing-newline split and downstream consumers grew to expect
// an empty message early in a phase. Kept as-is for compatibility.
func (w *Window) LatestTrimmed(maxLen int) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.lines) < 2 {
		return ""
	}
	line := enginePrefix.ReplaceAllString(w.lines[len(w.lines)-1], "")
	if maxLen > 0 && len(line) > maxLen {
		line = line[:maxLen]
	}
	return line
}

// ContainsAny reports whether any retained line contains any of the given
// substrings.
func (w *Window) ContainsAny(patterns ...string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, line := range w.lines {
		for _, p := range patterns {
			if strings.Contains(line, p) {
				return true
			}
		}
	}
	return false
}

// ContainsAll reports whether every given substring appears somewhere in the
// retained window. The substrings may be on different lines.
func (w *Window) ContainsAll(patterns ...string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range patterns {
		found := false
		for _, line := range w.lines {
			if strings.Contains(line, p) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
