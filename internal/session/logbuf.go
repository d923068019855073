package session

import "sync"

// LogBuffer is a session's append-only diagnostic log. Reads never clear
// it; append order is preserved.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
}

// NewLogBuffer creates an empty buffer.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{}
}

// Append adds one line to the end of the buffer. Safe from any goroutine.
func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

// Snapshot returns the buffered lines in append order. The returned slice
// is a copy; the buffer itself is untouched.
func (b *LogBuffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}
