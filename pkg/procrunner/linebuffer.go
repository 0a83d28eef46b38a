package procrunner

import "sync"

// LineBuffer is a bounded, concurrency-safe line store with a drain cursor.
// Appends past the cap evict the oldest retained lines; Dropped reports how
// many were lost.
type LineBuffer struct {
	mu      sync.Mutex
	lines   []string
	cursor  int // index of the first undrained line
	dropped int
	max     int
}

// NewLineBuffer returns a buffer retaining at most max lines.
func NewLineBuffer(max int) *LineBuffer {
	if max <= 0 {
		max = 1
	}
	return &LineBuffer{max: max}
}

// Append adds a line, evicting the oldest line when full.
func (b *LineBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) >= b.max {
		b.lines = b.lines[1:]
		b.dropped++
		if b.cursor > 0 {
			b.cursor--
		}
	}
	b.lines = append(b.lines, line)
}

// Drain returns the lines appended since the previous Drain and advances
// the cursor. Returns nil when nothing new arrived.
func (b *LineBuffer) Drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cursor >= len(b.lines) {
		return nil
	}
	out := make([]string, len(b.lines)-b.cursor)
	copy(out, b.lines[b.cursor:])
	b.cursor = len(b.lines)
	return out
}

// Tail returns up to n of the most recent lines without moving the cursor.
func (b *LineBuffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || len(b.lines) == 0 {
		return nil
	}
	start := len(b.lines) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, len(b.lines)-start)
	copy(out, b.lines[start:])
	return out
}

// Len returns the number of retained lines.
func (b *LineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Dropped returns how many lines were evicted due to the cap.
func (b *LineBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
