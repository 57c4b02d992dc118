package sidecar

import (
	"strings"
	"sync"
)

const (
	errorBufferSize  = 50
	diagnosticsLines = 10
)

// RingBuffer keeps the most recent lines written to it, overwriting the oldest first.
// It is safe for concurrent use.
type RingBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{lines: make([]string, size)}
}

func (b *RingBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.lines)
	}
	return b.next
}

// Last returns up to n of the most recent lines, oldest first.
func (b *RingBuffer) Last(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.next
	if b.full {
		size = len(b.lines)
	}
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	start := b.next - n
	for i := 0; i < n; i++ {
		idx := (start + i + len(b.lines)) % len(b.lines)
		out = append(out, b.lines[idx])
	}
	return out
}

func (b *RingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.lines {
		b.lines[i] = ""
	}
	b.next = 0
	b.full = false
}

// Diagnostics joins the last lines used for user-visible failure text.
func (b *RingBuffer) Diagnostics() string {
	return strings.Join(b.Last(diagnosticsLines), "\n")
}
