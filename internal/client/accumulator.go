package client

import (
	"strings"
	"sync"
)

// Accumulator collects streamed code fragments for one generation. It is
// safe for concurrent use so a UI can read it while a stream appends.
type Accumulator struct {
	mu     sync.RWMutex
	buf    strings.Builder
	chunks int
	done   bool
}

// Reset clears the buffer for a new generation.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.buf.Reset()
	a.chunks = 0
	a.done = false
	a.mu.Unlock()
}

// Append adds content and returns the accumulated buffer. Appends after
// Finalize are ignored.
func (a *Accumulator) Append(content string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.done {
		a.buf.WriteString(content)
		a.chunks++
	}
	return a.buf.String()
}

// String returns the accumulated buffer.
func (a *Accumulator) String() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.buf.String()
}

// Len returns the buffer length in bytes.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.buf.Len()
}

// Chunks returns how many fragments were appended.
func (a *Accumulator) Chunks() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.chunks
}

// Finalize marks the generation complete and returns the final buffer.
func (a *Accumulator) Finalize() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.done = true
	return a.buf.String()
}

// Done reports whether Finalize was called.
func (a *Accumulator) Done() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.done
}
