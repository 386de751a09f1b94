package logring

import (
	"log/slog"
	"sync"
	"time"
)

// LogEntry is a single log record retained in memory for the admin
// log endpoint.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   slog.Level     `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// RingBuffer is a thread-safe circular buffer of recent log entries.
type RingBuffer struct {
	mu    sync.RWMutex
	buf   []LogEntry
	next  int // next write position
	count int // number of valid entries, capped at len(buf)
}

// NewRingBuffer creates a ring buffer retaining up to capacity entries.
// A non-positive capacity is clamped to one entry so Add never indexes an
// empty slice.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]LogEntry, capacity)}
}

// Add appends an entry, overwriting the oldest once the buffer is full.
func (rb *RingBuffer) Add(entry LogEntry) {
	rb.mu.Lock()
	rb.buf[rb.next] = entry
	rb.next = (rb.next + 1) % len(rb.buf)
	if rb.count < len(rb.buf) {
		rb.count++
	}
	rb.mu.Unlock()
}

// Entries returns up to limit entries at or above minLevel recorded at or
// after since, newest first. limit <= 0 means no limit; a zero since means
// no time filter.
func (rb *RingBuffer) Entries(limit int, minLevel slog.Level, since time.Time) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []LogEntry
	for i := 0; i < rb.count && (limit <= 0 || len(result) < limit); i++ {
		idx := (rb.next - 1 - i + len(rb.buf)) % len(rb.buf)
		e := rb.buf[idx]
		if e.Level < minLevel {
			continue
		}
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		result = append(result, e)
	}
	return result
}

// Len returns the number of entries currently retained.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Cap returns the buffer capacity.
func (rb *RingBuffer) Cap() int {
	return len(rb.buf)
}
