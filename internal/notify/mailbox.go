package notify

import "sync"

// Mailbox is a connection's private outgoing queue. The outbound loop drains
// it; everything else only ever TrySends. Sends never block: a full or
// closed mailbox drops the message, which is the best-effort contract.
type Mailbox struct {
	mu     sync.RWMutex
	ch     chan Envelope
	closed bool
}

// NewMailbox creates a mailbox buffering up to size envelopes.
func NewMailbox(size int) *Mailbox {
	return &Mailbox{ch: make(chan Envelope, size)}
}

// TrySend enqueues env without blocking. Returns false when the mailbox is
// full or closed; the caller decides whether that loss is worth a log line.
func (m *Mailbox) TrySend(env Envelope) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false
	}
	select {
	case m.ch <- env:
		return true
	default:
		return false
	}
}

// Receive exposes the underlying channel for the outbound loop's select.
// The channel is closed by Close; a receive of (zero, false) means drain.
func (m *Mailbox) Receive() <-chan Envelope {
	return m.ch
}

// Close marks the mailbox dead and closes the channel. Idempotent, and safe
// against concurrent TrySend calls (the closed flag is checked under the
// same lock that guards the send).
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// Closed reports whether Close has run. The reaper uses this to recognize
// stale registry entries whose connection died without deregistering.
func (m *Mailbox) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
