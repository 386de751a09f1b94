package gateway

import (
	"sync"
	"sync/atomic"
)

// Tracker counts active and lifetime WebSocket connections, including a
// per-IP breakdown used to enforce connection caps.
type Tracker struct {
	activeConnections atomic.Int64
	totalConnections  atomic.Int64

	ipConnections map[string]int
	ipMu          sync.Mutex
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		ipConnections: make(map[string]int),
	}
}

// ActiveCount returns the current number of active connections.
func (t *Tracker) ActiveCount() int {
	return int(t.activeConnections.Load())
}

// CountForIP returns the active connection count for a specific IP.
func (t *Tracker) CountForIP(ip string) int {
	t.ipMu.Lock()
	defer t.ipMu.Unlock()
	return t.ipConnections[ip]
}

// TryAcquire atomically checks limits and increments counters.
// Returns "" on success, or a reason string if a limit was hit.
func (t *Tracker) TryAcquire(ip string, maxGlobal, maxPerIP int) string {
	t.ipMu.Lock()
	defer t.ipMu.Unlock()

	// Read the atomic under the lock to prevent a TOCTOU race with Release.
	if int(t.activeConnections.Load()) >= maxGlobal {
		return "max_connections"
	}
	if t.ipConnections[ip] >= maxPerIP {
		return "max_connections_per_ip"
	}

	t.activeConnections.Add(1)
	t.totalConnections.Add(1)
	t.ipConnections[ip]++
	return ""
}

// Release decrements both global and per-IP connection counters.
func (t *Tracker) Release(ip string) {
	t.activeConnections.Add(-1)
	t.ipMu.Lock()
	t.ipConnections[ip]--
	if t.ipConnections[ip] <= 0 {
		delete(t.ipConnections, ip)
	}
	t.ipMu.Unlock()
}

// TotalCount returns the number of connections handled since start.
func (t *Tracker) TotalCount() int64 {
	return t.totalConnections.Load()
}
