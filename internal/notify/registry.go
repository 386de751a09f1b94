package notify

import (
	"log/slog"
	"sync"
)

// Stats is a point-in-time snapshot of registry occupancy. Each counter is
// read under one critical section; the snapshot as a whole is not
// transactional against concurrent registrations.
type Stats struct {
	ConnectedUsers               int `json:"connected_users"`
	TotalConnections             int `json:"total_connections"`
	ActiveSenders                int `json:"active_senders"`
	UsersWithMultipleConnections int `json:"users_with_multiple_connections"`
}

// Registry is the process-wide mapping of users to their live connections.
// Three indices are kept consistent under one RWMutex: user -> connection
// set, connection -> user, and connection -> mailbox. A user with zero
// connections has no entry at all; empty sets are removed, never kept.
type Registry struct {
	mu         sync.RWMutex
	byUser     map[int64]map[string]struct{}
	userByConn map[string]int64
	mailboxes  map[string]*Mailbox
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser:     make(map[int64]map[string]struct{}),
		userByConn: make(map[string]int64),
		mailboxes:  make(map[string]*Mailbox),
	}
}

// Register inserts a connection into all three indices atomically.
func (r *Registry) Register(connID string, userID int64, mb *Mailbox) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][connID] = struct{}{}
	r.userByConn[connID] = userID
	r.mailboxes[connID] = mb

	slog.Debug("registry: registered", "connection_id", connID, "user_id", userID)
}

// Deregister removes a connection from all three indices. Removing an
// already-absent connection is a no-op, so teardown paths can call it
// unconditionally. The user's entry disappears when its set empties.
func (r *Registry) Deregister(connID string, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregisterLocked(connID, userID)
}

func (r *Registry) deregisterLocked(connID string, userID int64) {
	_, indexed := r.userByConn[connID]
	_, hasMailbox := r.mailboxes[connID]
	if !indexed && !hasMailbox {
		return
	}

	delete(r.userByConn, connID)
	delete(r.mailboxes, connID)

	conns := r.byUser[userID]
	if conns == nil {
		// Should be unreachable while the indices hold their invariant.
		slog.Error("registry: connection indexed without user entry", "connection_id", connID, "user_id", userID)
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
	}

	slog.Debug("registry: deregistered", "connection_id", connID, "user_id", userID)
}

// ConnectionsFor returns a snapshot of the user's connection ids. An empty
// slice means the user has no connections; the registry does not distinguish
// "never connected" from "was connected, now isn't".
func (r *Registry) ConnectionsFor(userID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	return ids
}

// IsConnected reports whether the user has at least one live connection.
func (r *Registry) IsConnected(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectionCount returns the number of live connections for a user.
func (r *Registry) ConnectionCount(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// ConnectedUsers returns a snapshot of every user id with a live connection.
func (r *Registry) ConnectedUsers() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]int64, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	return users
}

// Mailbox returns the outgoing queue for a connection id.
func (r *Registry) Mailbox(connID string) (*Mailbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mb, ok := r.mailboxes[connID]
	return mb, ok
}

// Mailboxes returns a snapshot of every registered mailbox, for
// broadcast-to-all fan-out without holding the lock during sends.
func (r *Registry) Mailboxes() []*Mailbox {
	r.mu.RLock()
	defer r.mu.RUnlock()

	boxes := make([]*Mailbox, 0, len(r.mailboxes))
	for _, mb := range r.mailboxes {
		boxes = append(boxes, mb)
	}
	return boxes
}

// Stats returns current occupancy counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	multi := 0
	for _, conns := range r.byUser {
		if len(conns) > 1 {
			multi++
		}
	}
	return Stats{
		ConnectedUsers:               len(r.byUser),
		TotalConnections:             len(r.userByConn),
		ActiveSenders:                len(r.mailboxes),
		UsersWithMultipleConnections: multi,
	}
}

// staleEntry identifies a connection whose mailbox died without a clean
// deregister.
type staleEntry struct {
	connID string
	userID int64
}

// stale returns a snapshot of connections whose mailbox is missing or
// closed. The caller must re-check at removal time via deregisterIfStale.
func (r *Registry) stale() []staleEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []staleEntry
	for connID, userID := range r.userByConn {
		mb, ok := r.mailboxes[connID]
		if !ok || mb.Closed() {
			entries = append(entries, staleEntry{connID: connID, userID: userID})
		}
	}
	return entries
}

// deregisterIfStale removes the connection only if its mailbox is still
// missing or closed at the moment of removal, so a sweep working from a
// stale snapshot can never tear down a live connection. Connection ids are
// never reused, which makes the re-check sufficient.
func (r *Registry) deregisterIfStale(connID string, userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	mb, hasMailbox := r.mailboxes[connID]
	if hasMailbox && !mb.Closed() {
		return false
	}
	if _, indexed := r.userByConn[connID]; !indexed {
		return false
	}
	r.deregisterLocked(connID, userID)
	return true
}
