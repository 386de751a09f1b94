package notify

import (
	"log/slog"
	"time"

	"github.com/fastnote/notelive/internal/metrics"
)

// Service is the delivery facade the rest of the application calls. Every
// send is best-effort: an absent recipient or a full mailbox is a silent,
// counted miss, never an error that could abort the caller's own work (a
// note save must succeed even when its live-update push cannot be
// delivered).
type Service struct {
	registry *Registry
	bus      *Bus
	metrics  *metrics.Metrics // optional, nil if metrics disabled
}

// NewService creates the facade over the shared registry and bus.
func NewService(registry *Registry, bus *Bus, m *metrics.Metrics) *Service {
	return &Service{
		registry: registry,
		bus:      bus,
		metrics:  m,
	}
}

// SendToUser pushes one envelope into the private mailbox of each of the
// user's connections, bypassing the bus. Zero connections is a no-op.
func (s *Service) SendToUser(userID int64, messageType string, data any) {
	env := NewEnvelope(messageType, data)

	for _, connID := range s.registry.ConnectionsFor(userID) {
		mb, ok := s.registry.Mailbox(connID)
		if !ok {
			continue
		}
		s.deliver(mb, env, "direct")
	}
}

// BroadcastToUser publishes a business event addressed to one user on the
// bus; each of the user's connections picks it up from its own cursor. No
// ordering is promised between this path and SendToUser.
func (s *Service) BroadcastToUser(userID int64, data any) {
	s.bus.Publish(userID, NewEnvelope(MessageTypeBroadcast, data))
	if s.metrics != nil {
		s.metrics.DeliveredTotal.WithLabelValues("bus").Inc()
	}
}

// BroadcastToAll pushes one envelope into every registered mailbox.
func (s *Service) BroadcastToAll(messageType string, data any) {
	env := NewEnvelope(messageType, data)
	for _, mb := range s.registry.Mailboxes() {
		s.deliver(mb, env, "broadcast")
	}
}

func (s *Service) deliver(mb *Mailbox, env Envelope, path string) {
	if mb.TrySend(env) {
		if s.metrics != nil {
			s.metrics.DeliveredTotal.WithLabelValues(path).Inc()
		}
		return
	}
	reason := "mailbox_full"
	if mb.Closed() {
		reason = "mailbox_closed"
	}
	slog.Debug("message dropped", "message_type", env.MessageType, "reason", reason)
	if s.metrics != nil {
		s.metrics.DroppedTotal.WithLabelValues(reason).Inc()
	}
}

// SendNoteUpdate notifies a user's devices that one of their notes changed.
// action becomes part of the message type ("note_created", "note_deleted").
func (s *Service) SendNoteUpdate(userID, noteID int64, action string, data any) {
	s.SendToUser(userID, "note_"+action, map[string]any{
		"note_id": noteID,
		"action":  action,
		"data":    data,
	})
}

// SendFolderUpdate notifies a user's devices that one of their folders
// changed.
func (s *Service) SendFolderUpdate(userID, folderID int64, action string, data any) {
	s.SendToUser(userID, "folder_"+action, map[string]any{
		"folder_id": folderID,
		"action":    action,
		"data":      data,
	})
}

// SendSyncStatus reports sync progress to a user's devices.
func (s *Service) SendSyncStatus(userID int64, status string, details any) {
	s.SendToUser(userID, MessageTypeSyncStatus, map[string]any{
		"status":    status,
		"details":   details,
		"timestamp": time.Now().UTC(),
	})
}

// IsUserConnected reports whether the user has any live connection.
func (s *Service) IsUserConnected(userID int64) bool {
	return s.registry.IsConnected(userID)
}

// ConnectionCount returns the user's live connection count.
func (s *Service) ConnectionCount(userID int64) int {
	return s.registry.ConnectionCount(userID)
}

// ConnectedUsers returns every user id with a live connection.
func (s *Service) ConnectedUsers() []int64 {
	return s.registry.ConnectedUsers()
}

// Stats returns registry occupancy counters.
func (s *Service) Stats() Stats {
	return s.registry.Stats()
}
