package notify

import (
	"time"

	"github.com/google/uuid"
)

// Outbound message types produced by this service. Business callers may
// supply their own types (e.g. "note_created") through the delivery facade.
const (
	MessageTypePong                  = "pong"
	MessageTypeHeartbeatResponse     = "heartbeat_response"
	MessageTypeSubscriptionConfirmed = "subscription_confirmed"
	MessageTypeSyncStatus            = "sync_status"
	MessageTypeBroadcast             = "broadcast"
)

// Inbound message types understood by the connection handler.
const (
	ClientTypePing      = "ping"
	ClientTypeHeartbeat = "heartbeat"
	ClientTypeSubscribe = "subscribe"
)

// Envelope is the wire format for every outbound push. The id is minted per
// message and carries no delivery semantics: there is no ack protocol and no
// deduplication.
type Envelope struct {
	ID          string    `json:"id"`
	MessageType string    `json:"message_type"`
	Data        any       `json:"data"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEnvelope wraps data in a fresh envelope with a random id and the
// current UTC time.
func NewEnvelope(messageType string, data any) Envelope {
	return Envelope{
		ID:          uuid.NewString(),
		MessageType: messageType,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}
}

// ClientMessage is the inbound frame format. Data is left opaque; only the
// subscribe handler peeks inside it.
type ClientMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}
