package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/fastnote/notelive/internal/metrics"
)

// HandlerOptions tune per-connection behavior.
type HandlerOptions struct {
	// MailboxSize is the per-connection outgoing queue depth.
	MailboxSize int
	// WriteTimeout bounds each frame write to the peer.
	WriteTimeout time.Duration
	// PingInterval enables server-initiated keepalive pings when positive.
	// A silent-but-alive peer is never evicted; only a dead transport is.
	PingInterval time.Duration
	// PongTimeout bounds how long a keepalive ping waits for its pong.
	PongTimeout time.Duration
}

// Handler runs the lifetime of accepted connections: register, race the
// inbound and outbound loops, deregister. One Handler serves all
// connections; per-connection state lives on the Serve stack.
type Handler struct {
	registry *Registry
	bus      *Bus
	metrics  *metrics.Metrics // optional, nil if metrics disabled
	opts     HandlerOptions
}

// NewHandler creates a connection handler over the shared registry and bus.
func NewHandler(registry *Registry, bus *Bus, m *metrics.Metrics, opts HandlerOptions) *Handler {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 10 * time.Second
	}
	return &Handler{
		registry: registry,
		bus:      bus,
		metrics:  m,
		opts:     opts,
	}
}

// Serve owns conn until the session ends. It registers a fresh connection
// id for userID, runs the two loops concurrently, and returns only after
// both loops have stopped and the registry entry is gone. Deregistration is
// unconditional: every exit path, normal or not, runs it.
func (h *Handler) Serve(ctx context.Context, conn *websocket.Conn, userID int64) {
	connID := uuid.NewString()
	mb := NewMailbox(h.opts.MailboxSize)

	h.registry.Register(connID, userID, mb)
	sub := h.bus.Subscribe()

	slog.Info("websocket connected", "connection_id", connID, "user_id", userID)

	// Either loop reaching a terminal condition cancels the other.
	// context.CancelFunc is safe to call multiple times.
	connCtx, cancel := context.WithCancel(ctx)

	defer func() {
		cancel()
		sub.Close()
		mb.Close()
		h.registry.Deregister(connID, userID)
		slog.Info("websocket disconnected", "connection_id", connID, "user_id", userID)
	}()

	if h.opts.PingInterval > 0 {
		go h.keepAlive(connCtx, conn, cancel)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(connCtx, conn, connID, userID, mb)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(connCtx, conn, connID, userID, mb, sub)
	}()
	wg.Wait()

	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop parses and dispatches inbound frames until the stream ends.
// Malformed JSON and unknown types are logged and survived; only transport
// errors and unexpected binary frames end the loop.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, connID string, userID int64, mb *Mailbox) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// Close frames and cancellations surface here too; the
			// distinction only matters for logging, never for cleanup.
			slog.Debug("read loop ended", "connection_id", connID, "reason", err)
			return
		}
		if typ != websocket.MessageText {
			slog.Warn("unexpected binary frame", "connection_id", connID, "user_id", userID)
			return
		}
		if h.metrics != nil {
			h.metrics.MessagesTotal.WithLabelValues("inbound").Inc()
		}
		h.dispatch(connID, userID, data, mb)
	}
}

// dispatch handles one inbound client message on this connection's own
// mailbox. Replies ride the normal outbound path so ordering against other
// targeted sends is preserved.
func (h *Handler) dispatch(connID string, userID int64, data []byte, mb *Mailbox) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("malformed client message", "connection_id", connID, "error", err)
		return
	}

	switch msg.Type {
	case ClientTypePing:
		mb.TrySend(NewEnvelope(MessageTypePong, map[string]any{}))

	case ClientTypeHeartbeat:
		mb.TrySend(NewEnvelope(MessageTypeHeartbeatResponse, map[string]any{
			"timestamp": time.Now().UTC(),
		}))

	case ClientTypeSubscribe:
		// Acknowledgment only: the confirmed event name never filters
		// subsequent delivery. Every message for the user still reaches
		// every one of the user's connections.
		event := "all"
		if v, ok := msg.Data["event"].(string); ok && v != "" {
			event = v
		}
		slog.Info("subscription confirmed", "user_id", userID, "event", event)
		mb.TrySend(NewEnvelope(MessageTypeSubscriptionConfirmed, map[string]any{
			"event":  event,
			"status": "subscribed",
		}))

	default:
		slog.Warn("unknown client message type", "type", msg.Type, "user_id", userID)
	}
}

// writeLoop drains the private mailbox and the bus subscription, whichever
// produces first, and serializes every envelope onto the stream. A write
// failure or a closed mailbox ends the loop.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, connID string, userID int64, mb *Mailbox, sub *Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return

		case env, ok := <-mb.Receive():
			if !ok {
				slog.Debug("mailbox closed", "connection_id", connID)
				return
			}
			if !h.write(ctx, conn, connID, env) {
				return
			}

		case <-sub.Wake():
			for {
				ev, skipped, ok := sub.Next()
				if skipped > 0 {
					slog.Warn("bus subscriber lagged, events skipped",
						"connection_id", connID, "skipped", skipped)
					if h.metrics != nil {
						h.metrics.DroppedTotal.WithLabelValues("bus_lagged").Add(float64(skipped))
					}
				}
				if !ok {
					break
				}
				if !ev.All && ev.UserID != userID {
					continue
				}
				if !h.write(ctx, conn, connID, ev.Env) {
					return
				}
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, connID string, env Envelope) bool {
	payload, err := json.Marshal(env)
	if err != nil {
		slog.Error("envelope marshal failed", "connection_id", connID, "error", err)
		return true // bad payload, not a dead stream
	}

	writeCtx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	err = conn.Write(writeCtx, websocket.MessageText, payload)
	cancel()
	if err != nil {
		slog.Debug("write failed", "connection_id", connID, "reason", err)
		return false
	}
	if h.metrics != nil {
		h.metrics.MessagesTotal.WithLabelValues("outbound").Inc()
	}
	return true
}

// keepAlive sends periodic pings so a dead transport is detected even when
// no application traffic flows. Ping must run concurrently with the read
// loop per coder/websocket docs.
func (h *Handler) keepAlive(ctx context.Context, conn *websocket.Conn, onFail context.CancelFunc) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.opts.PongTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("keepalive ping failed", "error", err)
				onFail()
				return
			}
		}
	}
}
