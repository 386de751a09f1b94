package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type handlerEnv struct {
	registry *Registry
	bus      *Bus
	service  *Service
	url      string
}

// newHandlerEnv starts a WebSocket server that serves every connection as
// the given user.
func newHandlerEnv(t *testing.T, userID int64, opts HandlerOptions) *handlerEnv {
	t.Helper()

	registry := NewRegistry()
	bus := NewBus(16)
	h := NewHandler(registry, bus, nil, opts)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Logf("accept error: %v", err)
			return
		}
		h.Serve(r.Context(), c, userID)
	}))
	t.Cleanup(srv.Close)

	return &handlerEnv{
		registry: registry,
		bus:      bus,
		service:  NewService(registry, bus, nil),
		url:      strings.Replace(srv.URL, "http", "ws", 1),
	}
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func sendText(t *testing.T, c *websocket.Conn, payload string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEnvelope(t *testing.T, c *websocket.Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("frame type = %v, want text", typ)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v (payload %s)", err, data)
	}
	if env.ID == "" {
		t.Error("envelope missing id")
	}
	if env.Timestamp.IsZero() {
		t.Error("envelope missing timestamp")
	}
	return env
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandlerPingPong(t *testing.T) {
	env := newHandlerEnv(t, 1, HandlerOptions{})
	c := dialWS(t, env.url)

	sendText(t, c, `{"type":"ping"}`)

	resp := readEnvelope(t, c)
	if resp.MessageType != MessageTypePong {
		t.Errorf("message_type = %q, want %q", resp.MessageType, MessageTypePong)
	}
}

func TestHandlerHeartbeat(t *testing.T) {
	env := newHandlerEnv(t, 1, HandlerOptions{})
	c := dialWS(t, env.url)

	sendText(t, c, `{"type":"heartbeat"}`)

	resp := readEnvelope(t, c)
	if resp.MessageType != MessageTypeHeartbeatResponse {
		t.Errorf("message_type = %q, want %q", resp.MessageType, MessageTypeHeartbeatResponse)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want object", resp.Data)
	}
	if _, ok := data["timestamp"]; !ok {
		t.Error("heartbeat_response missing timestamp")
	}
}

func TestHandlerSubscribe(t *testing.T) {
	env := newHandlerEnv(t, 1, HandlerOptions{})
	c := dialWS(t, env.url)

	sendText(t, c, `{"type":"subscribe","data":{"event":"notes"}}`)

	resp := readEnvelope(t, c)
	if resp.MessageType != MessageTypeSubscriptionConfirmed {
		t.Errorf("message_type = %q, want %q", resp.MessageType, MessageTypeSubscriptionConfirmed)
	}
	data := resp.Data.(map[string]any)
	if data["event"] != "notes" {
		t.Errorf("event = %v, want notes", data["event"])
	}
	if data["status"] != "subscribed" {
		t.Errorf("status = %v, want subscribed", data["status"])
	}

	// Subscription is an ack, not a filter: unrelated pushes still arrive
	waitFor(t, "registration", func() bool { return env.registry.IsConnected(1) })
	env.service.SendToUser(1, "folder_renamed", nil)
	push := readEnvelope(t, c)
	if push.MessageType != "folder_renamed" {
		t.Errorf("message_type = %q, want folder_renamed", push.MessageType)
	}
}

func TestHandlerSubscribeDefaultEvent(t *testing.T) {
	env := newHandlerEnv(t, 1, HandlerOptions{})
	c := dialWS(t, env.url)

	sendText(t, c, `{"type":"subscribe"}`)

	resp := readEnvelope(t, c)
	data := resp.Data.(map[string]any)
	if data["event"] != "all" {
		t.Errorf("event = %v, want all", data["event"])
	}
}

func TestHandlerSurvivesMalformedAndUnknown(t *testing.T) {
	env := newHandlerEnv(t, 1, HandlerOptions{})
	c := dialWS(t, env.url)

	sendText(t, c, `{not json`)
	sendText(t, c, `{"type":"bogus"}`)
	sendText(t, c, `{"type":"ping"}`)

	// Only the ping produces a reply; the connection survived both bad frames
	resp := readEnvelope(t, c)
	if resp.MessageType != MessageTypePong {
		t.Errorf("message_type = %q, want %q", resp.MessageType, MessageTypePong)
	}
}

func TestHandlerBinaryFrameEndsSession(t *testing.T) {
	env := newHandlerEnv(t, 1, HandlerOptions{})
	c := dialWS(t, env.url)

	waitFor(t, "registration", func() bool { return env.registry.IsConnected(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageBinary, []byte{0x01}); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "deregistration", func() bool { return !env.registry.IsConnected(1) })
}

func TestHandlerDirectDelivery(t *testing.T) {
	env := newHandlerEnv(t, 1, HandlerOptions{})
	c := dialWS(t, env.url)

	waitFor(t, "registration", func() bool { return env.registry.IsConnected(1) })

	env.service.SendToUser(1, "note_created", map[string]any{"note_id": float64(9)})

	resp := readEnvelope(t, c)
	if resp.MessageType != "note_created" {
		t.Errorf("message_type = %q, want note_created", resp.MessageType)
	}
	data := resp.Data.(map[string]any)
	if data["note_id"] != float64(9) {
		t.Errorf("note_id = %v, want 9", data["note_id"])
	}
}

func TestHandlerBusFiltersByUser(t *testing.T) {
	env := newHandlerEnv(t, 1, HandlerOptions{})
	c := dialWS(t, env.url)

	waitFor(t, "registration", func() bool { return env.registry.IsConnected(1) })

	// An event for another user must never reach this connection
	env.service.BroadcastToUser(2, map[string]any{"for": "someone else"})
	env.service.BroadcastToUser(1, map[string]any{"for": "me"})

	resp := readEnvelope(t, c)
	if resp.MessageType != MessageTypeBroadcast {
		t.Errorf("message_type = %q, want %q", resp.MessageType, MessageTypeBroadcast)
	}
	data := resp.Data.(map[string]any)
	if data["for"] != "me" {
		t.Errorf("delivered payload %v, want the user-1 event only", data)
	}
}

func TestHandlerDeregistersOnClose(t *testing.T) {
	env := newHandlerEnv(t, 1, HandlerOptions{})
	c := dialWS(t, env.url)

	waitFor(t, "registration", func() bool { return env.registry.IsConnected(1) })
	if got := env.registry.Stats().TotalConnections; got != 1 {
		t.Errorf("TotalConnections = %d, want 1", got)
	}

	c.Close(websocket.StatusNormalClosure, "")

	waitFor(t, "deregistration", func() bool { return !env.registry.IsConnected(1) })
	if got := env.registry.Stats().TotalConnections; got != 0 {
		t.Errorf("TotalConnections = %d after close, want 0", got)
	}
}

func TestHandlerMultipleConnectionsPerUser(t *testing.T) {
	env := newHandlerEnv(t, 1, HandlerOptions{})
	c1 := dialWS(t, env.url)
	c2 := dialWS(t, env.url)

	waitFor(t, "both registrations", func() bool { return env.registry.ConnectionCount(1) == 2 })

	env.service.SendToUser(1, "note_updated", nil)

	for i, c := range []*websocket.Conn{c1, c2} {
		resp := readEnvelope(t, c)
		if resp.MessageType != "note_updated" {
			t.Errorf("connection %d message_type = %q, want note_updated", i, resp.MessageType)
		}
	}

	// Closing one device leaves the other registered and reachable
	c1.Close(websocket.StatusNormalClosure, "")
	waitFor(t, "partial deregistration", func() bool { return env.registry.ConnectionCount(1) == 1 })

	env.service.SendToUser(1, "still_here", nil)
	resp := readEnvelope(t, c2)
	if resp.MessageType != "still_here" {
		t.Errorf("message_type = %q, want still_here", resp.MessageType)
	}
}
