package notify

import (
	"encoding/json"
	"testing"
)

func TestMailboxSendReceive(t *testing.T) {
	mb := NewMailbox(2)

	if !mb.TrySend(NewEnvelope("a", nil)) {
		t.Error("TrySend into an empty mailbox should succeed")
	}
	env := <-mb.Receive()
	if env.MessageType != "a" {
		t.Errorf("received message_type = %q, want %q", env.MessageType, "a")
	}
}

func TestMailboxFullDropsNewest(t *testing.T) {
	mb := NewMailbox(1)

	if !mb.TrySend(NewEnvelope("first", nil)) {
		t.Fatal("first send should succeed")
	}
	if mb.TrySend(NewEnvelope("second", nil)) {
		t.Error("send into a full mailbox should report a drop")
	}

	env := <-mb.Receive()
	if env.MessageType != "first" {
		t.Errorf("queued message = %q, want %q (overflow never displaces)", env.MessageType, "first")
	}
}

func TestMailboxClose(t *testing.T) {
	mb := NewMailbox(2)
	mb.TrySend(NewEnvelope("pending", nil))

	mb.Close()
	mb.Close() // idempotent

	if !mb.Closed() {
		t.Error("Closed() should report true after Close")
	}
	if mb.TrySend(NewEnvelope("late", nil)) {
		t.Error("TrySend after Close should fail")
	}

	// Buffered entries remain readable, then the channel reports closed
	if env, ok := <-mb.Receive(); !ok || env.MessageType != "pending" {
		t.Error("pending envelope should drain after Close")
	}
	if _, ok := <-mb.Receive(); ok {
		t.Error("channel should be closed after draining")
	}
}

func TestEnvelopeShape(t *testing.T) {
	env := NewEnvelope("note_updated", map[string]any{"note_id": 7})

	if env.ID == "" {
		t.Error("envelope id should be assigned")
	}
	if env.Timestamp.IsZero() {
		t.Error("envelope timestamp should be assigned")
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "message_type", "data", "timestamp"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("serialized envelope missing %q field", key)
		}
	}
	if decoded["message_type"] != "note_updated" {
		t.Errorf("message_type = %v, want note_updated", decoded["message_type"])
	}
}

func TestEnvelopeIDsUnique(t *testing.T) {
	a := NewEnvelope("x", nil)
	b := NewEnvelope("x", nil)
	if a.ID == b.ID {
		t.Error("consecutive envelopes should get distinct ids")
	}
}
