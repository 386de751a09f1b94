package notify

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fastnote/notelive/internal/metrics"
)

func newTestService() (*Service, *Registry) {
	r := NewRegistry()
	return NewService(r, NewBus(16), nil), r
}

func drainOne(t *testing.T, mb *Mailbox) Envelope {
	t.Helper()
	select {
	case env := <-mb.Receive():
		return env
	default:
		t.Fatal("expected an envelope in the mailbox")
		return Envelope{}
	}
}

func TestSendToUserFansOutToAllConnections(t *testing.T) {
	svc, r := newTestService()

	mbA := NewMailbox(4)
	mbB := NewMailbox(4)
	mbOther := NewMailbox(4)
	r.Register("conn-a", 1, mbA)
	r.Register("conn-b", 1, mbB)
	r.Register("conn-c", 2, mbOther)

	svc.SendToUser(1, "note_updated", map[string]any{"note_id": 5})

	for _, mb := range []*Mailbox{mbA, mbB} {
		env := drainOne(t, mb)
		if env.MessageType != "note_updated" {
			t.Errorf("message_type = %q, want note_updated", env.MessageType)
		}
	}
	select {
	case <-mbOther.Receive():
		t.Error("user 2 must not receive user 1's message")
	default:
	}
}

func TestSendToUserAbsentUserIsNoop(t *testing.T) {
	svc, _ := newTestService()
	// Must not panic or error
	svc.SendToUser(42, "note_updated", nil)
}

func TestSendToUserFullMailboxDropsSilently(t *testing.T) {
	svc, r := newTestService()

	mb := NewMailbox(1)
	r.Register("conn-a", 1, mb)

	svc.SendToUser(1, "first", nil)
	svc.SendToUser(1, "second", nil) // dropped, mailbox full

	env := drainOne(t, mb)
	if env.MessageType != "first" {
		t.Errorf("surviving message = %q, want first", env.MessageType)
	}
	select {
	case env := <-mb.Receive():
		t.Errorf("unexpected second envelope %q", env.MessageType)
	default:
	}
}

func TestDropReasonDistinguishesFullFromClosed(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := NewRegistry()
	svc := NewService(r, NewBus(16), m)

	full := NewMailbox(1)
	closed := NewMailbox(1)
	r.Register("conn-full", 1, full)
	r.Register("conn-closed", 2, closed)

	svc.SendToUser(1, "fills", nil)
	svc.SendToUser(1, "dropped", nil) // mailbox full
	closed.Close()
	svc.SendToUser(2, "dropped", nil) // mailbox closed

	if got := testutil.ToFloat64(m.DroppedTotal.WithLabelValues("mailbox_full")); got != 1 {
		t.Errorf("mailbox_full drops = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DroppedTotal.WithLabelValues("mailbox_closed")); got != 1 {
		t.Errorf("mailbox_closed drops = %v, want 1", got)
	}
}

func TestBroadcastToAllReachesEveryMailbox(t *testing.T) {
	svc, r := newTestService()

	boxes := []*Mailbox{NewMailbox(4), NewMailbox(4), NewMailbox(4)}
	r.Register("conn-a", 1, boxes[0])
	r.Register("conn-b", 1, boxes[1])
	r.Register("conn-c", 2, boxes[2])

	svc.BroadcastToAll("maintenance", map[string]any{"message": "restarting soon"})

	for i, mb := range boxes {
		env := drainOne(t, mb)
		if env.MessageType != "maintenance" {
			t.Errorf("mailbox %d message_type = %q, want maintenance", i, env.MessageType)
		}
	}
}

func TestBroadcastToUserRidesTheBus(t *testing.T) {
	svc, _ := newTestService()
	sub := svc.bus.Subscribe()
	defer sub.Close()

	svc.BroadcastToUser(7, map[string]any{"k": "v"})

	ev, _, ok := sub.Next()
	if !ok {
		t.Fatal("bus should carry the published event")
	}
	if ev.UserID != 7 || ev.All {
		t.Errorf("event addressing = {UserID:%d All:%v}, want {7 false}", ev.UserID, ev.All)
	}
	if ev.Env.MessageType != MessageTypeBroadcast {
		t.Errorf("message_type = %q, want %q", ev.Env.MessageType, MessageTypeBroadcast)
	}
}

func TestNoteAndFolderWrappers(t *testing.T) {
	svc, r := newTestService()
	mb := NewMailbox(8)
	r.Register("conn-a", 1, mb)

	svc.SendNoteUpdate(1, 10, "created", map[string]any{"title": "x"})
	svc.SendFolderUpdate(1, 20, "deleted", nil)
	svc.SendSyncStatus(1, "completed", map[string]any{"synced": 3})

	env := drainOne(t, mb)
	if env.MessageType != "note_created" {
		t.Errorf("message_type = %q, want note_created", env.MessageType)
	}
	data := env.Data.(map[string]any)
	if data["note_id"] != int64(10) || data["action"] != "created" {
		t.Errorf("note payload = %+v", data)
	}

	env = drainOne(t, mb)
	if env.MessageType != "folder_deleted" {
		t.Errorf("message_type = %q, want folder_deleted", env.MessageType)
	}
	data = env.Data.(map[string]any)
	if data["folder_id"] != int64(20) {
		t.Errorf("folder payload = %+v", data)
	}

	env = drainOne(t, mb)
	if env.MessageType != MessageTypeSyncStatus {
		t.Errorf("message_type = %q, want %q", env.MessageType, MessageTypeSyncStatus)
	}
	data = env.Data.(map[string]any)
	if data["status"] != "completed" {
		t.Errorf("sync payload = %+v", data)
	}
	if _, ok := data["timestamp"]; !ok {
		t.Error("sync payload missing timestamp")
	}
}

func TestCleanupStaleConnections(t *testing.T) {
	svc, r := newTestService()

	live := NewMailbox(4)
	dead := NewMailbox(4)
	r.Register("conn-live", 1, live)
	r.Register("conn-dead", 2, dead)
	dead.Close()

	if reaped := svc.CleanupStaleConnections(); reaped != 1 {
		t.Errorf("CleanupStaleConnections() = %d, want 1", reaped)
	}
	if !svc.IsUserConnected(1) {
		t.Error("live connection must survive cleanup")
	}
	if svc.IsUserConnected(2) {
		t.Error("stale connection should be gone after cleanup")
	}

	// Second sweep finds nothing
	if reaped := svc.CleanupStaleConnections(); reaped != 0 {
		t.Errorf("second CleanupStaleConnections() = %d, want 0", reaped)
	}
}

func TestRunReaperSweeps(t *testing.T) {
	svc, r := newTestService()

	dead := NewMailbox(4)
	r.Register("conn-dead", 2, dead)
	dead.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.RunReaper(ctx, 10*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for svc.IsUserConnected(2) {
		select {
		case <-deadline:
			t.Fatal("reaper did not sweep the stale connection in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
