package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gsouza97/converse/internal/bus"
	"github.com/gsouza97/converse/internal/channel"
	"github.com/gsouza97/converse/internal/state"
	"github.com/gsouza97/converse/internal/store"
	"go.uber.org/zap"
)

type fakeEmitter struct {
	reqs []channel.SendMessageRequest
	ack  channel.Ack
	err  error
}

func (f *fakeEmitter) EmitWithAck(_ context.Context, _ string, payload any) (channel.Ack, error) {
	f.reqs = append(f.reqs, payload.(channel.SendMessageRequest))
	return f.ack, f.err
}

type testSender struct {
	*Sender
	messages *state.MessageStore
	chats    *state.ChatList
	db       *store.DB
	emitter  *fakeEmitter
}

func newTestSender(t *testing.T) *testSender {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	messages := state.NewMessageStore()
	chats := state.NewChatList()
	chats.SetAll([]*state.Chat{{ID: "r1", UserIDs: [2]string{"self", "peer"}, PeerID: "peer", PeerName: "Alice"}})

	em := &fakeEmitter{ack: channel.Ack{Success: true, ID: "srv-1"}}
	s := NewSender(db, messages, chats, func() Emitter { return em }, func() string { return "self" }, bus.New(), zap.NewNop())
	return &testSender{Sender: s, messages: messages, chats: chats, db: db, emitter: em}
}

func TestQueueAndSend(t *testing.T) {
	ts := newTestSender(t)

	clientID, err := ts.Queue("r1", "hello", store.TypeText, "")
	if err != nil {
		t.Fatal(err)
	}

	ts.processPending(context.Background())

	if len(ts.emitter.reqs) != 1 {
		t.Fatalf("emitted %d sends, want 1", len(ts.emitter.reqs))
	}
	if got := ts.emitter.reqs[0].ClientMsgID; got != clientID {
		t.Errorf("wire client id = %q, want %q", got, clientID)
	}

	// Promoted to SENT under the server-assigned id.
	if ts.messages.Get("r1", clientID) != nil {
		t.Error("message still under temporary client id")
	}
	m := ts.messages.Get("r1", "srv-1")
	if m == nil {
		t.Fatal("message not rekeyed to server id")
	}
	if m.Status != store.StatusSent {
		t.Errorf("status = %s, want SENT", m.Status)
	}
	if ts.chats.Get("r1").LastMessage != m {
		t.Error("chat preview not updated")
	}

	pending, _ := ts.db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("outbox still has %d pending", len(pending))
	}
	cached, _ := ts.db.MessagesForRoom("r1")
	if len(cached) != 1 || cached[0].ID != "srv-1" {
		t.Errorf("cache = %+v, want one message under srv-1", cached)
	}
}

func TestSendAckRejected(t *testing.T) {
	ts := newTestSender(t)
	ts.emitter.ack = channel.Ack{Success: false, Message: "room is read only"}

	clientID, err := ts.Queue("r1", "hello", store.TypeText, "")
	if err != nil {
		t.Fatal(err)
	}

	ts.processPending(context.Background())

	m := ts.messages.Get("r1", clientID)
	if m == nil {
		t.Fatal("optimistic message missing")
	}
	if m.Status != store.StatusFailed {
		t.Errorf("status = %s, want FAILED", m.Status)
	}

	// Failed entries leave the pending set; retry is an explicit re-queue.
	pending, _ := ts.db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("outbox still has %d pending", len(pending))
	}
}

func TestSendTransportError(t *testing.T) {
	ts := newTestSender(t)
	ts.emitter.err = errors.New("write: broken pipe")

	clientID, _ := ts.Queue("r1", "hello", store.TypeText, "")
	ts.processPending(context.Background())

	if got := ts.messages.Get("r1", clientID).Status; got != store.StatusFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
}

func TestNoChannelLeavesQueued(t *testing.T) {
	ts := newTestSender(t)
	ts.emit = func() Emitter { return nil }

	if _, err := ts.Queue("r1", "hello", store.TypeText, ""); err != nil {
		t.Fatal(err)
	}

	ts.processPending(context.Background())

	if len(ts.emitter.reqs) != 0 {
		t.Error("emitted while disconnected")
	}
	pending, _ := ts.db.PendingOutbox()
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1 (held for reconnect)", len(pending))
	}
	// Nothing optimistic shows up until the channel is back.
	if len(ts.messages.Messages("r1")) != 0 {
		t.Error("optimistic insert without a channel")
	}
}

func TestReplyParentResolution(t *testing.T) {
	ts := newTestSender(t)
	ts.messages.Insert(&store.Message{
		ID: "p1", RoomID: "r1", SenderID: "peer",
		Type: store.TypeImage, Content: "pic.jpg",
		Status: store.StatusReceived, CreatedAt: 100,
	})

	if _, err := ts.Queue("r1", "nice shot", store.TypeText, "p1"); err != nil {
		t.Fatal(err)
	}
	ts.processPending(context.Background())

	m := ts.messages.Get("r1", "srv-1")
	if m == nil || m.Parent == nil {
		t.Fatal("reply parent missing")
	}
	if m.Parent.Type != store.TypeImage || m.Parent.IsDeleted {
		t.Errorf("parent = %+v", m.Parent)
	}
	if got := ts.emitter.reqs[0].ParentMessageID; got != "p1" {
		t.Errorf("wire parent id = %q, want p1", got)
	}
}

func TestReplyToVanishedParent(t *testing.T) {
	ts := newTestSender(t)

	// Parent was unsent between composing and draining.
	if _, err := ts.Queue("r1", "too late", store.TypeText, "gone"); err != nil {
		t.Fatal(err)
	}
	ts.processPending(context.Background())

	m := ts.messages.Get("r1", "srv-1")
	if m == nil || m.Parent == nil {
		t.Fatal("reply parent missing")
	}
	if !m.Parent.IsDeleted {
		t.Error("vanished parent should be tombstoned")
	}
}
