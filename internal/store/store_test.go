package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + settings)", result.Version)
	}
}

func TestRoundTrip(t *testing.T) {
	db := testDB(t)

	msgs := []*Message{
		{ID: "m1", RoomID: "r1", SenderID: "peer", Type: TypeText, Content: "one", Status: StatusReceived, CreatedAt: 1000},
		{ID: "m2", RoomID: "r1", SenderID: "self", Type: TypeImage, Content: "https://cdn/img.png", Name: "img.png", Size: 2048, Status: StatusSent, CreatedAt: 2000},
	}
	if err := db.ReplaceRoom("r1", msgs); err != nil {
		t.Fatal(err)
	}

	got, err := db.MessagesForRoom("r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	for i := range msgs {
		if got[i].ID != msgs[i].ID || got[i].Status != msgs[i].Status {
			t.Errorf("msg %d = {%s %s}, want {%s %s}", i, got[i].ID, got[i].Status, msgs[i].ID, msgs[i].Status)
		}
	}
	if got[1].Name != "img.png" || got[1].Size != 2048 {
		t.Errorf("media metadata lost: %q %d", got[1].Name, got[1].Size)
	}
}

func TestMessagesForAbsentRoom(t *testing.T) {
	db := testDB(t)

	got, err := db.MessagesForRoom("never-seen")
	if err != nil {
		t.Fatalf("absent room must not be an error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty slice", got)
	}
}

func TestAppendMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{ID: "m1", RoomID: "r1", Type: TypeText, Content: "v1", Status: StatusReceived, CreatedAt: 1000}
	if err := db.AppendMessage(m); err != nil {
		t.Fatal(err)
	}
	// Same message appended again from a second event handler.
	m.Content = "v2"
	if err := db.AppendMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.MessagesForRoom("r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent append)", len(msgs))
	}
	if msgs[0].Content != "v2" {
		t.Errorf("content = %q, want v2 (updated)", msgs[0].Content)
	}
}

func TestParentRoundTrip(t *testing.T) {
	db := testDB(t)

	m := &Message{
		ID: "m2", RoomID: "r1", Type: TypeText, Content: "reply",
		Parent:    &ParentRef{ID: "m1", Type: TypeAudio, Content: "note.ogg"},
		Status:    StatusReceived,
		CreatedAt: 2000,
	}
	if err := db.AppendMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.MessagesForRoom("r1")
	if msgs[0].Parent == nil || msgs[0].Parent.Type != TypeAudio {
		t.Errorf("parent ref lost: %+v", msgs[0].Parent)
	}
}

func TestMarkMessagesRead(t *testing.T) {
	db := testDB(t)

	_ = db.AppendMessage(&Message{ID: "m1", RoomID: "r1", Status: StatusReceived, CreatedAt: 1000})
	_ = db.AppendMessage(&Message{ID: "m2", RoomID: "r1", Status: StatusReceived, CreatedAt: 2000})

	// Unknown ids are ignored.
	if err := db.MarkMessagesRead("r1", []string{"m1", "ghost"}); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.MessagesForRoom("r1")
	if msgs[0].Status != StatusRead {
		t.Errorf("m1 status = %s, want READ", msgs[0].Status)
	}
	if msgs[1].Status != StatusReceived {
		t.Errorf("m2 status = %s, want RECEIVED", msgs[1].Status)
	}
}

func TestRemoveMessageTombstonesReplies(t *testing.T) {
	db := testDB(t)

	_ = db.AppendMessage(&Message{ID: "a", RoomID: "r1", Type: TypeVideo, Status: StatusReceived, CreatedAt: 1000})
	_ = db.AppendMessage(&Message{
		ID: "b", RoomID: "r1", Type: TypeText, Content: "nice",
		Parent:    &ParentRef{ID: "a", Type: TypeVideo},
		Status:    StatusReceived,
		CreatedAt: 2000,
	})

	if err := db.RemoveMessage("r1", "a"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.MessagesForRoom("r1")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Parent == nil || !msgs[0].Parent.IsDeleted {
		t.Error("reply parent not tombstoned in cache")
	}
	if msgs[0].Parent.Type != TypeVideo {
		t.Errorf("tombstone type = %s, want video", msgs[0].Parent.Type)
	}
}

func TestClearRoom(t *testing.T) {
	db := testDB(t)

	_ = db.AppendMessage(&Message{ID: "m1", RoomID: "r1", Status: StatusReceived, CreatedAt: 1000})
	_ = db.AppendMessage(&Message{ID: "m2", RoomID: "r2", Status: StatusReceived, CreatedAt: 1000})

	if err := db.ClearRoom("r1"); err != nil {
		t.Fatal(err)
	}

	if msgs, _ := db.MessagesForRoom("r1"); len(msgs) != 0 {
		t.Error("r1 not cleared")
	}
	if msgs, _ := db.MessagesForRoom("r2"); len(msgs) != 1 {
		t.Error("r2 should be untouched")
	}
}

func TestChatUpsertAndList(t *testing.T) {
	db := testDB(t)

	c := &Chat{RoomID: "r1", PeerID: "u2", PeerName: "Alice", LastMessageAt: 1000, LastMessagePreview: "hello"}
	if err := db.UpsertChat(c); err != nil {
		t.Fatal(err)
	}
	c.Name = "Work"
	if err := db.UpsertChat(c); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats()
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 {
		t.Fatalf("got %d chats, want 1", len(chats))
	}
	if chats[0].Name != "Work" || chats[0].PeerName != "Alice" {
		t.Errorf("chat = %+v", chats[0])
	}
}

func TestGetChatAbsent(t *testing.T) {
	db := testDB(t)
	c, err := db.GetChat("missing")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Error("expected nil for missing chat")
	}
}

func TestSetChatNameAndUnread(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertChat(&Chat{RoomID: "r1", PeerName: "Alice", UnreadCount: 3})

	if err := db.SetChatName("r1", "Family"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetChatUnread("r1", 0); err != nil {
		t.Fatal(err)
	}

	c, _ := db.GetChat("r1")
	if c.Name != "Family" || c.UnreadCount != 0 {
		t.Errorf("chat = %+v", c)
	}
}

func TestSettings(t *testing.T) {
	db := testDB(t)

	if v, err := db.GetSetting(BackgroundThemeKey); err != nil || v != "" {
		t.Errorf("absent setting = (%q, %v), want empty", v, err)
	}
	if err := db.SetSetting(BackgroundThemeKey, "midnight"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSetting(BackgroundThemeKey, "paper"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetSetting(BackgroundThemeKey); v != "paper" {
		t.Errorf("setting = %q, want paper", v)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox(&OutboxEntry{ClientMsgID: "c1", RoomID: "r1", Body: "hi", MessageType: "text"}); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "c1" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := db.MarkOutboxSending("c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("c1", "srv1"); err != nil {
		t.Fatal(err)
	}

	pending, _ = db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
}

func TestSyncState(t *testing.T) {
	db := testDB(t)

	if err := db.SetSyncState("self_id", "u1"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetSyncState("self_id"); v != "u1" {
		t.Errorf("sync state = %q, want u1", v)
	}
	if v, _ := db.GetSyncState("missing"); v != "" {
		t.Errorf("absent key = %q, want empty", v)
	}
}
