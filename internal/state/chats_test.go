package state

import (
	"testing"

	"github.com/gsouza97/converse/internal/store"
)

func chat(id, peerName string) *Chat {
	return &Chat{
		ID:       id,
		UserIDs:  [2]string{"self", "peer-" + id},
		PeerID:   "peer-" + id,
		PeerName: peerName,
	}
}

func threeChats() *ChatList {
	l := NewChatList()
	l.SetAll([]*Chat{
		chat("r1", "Alice Doe"),
		chat("r2", "Bob Smith"),
		chat("r3", "Carol Jones"),
	})
	return l
}

func inbound(roomID, senderID string) *store.Message {
	return &store.Message{
		ID:        "m-" + roomID,
		RoomID:    roomID,
		SenderID:  senderID,
		Type:      store.TypeText,
		Content:   "hey",
		Status:    store.StatusReceived,
		CreatedAt: 1000,
	}
}

func TestBumpMovesToTopAndIncrementsUnread(t *testing.T) {
	l := threeChats()

	msg := inbound("r2", "peer-r2")
	l.Bump("r2", msg, "self")

	all := l.AllChats()
	if all[0].ID != "r2" {
		t.Fatalf("all[0] = %s, want r2", all[0].ID)
	}
	if all[0].UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", all[0].UnreadCount)
	}
	if all[0].LastMessage != msg {
		t.Error("lastMessage not updated")
	}
	// Untouched chats keep their relative order.
	if all[1].ID != "r1" || all[2].ID != "r3" {
		t.Errorf("rest order = [%s %s], want [r1 r3]", all[1].ID, all[2].ID)
	}

	// Filtered view moved too.
	if got := l.Chats(); got[0].ID != "r2" {
		t.Errorf("filtered[0] = %s, want r2", got[0].ID)
	}
}

func TestBumpSelfEchoIsNoOp(t *testing.T) {
	l := threeChats()

	l.Bump("r2", inbound("r2", "self"), "self")

	all := l.AllChats()
	if all[0].ID != "r1" {
		t.Errorf("order changed on self echo: all[0] = %s", all[0].ID)
	}
	if c := l.Get("r2"); c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
}

func TestBumpUnknownRoomIsNoOp(t *testing.T) {
	l := threeChats()
	l.Bump("missing", inbound("missing", "peer-x"), "self")
	if all := l.AllChats(); len(all) != 3 || all[0].ID != "r1" {
		t.Error("views changed by bump on unknown room")
	}
}

func TestBumpThenOwnEchoScenario(t *testing.T) {
	l := threeChats()

	// Inbound peer message: unread 0 -> 1, moved to top.
	l.Bump("r3", inbound("r3", "peer-r3"), "self")
	if c := l.Get("r3"); c.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", c.UnreadCount)
	}

	// Echo of own send: lastMessage updates, unread and order hold.
	echo := inbound("r3", "self")
	echo.ID = "m-echo"
	l.UpdateLastMessage(echo)

	c := l.Get("r3")
	if c.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 (echo must not increment)", c.UnreadCount)
	}
	if c.LastMessage != echo {
		t.Error("lastMessage not updated by echo")
	}
	if l.AllChats()[0].ID != "r3" {
		t.Error("order changed by echo")
	}
}

func TestFilter(t *testing.T) {
	l := threeChats()

	l.Filter("ali")
	got := l.Chats()
	if len(got) != 1 || got[0].PeerName != "Alice Doe" {
		t.Fatalf("Filter(ali) = %v chats, want only Alice", len(got))
	}
	// Full view untouched.
	if len(l.AllChats()) != 3 {
		t.Error("full view mutated by filter")
	}

	l.Filter("")
	if len(l.Chats()) != 3 {
		t.Error("empty query did not restore the full view")
	}
}

func TestFilterMatchesCustomNameFirst(t *testing.T) {
	l := threeChats()
	l.Rename("r2", "Work stuff")

	l.Filter("work")
	got := l.Chats()
	if len(got) != 1 || got[0].ID != "r2" {
		t.Errorf("Filter(work) should match custom name, got %d chats", len(got))
	}

	// The custom name shadows the peer name.
	l.Filter("bob")
	if len(l.Chats()) != 0 {
		t.Error("Filter(bob) should not match a renamed chat")
	}
}

func TestRenameBothViews(t *testing.T) {
	l := threeChats()
	l.Rename("r1", "Family")

	if l.Get("r1").Name != "Family" {
		t.Error("rename not applied")
	}
	if l.Get("r1").DisplayName() != "Family" {
		t.Error("display name should use custom label")
	}

	// Clearing falls back to the counterpart name.
	l.Rename("r1", "")
	if l.Get("r1").DisplayName() != "Alice Doe" {
		t.Errorf("display name = %q, want Alice Doe", l.Get("r1").DisplayName())
	}
}

func TestAddIdempotent(t *testing.T) {
	l := threeChats()

	if l.Add(chat("r1", "Alice Again")) {
		t.Error("Add() existing id = true, want false")
	}
	if len(l.AllChats()) != 3 {
		t.Error("duplicate add changed the list")
	}

	if !l.Add(chat("r4", "Dave")) {
		t.Error("Add() new id = false, want true")
	}
	if len(l.AllChats()) != 4 || len(l.Chats()) != 4 {
		t.Error("add did not land in both views")
	}
}

func TestSetUnreadCount(t *testing.T) {
	l := threeChats()
	l.Bump("r1", inbound("r1", "peer-r1"), "self")

	l.SetUnreadCount("r1", 0)
	if got := l.Get("r1").UnreadCount; got != 0 {
		t.Errorf("unread = %d, want 0", got)
	}
}

func TestSetAllResetsFilter(t *testing.T) {
	l := threeChats()
	l.Filter("ali")

	l.SetAll([]*Chat{chat("x1", "Xavier")})
	if len(l.Chats()) != 1 {
		t.Error("SetAll should replace the filtered view as well")
	}
}
