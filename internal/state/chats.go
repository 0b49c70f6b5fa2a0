package state

import (
	"strings"
	"sync"

	"github.com/gsouza97/converse/internal/store"
)

// Chat is an in-memory conversation entry. Converse chats are strictly
// one-to-one: UserIDs holds both participants, PeerID/PeerName describe
// the counterpart.
type Chat struct {
	ID          string
	Name        string // custom label, empty falls back to PeerName
	UserIDs     [2]string
	PeerID      string
	PeerName    string
	LastMessage *store.Message
	UnreadCount int
}

// DisplayName returns the custom label, falling back to the counterpart's name.
func (c *Chat) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.PeerName
}

// ChatList keeps the ordered conversation list in two parallel views: the
// full set and the currently filtered set. Both views share *Chat values,
// so field updates apply to both; only ordering is tracked separately.
// Bump is the only operation that reorders.
type ChatList struct {
	mu       sync.RWMutex
	all      []*Chat
	filtered []*Chat
	query    string
}

// NewChatList creates an empty chat list.
func NewChatList() *ChatList {
	return &ChatList{}
}

// SetAll replaces both views and clears any active filter.
func (l *ChatList) SetAll(chats []*Chat) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = make([]*Chat, len(chats))
	copy(l.all, chats)
	l.query = ""
	l.filtered = make([]*Chat, len(chats))
	copy(l.filtered, chats)
}

// Filter narrows the filtered view to chats whose display name contains
// query, case-insensitively. An empty query restores the full view. The
// full view is never mutated.
func (l *ChatList) Filter(query string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.query = query
	l.refilter()
}

// refilter rebuilds the filtered view from the full view. Caller holds mu.
func (l *ChatList) refilter() {
	if l.query == "" {
		l.filtered = make([]*Chat, len(l.all))
		copy(l.filtered, l.all)
		return
	}
	q := strings.ToLower(l.query)
	l.filtered = l.filtered[:0]
	for _, c := range l.all {
		if strings.Contains(strings.ToLower(c.DisplayName()), q) {
			l.filtered = append(l.filtered, c)
		}
	}
}

// Bump moves the conversation to the top of both views, sets its last
// message and increments the unread counter. A user's own echoed message
// is a no-op here: it must not bump unread or ordering. An unknown room
// leaves the views unchanged.
func (l *ChatList) Bump(roomID string, msg *store.Message, selfID string) {
	if msg == nil || msg.SenderID == selfID {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var chat *Chat
	if i := indexOf(l.all, roomID); i >= 0 {
		chat = l.all[i]
		moveToFront(l.all, i)
	}
	if i := indexOf(l.filtered, roomID); i >= 0 {
		if chat == nil {
			chat = l.filtered[i]
		}
		moveToFront(l.filtered, i)
	}
	if chat != nil {
		chat.LastMessage = msg
		chat.UnreadCount++
	}
}

// UpdateLastMessage sets the preview message without reordering, used for
// the echo of the user's own sent message.
func (l *ChatList) UpdateLastMessage(msg *store.Message) {
	if msg == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.get(msg.RoomID); c != nil {
		c.LastMessage = msg
	}
}

// SetUnreadCount sets the unread counter to an absolute value, used when a
// conversation is opened and unread is cleared.
func (l *ChatList) SetUnreadCount(roomID string, count int) {
	if count < 0 {
		count = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.get(roomID); c != nil {
		c.UnreadCount = count
	}
}

// Rename updates the custom label in both views. An empty name clears the
// label back to the counterpart fallback.
func (l *ChatList) Rename(roomID, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.get(roomID); c != nil {
		c.Name = name
		l.refilter()
	}
}

// Add appends a conversation to both views. No-op if the id is already
// present.
func (l *ChatList) Add(chat *Chat) bool {
	if chat == nil || chat.ID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.get(chat.ID) != nil {
		return false
	}
	l.all = append(l.all, chat)
	l.filtered = append(l.filtered, chat)
	return true
}

// Get returns the conversation with the given id, nil when absent.
func (l *ChatList) Get(roomID string) *Chat {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.get(roomID)
}

// Chats returns a copy of the filtered view in display order.
func (l *ChatList) Chats() []*Chat {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Chat, len(l.filtered))
	copy(out, l.filtered)
	return out
}

// AllChats returns a copy of the full view in display order.
func (l *ChatList) AllChats() []*Chat {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Chat, len(l.all))
	copy(out, l.all)
	return out
}

func (l *ChatList) get(roomID string) *Chat {
	if i := indexOf(l.all, roomID); i >= 0 {
		return l.all[i]
	}
	return nil
}

func indexOf(chats []*Chat, roomID string) int {
	for i, c := range chats {
		if c.ID == roomID {
			return i
		}
	}
	return -1
}

func moveToFront(chats []*Chat, i int) {
	c := chats[i]
	copy(chats[1:i+1], chats[:i])
	chats[0] = c
}
