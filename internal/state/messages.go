// Package state holds the in-memory view of conversations and messages.
// It is the authoritative store for the current session; the SQLite cache
// is best-effort persistence for cold starts. All mutation happens on the
// syncer dispatch goroutine, the mutexes only guard concurrent readers.
package state

import (
	"sort"
	"sync"

	"github.com/gsouza97/converse/internal/store"
)

// MessageStore keeps an ordered, deduplicated message log per room.
type MessageStore struct {
	mu   sync.RWMutex
	logs map[string][]*store.Message
}

// NewMessageStore creates an empty message store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		logs: make(map[string][]*store.Message),
	}
}

// Insert adds a message to its room's log, preserving chronological order
// with ties broken by insertion order. Returns false without mutating
// anything if the id is already present: the same inbound event may be
// delivered twice after a reconnect.
func (s *MessageStore) Insert(msg *store.Message) bool {
	if msg == nil || msg.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[msg.RoomID]
	for _, m := range log {
		if m.ID == msg.ID {
			return false
		}
	}

	// First index with a strictly later timestamp; equal timestamps keep
	// the earlier insert first.
	i := sort.Search(len(log), func(i int) bool {
		return log[i].CreatedAt > msg.CreatedAt
	})
	log = append(log, nil)
	copy(log[i+1:], log[i:])
	log[i] = msg
	s.logs[msg.RoomID] = log
	return true
}

// Get returns the message with the given id, nil when absent.
func (s *MessageStore) Get(roomID, id string) *store.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.logs[roomID] {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// Messages returns a copy of the room's log in chronological order.
func (s *MessageStore) Messages(roomID string) []*store.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[roomID]
	out := make([]*store.Message, len(log))
	copy(out, log)
	return out
}

// MarkRead flips every listed message to READ. Ids not present in the log
// are ignored. Returns the ids that actually changed.
func (s *MessageStore) MarkRead(roomID string, ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	for _, m := range s.logs[roomID] {
		if _, ok := want[m.ID]; ok && m.Status != store.StatusRead {
			m.Status = store.StatusRead
			changed = append(changed, m.ID)
		}
	}
	return changed
}

// UpdateStatus advances a message's lifecycle status. Backward transitions
// are rejected; unknown ids are a no-op. Returns whether anything changed.
func (s *MessageStore) UpdateStatus(roomID, id string, status store.MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.logs[roomID] {
		if m.ID == id {
			if !m.Status.Advances(status) {
				return false
			}
			m.Status = status
			return true
		}
	}
	return false
}

// Rekey replaces a message's temporary client id with the server-assigned
// one once the send is acknowledged. No-op if the old id is absent or the
// new id already exists (the echo arrived first).
func (s *MessageStore) Rekey(roomID, oldID, newID string) bool {
	if oldID == newID || newID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[roomID]
	for _, m := range log {
		if m.ID == newID {
			return false
		}
	}
	for _, m := range log {
		if m.ID == oldID {
			m.ID = newID
			return true
		}
	}
	return false
}

// Remove deletes a message from the log and tombstones every reply that
// pointed at it: the parent reference keeps its type information so the
// preview can still say what was there.
func (s *MessageStore) Remove(roomID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[roomID]
	idx := -1
	for i, m := range log {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	s.logs[roomID] = append(log[:idx], log[idx+1:]...)
	for _, m := range s.logs[roomID] {
		if m.Parent != nil && m.Parent.ID == id {
			m.Parent.IsDeleted = true
		}
	}
	return true
}

// ReplaceAll swaps the entire log for a room, used for cache loads and
// initial fetches.
func (s *MessageStore) ReplaceAll(roomID string, msgs []*store.Message) {
	log := make([]*store.Message, len(msgs))
	copy(log, msgs)
	s.mu.Lock()
	s.logs[roomID] = log
	s.mu.Unlock()
}
