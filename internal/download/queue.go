// Package download tracks queued and in-flight media download requests.
// The queue imposes no concurrency cap; backpressure belongs to the
// transport that performs the transfers.
package download

import (
	"sync"
	"time"

	"github.com/gsouza97/converse/internal/bus"
)

// Status of a download entry.
type Status string

const (
	StatusQueued Status = "queued"
	StatusActive Status = "active"
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// Entry tracks one download, keyed by message id.
type Entry struct {
	MessageID string
	Status    Status
	Progress  float64 // 0..1
	Error     string
}

// Queue holds at most one entry per message id.
type Queue struct {
	mu      sync.Mutex
	entries map[string]*Entry
	bus     *bus.Bus
}

// NewQueue creates an empty download queue.
func NewQueue(b *bus.Bus) *Queue {
	return &Queue{
		entries: make(map[string]*Entry),
		bus:     b,
	}
}

// Enqueue registers a download for the message. Re-enqueuing while an
// entry is queued or active is a no-op; a done or failed entry is reset so
// the download can be retried.
func (q *Queue) Enqueue(messageID string) bool {
	if messageID == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[messageID]; ok && (e.Status == StatusQueued || e.Status == StatusActive) {
		return false
	}
	q.entries[messageID] = &Entry{MessageID: messageID, Status: StatusQueued}
	q.publish("download.queued", messageID)
	return true
}

// MarkActive flips a queued entry to active.
func (q *Queue) MarkActive(messageID string) {
	q.setStatus(messageID, StatusActive, "")
}

// MarkDone completes an entry.
func (q *Queue) MarkDone(messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[messageID]; ok {
		e.Status = StatusDone
		e.Progress = 1
		q.publish("download.done", messageID)
	}
}

// MarkFailed fails an entry with a reason.
func (q *Queue) MarkFailed(messageID, reason string) {
	q.setStatus(messageID, StatusFailed, reason)
}

// SetProgress updates the transfer progress of an entry.
func (q *Queue) SetProgress(messageID string, progress float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[messageID]; ok {
		e.Progress = progress
	}
}

// Entry returns a copy of the entry for a message, zero-ok style.
func (q *Queue) Entry(messageID string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[messageID]; ok {
		return *e, true
	}
	return Entry{}, false
}

// Entries returns a snapshot of all entries.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	return out
}

func (q *Queue) setStatus(messageID string, status Status, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[messageID]; ok {
		e.Status = status
		e.Error = reason
		q.publish("download."+string(status), messageID)
	}
}

// publish emits a download lifecycle event. Caller holds mu.
func (q *Queue) publish(kind, messageID string) {
	if q.bus != nil {
		q.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: messageID})
	}
}
