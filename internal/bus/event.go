package bus

import "time"

// Event represents a domain event published on the bus. Room carries the
// owning conversation id for room-scoped events, empty otherwise.
type Event struct {
	Kind      string
	Room      string
	Timestamp time.Time
	Payload   any
}
