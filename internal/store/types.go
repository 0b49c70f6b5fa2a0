package store

// MessageStatus is the lifecycle state of a message. Transitions only move
// forward (Pending -> Sent -> Received -> Read); Failed is a client-local
// terminal state for sends the server rejected.
type MessageStatus string

const (
	StatusPending  MessageStatus = "PENDING"
	StatusSent     MessageStatus = "SENT"
	StatusReceived MessageStatus = "RECEIVED"
	StatusRead     MessageStatus = "READ"
	StatusFailed   MessageStatus = "FAILED"
)

// statusRank orders statuses for forward-only transition checks.
var statusRank = map[MessageStatus]int{
	StatusPending:  0,
	StatusSent:     1,
	StatusReceived: 2,
	StatusRead:     3,
}

// Advances reports whether moving from to next is a forward transition.
func (s MessageStatus) Advances(next MessageStatus) bool {
	if next == StatusFailed {
		return s == StatusPending
	}
	return statusRank[next] > statusRank[s]
}

// MessageType classifies the message payload.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVideo MessageType = "video"
	TypeAudio MessageType = "audio"
	TypeFile  MessageType = "file"
)

// ParentRef points at the message a reply targets. When the parent is
// unsent, IsDeleted is set and Type/Content stay behind so reply previews
// can still render ("tombstone").
type ParentRef struct {
	ID        string
	Type      MessageType
	Content   string
	IsDeleted bool
}

// Message is a single chat message as seen by the client.
type Message struct {
	ID        string
	RoomID    string
	SenderID  string
	Parent    *ParentRef
	Type      MessageType
	Content   string
	Name      string // original file name, non-text types only
	Size      int64  // payload size in bytes, non-text types only
	Status    MessageStatus
	CreatedAt int64 // unix ms
	UpdatedAt int64 // unix ms
}

// Chat is a cached conversation row.
type Chat struct {
	RoomID             string
	Name               string // custom label, empty falls back to peer name
	PeerID             string
	PeerName           string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// OutboxEntry represents a pending optimistic send.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	RoomID       string
	Body         string
	MessageType  string
	ParentMsgID  string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}
