package channel

import (
	"github.com/gsouza97/converse/internal/state"
	"github.com/gsouza97/converse/internal/store"
)

// Server event names carried in the frame envelope.
const (
	// Inbound.
	EventNewMessage      = "newMessage"
	EventChatRooms       = "getChatRooms"
	EventRoomNameChanged = "roomNameChanged"
	EventJoinRoomSuccess = "joinRoomSuccess"

	// Outbound.
	EventJoinRoom       = "joinRoom"
	EventSendMessage    = "sendMessage"
	EventChangeRoomName = "changeRoomName"
)

// Bus kinds for channel lifecycle and inbound frames. Inbound frames are
// republished as KindPrefix + event name (e.g. "channel.newMessage").
const (
	KindPrefix       = "channel."
	KindConnected    = "channel.connected"
	KindDisconnected = "channel.disconnected"
)

// ParentPayload is the wire shape of a reply reference.
type ParentPayload struct {
	ID              string `json:"id"`
	MessageType     string `json:"message_type"`
	Content         string `json:"content"`
	IsParentDeleted bool   `json:"is_parent_deleted"`
}

// MessagePayload is the wire shape of a message.
type MessagePayload struct {
	ID            string         `json:"id"`
	RoomID        string         `json:"room_id"`
	SenderID      string         `json:"sender_id"`
	ParentMessage *ParentPayload `json:"parent_message,omitempty"`
	MessageType   string         `json:"message_type"`
	Content       string         `json:"content"`
	MessageName   string         `json:"message_name,omitempty"`
	MessageSize   int64          `json:"message_size,omitempty"`
	Status        string         `json:"status,omitempty"`
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
	// ClientMsgID is echoed back on the sender's own messages so the
	// optimistic copy can be matched to its server id.
	ClientMsgID string `json:"client_message_id,omitempty"`
}

// RoomPayload is the wire shape of a conversation.
type RoomPayload struct {
	ID          string          `json:"id"`
	Name        string          `json:"name,omitempty"`
	UserIDs     []string        `json:"user_ids"`
	PeerID      string          `json:"peer_id,omitempty"`
	PeerName    string          `json:"peer_name,omitempty"`
	LastMessage *MessagePayload `json:"last_message,omitempty"`
	UnreadCount int             `json:"unread_count"`
}

// RoomNamePayload is the wire shape of a rename notification.
type RoomNamePayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// JoinRoomSuccessPayload wraps the room delivered on join.
type JoinRoomSuccessPayload struct {
	Room RoomPayload `json:"room"`
}

// JoinRoomRequest asks the server for a one-to-one room with another user.
type JoinRoomRequest struct {
	User2ID string `json:"user2Id"`
}

// SendMessageRequest is the outbound shape of a send.
type SendMessageRequest struct {
	RoomID          string `json:"roomId"`
	Content         string `json:"content"`
	MessageType     string `json:"message_type"`
	MessageName     string `json:"message_name,omitempty"`
	MessageSize     int64  `json:"message_size,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	ClientMsgID     string `json:"client_message_id,omitempty"`
}

// ChangeRoomNameRequest is the outbound shape of a rename.
type ChangeRoomNameRequest struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

// ToStoreMessage normalizes a wire message for the store and state layers.
func (p *MessagePayload) ToStoreMessage() *store.Message {
	status := store.MessageStatus(p.Status)
	if status == "" {
		status = store.StatusReceived
	}
	msgType := store.MessageType(p.MessageType)
	if msgType == "" {
		msgType = store.TypeText
	}
	var parent *store.ParentRef
	if p.ParentMessage != nil {
		parent = &store.ParentRef{
			ID:        p.ParentMessage.ID,
			Type:      store.MessageType(p.ParentMessage.MessageType),
			Content:   p.ParentMessage.Content,
			IsDeleted: p.ParentMessage.IsParentDeleted,
		}
	}
	return &store.Message{
		ID:        p.ID,
		RoomID:    p.RoomID,
		SenderID:  p.SenderID,
		Parent:    parent,
		Type:      msgType,
		Content:   p.Content,
		Name:      p.MessageName,
		Size:      p.MessageSize,
		Status:    status,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// ToChat normalizes a wire room into an in-memory conversation. selfID
// picks the counterpart out of the participant pair when the server did
// not denormalize it.
func (p *RoomPayload) ToChat(selfID string) *state.Chat {
	c := &state.Chat{
		ID:          p.ID,
		Name:        p.Name,
		PeerID:      p.PeerID,
		PeerName:    p.PeerName,
		UnreadCount: p.UnreadCount,
	}
	for i, id := range p.UserIDs {
		if i < 2 {
			c.UserIDs[i] = id
		}
		if id != selfID && c.PeerID == "" {
			c.PeerID = id
		}
	}
	if p.LastMessage != nil {
		c.LastMessage = p.LastMessage.ToStoreMessage()
	}
	return c
}
