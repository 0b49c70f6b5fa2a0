// Package outbox drains optimistic sends through the live channel. A send
// is visible immediately as a PENDING message under a temporary client id;
// the server's acknowledgment promotes it to SENT under the real id.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gsouza97/converse/internal/bus"
	"github.com/gsouza97/converse/internal/channel"
	"github.com/gsouza97/converse/internal/state"
	"github.com/gsouza97/converse/internal/store"
	"go.uber.org/zap"
)

// Emitter is the slice of the channel the sender needs.
type Emitter interface {
	EmitWithAck(ctx context.Context, event string, payload any) (channel.Ack, error)
}

// Sender drains the outbox and sends messages through the channel.
type Sender struct {
	db       *store.DB
	messages *state.MessageStore
	chats    *state.ChatList
	emit     func() Emitter
	bus      *bus.Bus
	logger   *zap.Logger
	selfID   func() string
	cancel   context.CancelFunc
}

// NewSender creates an outbox sender. emit yields the current channel,
// nil while disconnected; selfID yields the logged-in user id.
func NewSender(db *store.DB, messages *state.MessageStore, chats *state.ChatList, emit func() Emitter, selfID func() string, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:       db,
		messages: messages,
		chats:    chats,
		emit:     emit,
		selfID:   selfID,
		bus:      b,
		logger:   logger,
	}
}

// Queue accepts a new outbound message and returns its temporary client id.
func (s *Sender) Queue(roomID, content string, msgType store.MessageType, parentMsgID string) (string, error) {
	clientMsgID := uuid.New().String()
	err := s.db.QueueOutbox(&store.OutboxEntry{
		ClientMsgID: clientMsgID,
		RoomID:      roomID,
		Body:        content,
		MessageType: string(msgType),
		ParentMsgID: parentMsgID,
	})
	if err != nil {
		return "", err
	}
	return clientMsgID, nil
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	em := s.emit()
	if em == nil {
		// Disconnected; entries stay queued until the channel is back.
		return
	}

	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		// Optimistic insert: the message shows up immediately as PENDING.
		now := time.Now().UnixMilli()
		msg := &store.Message{
			ID:        entry.ClientMsgID,
			RoomID:    entry.RoomID,
			SenderID:  s.selfID(),
			Type:      store.MessageType(entry.MessageType),
			Content:   entry.Body,
			Status:    store.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if entry.ParentMsgID != "" {
			if parent := s.messages.Get(entry.RoomID, entry.ParentMsgID); parent != nil {
				msg.Parent = &store.ParentRef{ID: parent.ID, Type: parent.Type, Content: parent.Content}
			} else {
				msg.Parent = &store.ParentRef{ID: entry.ParentMsgID, IsDeleted: true}
			}
		}
		s.messages.Insert(msg)
		s.publish("message.upserted", entry.RoomID, msg)

		req := channel.SendMessageRequest{
			RoomID:          entry.RoomID,
			Content:         entry.Body,
			MessageType:     entry.MessageType,
			ParentMessageID: entry.ParentMsgID,
			ClientMsgID:     entry.ClientMsgID,
		}
		ack, err := em.EmitWithAck(ctx, channel.EventSendMessage, req)
		if err == nil && !ack.Success {
			err = errors.New(ack.Message)
		}
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			s.messages.UpdateStatus(entry.RoomID, entry.ClientMsgID, store.StatusFailed)
			s.publish("message.send_failed", entry.RoomID, map[string]string{
				"client_msg_id": entry.ClientMsgID,
				"error":         err.Error(),
			})
			continue
		}

		serverMsgID := ack.ID
		if err := s.db.MarkOutboxSent(entry.ClientMsgID, serverMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		// Adopt the server-assigned id so the echoed copy of this message
		// dedups against it, then promote to SENT.
		if serverMsgID != "" {
			s.messages.Rekey(entry.RoomID, entry.ClientMsgID, serverMsgID)
			msg.ID = serverMsgID
		}
		s.messages.UpdateStatus(entry.RoomID, msg.ID, store.StatusSent)
		s.chats.UpdateLastMessage(msg)

		if err := s.db.AppendMessage(msg); err != nil {
			s.logger.Warn("cache append failed", zap.Error(err), zap.String("msg_id", msg.ID))
		}

		s.logger.Info("message sent",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("server_msg_id", serverMsgID))
		s.publish("message.send_ack", entry.RoomID, map[string]string{
			"client_msg_id": entry.ClientMsgID,
			"server_msg_id": serverMsgID,
		})
	}
}

func (s *Sender) publish(kind, roomID string, payload any) {
	s.bus.Publish(bus.Event{Kind: kind, Room: roomID, Timestamp: time.Now(), Payload: payload})
}
