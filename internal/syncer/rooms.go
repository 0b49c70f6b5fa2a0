package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/gsouza97/converse/internal/bus"
	"github.com/gsouza97/converse/internal/channel"
	"github.com/gsouza97/converse/internal/preview"
	"github.com/gsouza97/converse/internal/state"
	"github.com/gsouza97/converse/internal/store"
	"go.uber.org/zap"
)

// Consumer-facing operations. These run on whatever goroutine the consumer
// calls from; the state containers tolerate that, and anything touching the
// channel is a plain emit.

// OpenRoom makes roomID the active conversation: loads the cached log into
// the message store, clears the unread counter and re-joins the room so
// live events flow.
func (e *Engine) OpenRoom(ctx context.Context, roomID string) ([]*store.Message, error) {
	msgs, err := e.db.MessagesForRoom(roomID)
	if err != nil {
		// Cache miss degrades to an empty log; the room list still works.
		e.logger.Warn("cache load failed", zap.Error(err), zap.String("room_id", roomID))
		msgs = []*store.Message{}
	}
	e.messages.ReplaceAll(roomID, msgs)
	e.mu.Lock()
	e.activeRoom = roomID
	e.mu.Unlock()

	e.chats.SetUnreadCount(roomID, 0)
	if err := e.db.SetChatUnread(roomID, 0); err != nil {
		e.logger.Warn("cache unread reset failed", zap.Error(err), zap.String("room_id", roomID))
	}

	if em := e.emitter(); em != nil {
		if chat := e.chats.Get(roomID); chat != nil && chat.PeerID != "" {
			if err := em.Emit(channel.EventJoinRoom, channel.JoinRoomRequest{User2ID: chat.PeerID}); err != nil {
				e.logger.Warn("join emit failed", zap.Error(err), zap.String("room_id", roomID))
			}
		}
	}

	return msgs, nil
}

// CloseRoom clears the active conversation.
func (e *Engine) CloseRoom() {
	e.mu.Lock()
	e.activeRoom = ""
	e.mu.Unlock()
}

// MarkRead flips the listed messages to READ in memory and in the cache.
// Unknown ids are ignored.
func (e *Engine) MarkRead(roomID string, ids []string) {
	changed := e.messages.MarkRead(roomID, ids)
	if len(changed) == 0 {
		return
	}
	if err := e.db.MarkMessagesRead(roomID, changed); err != nil {
		e.logger.Warn("cache mark read failed", zap.Error(err), zap.String("room_id", roomID))
	}
	e.bus.Publish(bus.Event{Kind: "message.read", Room: roomID, Timestamp: time.Now(), Payload: changed})
}

// Unsend removes a message from the log. Replies that pointed at it keep a
// tombstoned parent reference so their previews can still render.
func (e *Engine) Unsend(roomID, msgID string) {
	if !e.messages.Remove(roomID, msgID) {
		return
	}
	if err := e.db.RemoveMessage(roomID, msgID); err != nil {
		e.logger.Warn("cache remove failed", zap.Error(err), zap.String("msg_id", msgID))
	}
	e.bus.Publish(bus.Event{Kind: "message.removed", Room: roomID, Timestamp: time.Now(), Payload: msgID})
}

// RequestRoomList asks the server to push the conversation list.
func (e *Engine) RequestRoomList() error {
	em := e.emitter()
	if em == nil {
		return ErrChannelUnavailable
	}
	return em.Emit(channel.EventChatRooms, struct{}{})
}

// JoinRoom asks the server for a one-to-one room with another user. The
// conversation itself arrives on the joinRoomSuccess event.
func (e *Engine) JoinRoom(user2ID string) error {
	em := e.emitter()
	if em == nil {
		return ErrChannelUnavailable
	}
	return em.Emit(channel.EventJoinRoom, channel.JoinRoomRequest{User2ID: user2ID})
}

// ChangeRoomName renames a conversation through the server. The local name
// only changes once the server acknowledges; a rejected rename leaves it
// untouched and the server's message comes back as the error.
func (e *Engine) ChangeRoomName(ctx context.Context, roomID, name string) error {
	em := e.emitter()
	if em == nil {
		return ErrChannelUnavailable
	}
	ack, err := em.EmitWithAck(ctx, channel.EventChangeRoomName, channel.ChangeRoomNameRequest{RoomID: roomID, Name: name})
	if err != nil {
		return err
	}
	if !ack.Success {
		return errors.New(ack.Message)
	}
	e.HandleRoomRenamed(roomID, name)
	return nil
}

// Forward fans the selected messages of roomID out to the selected target
// conversations. Unknown target or message ids are skipped; partial
// failures come back without rolling back the emissions that succeeded.
func (e *Engine) Forward(ctx context.Context, roomID string, msgIDs, targetRoomIDs []string) ([]preview.ForwardFailure, error) {
	em := e.emitter()
	if em == nil {
		return nil, ErrChannelUnavailable
	}
	targets := make([]*state.Chat, 0, len(targetRoomIDs))
	for _, id := range targetRoomIDs {
		if c := e.chats.Get(id); c != nil {
			targets = append(targets, c)
		}
	}
	msgs := make([]*store.Message, 0, len(msgIDs))
	for _, id := range msgIDs {
		if m := e.messages.Get(roomID, id); m != nil {
			msgs = append(msgs, m)
		}
	}
	return e.forwarder.Forward(ctx, em, targets, msgs)
}

// RequestDownload queues (or re-queues) the media transfer for a message.
func (e *Engine) RequestDownload(msgID string) bool {
	return e.downloads.Enqueue(msgID)
}

// BackgroundTheme returns the persisted chat background identifier.
func (e *Engine) BackgroundTheme() string {
	theme, err := e.db.GetSetting(store.BackgroundThemeKey)
	if err != nil {
		e.logger.Warn("theme read failed", zap.Error(err))
		return ""
	}
	return theme
}

// SetBackgroundTheme persists the chat background identifier.
func (e *Engine) SetBackgroundTheme(theme string) {
	if err := e.db.SetSetting(store.BackgroundThemeKey, theme); err != nil {
		e.logger.Warn("theme write failed", zap.Error(err))
	}
}
