// Package syncer reconciles inbound channel events into the in-memory
// state and the persistent cache. All state mutation happens on the
// engine's single dispatch goroutine, in the order the channel delivered
// the events.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gsouza97/converse/internal/api"
	"github.com/gsouza97/converse/internal/bus"
	"github.com/gsouza97/converse/internal/channel"
	"github.com/gsouza97/converse/internal/download"
	"github.com/gsouza97/converse/internal/preview"
	"github.com/gsouza97/converse/internal/state"
	"github.com/gsouza97/converse/internal/status"
	"github.com/gsouza97/converse/internal/store"
	"go.uber.org/zap"
)

// ErrChannelUnavailable is returned for operations that need a live channel
// while disconnected.
var ErrChannelUnavailable = errors.New("channel unavailable")

// Emitter is the slice of the channel the engine emits through.
type Emitter interface {
	Emit(event string, payload any) error
	EmitWithAck(ctx context.Context, event string, payload any) (channel.Ack, error)
}

// selfIDKey caches the logged-in user id across restarts.
const selfIDKey = "self_id"

// Engine applies channel events to the message store, the chat list and
// the cache.
type Engine struct {
	messages  *state.MessageStore
	chats     *state.ChatList
	db        *store.DB
	users     UserLookup
	emit      func() Emitter
	machine   *status.Machine
	downloads *download.Queue
	forwarder *preview.Forwarder
	bus       *bus.Bus
	logger    *zap.Logger

	// mu guards selfID and activeRoom: both are written from consumer
	// goroutines and read on the dispatch goroutine.
	mu         sync.Mutex
	selfID     string
	activeRoom string

	cancel context.CancelFunc
}

// UserLookup resolves counterpart profiles for room enrichment.
type UserLookup interface {
	UserByID(ctx context.Context, id string) (*api.User, error)
}

// NewEngine creates a sync engine. emit yields the current channel, nil
// while disconnected.
func NewEngine(messages *state.MessageStore, chats *state.ChatList, db *store.DB, users UserLookup, emit func() Emitter, machine *status.Machine, downloads *download.Queue, forwarder *preview.Forwarder, b *bus.Bus, logger *zap.Logger) *Engine {
	e := &Engine{
		messages:  messages,
		chats:     chats,
		db:        db,
		users:     users,
		emit:      emit,
		machine:   machine,
		downloads: downloads,
		forwarder: forwarder,
		bus:       b,
		logger:    logger,
	}
	if db != nil {
		if id, err := db.GetSyncState(selfIDKey); err == nil {
			e.selfID = id
		}
	}
	return e
}

// SetSelf records the logged-in user id used to tell echoes of own sends
// from peer messages.
func (e *Engine) SetSelf(id string) {
	e.mu.Lock()
	e.selfID = id
	e.mu.Unlock()
	if e.db != nil && id != "" {
		if err := e.db.SetSyncState(selfIDKey, id); err != nil {
			e.logger.Warn("failed to persist self id", zap.Error(err))
		}
	}
}

// SelfID returns the logged-in user id.
func (e *Engine) SelfID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selfID
}

// Downloads exposes the media download queue to the consumer.
func (e *Engine) Downloads() *download.Queue {
	return e.downloads
}

// Start subscribes to channel events on the bus and drains them in order.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(channel.KindPrefix, 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case channel.KindConnected:
		e.handleConnected()
	case channel.KindDisconnected:
		_ = e.machine.Transition(status.Reconnecting)
	case channel.KindPrefix + channel.EventNewMessage:
		data, ok := evt.Payload.(json.RawMessage)
		if !ok {
			return
		}
		var payload channel.MessagePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			e.logger.Warn("bad newMessage payload", zap.Error(err))
			return
		}
		e.HandleNewMessage(payload.ToStoreMessage(), payload.ClientMsgID)
	case channel.KindPrefix + channel.EventChatRooms:
		data, ok := evt.Payload.(json.RawMessage)
		if !ok {
			return
		}
		var rooms []channel.RoomPayload
		if err := json.Unmarshal(data, &rooms); err != nil {
			e.logger.Warn("bad getChatRooms payload", zap.Error(err))
			return
		}
		e.HandleRoomList(rooms)
	case channel.KindPrefix + channel.EventRoomNameChanged:
		data, ok := evt.Payload.(json.RawMessage)
		if !ok {
			return
		}
		var payload channel.RoomNamePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			e.logger.Warn("bad roomNameChanged payload", zap.Error(err))
			return
		}
		e.HandleRoomRenamed(payload.ID, payload.Name)
	case channel.KindPrefix + channel.EventJoinRoomSuccess:
		data, ok := evt.Payload.(json.RawMessage)
		if !ok {
			return
		}
		var payload channel.JoinRoomSuccessPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			e.logger.Warn("bad joinRoomSuccess payload", zap.Error(err))
			return
		}
		e.HandleRoomJoined(&payload.Room)
	}
}

// handleConnected runs the reconnect resync: the channel buffers nothing
// while disconnected, so the room list is re-fetched and the active room
// re-joined.
func (e *Engine) handleConnected() {
	cur := e.machine.Current()
	if cur == status.Connecting || cur == status.Reconnecting {
		_ = e.machine.Transition(status.Ready)
	}

	em := e.emitter()
	if em == nil {
		return
	}
	if err := em.Emit(channel.EventChatRooms, struct{}{}); err != nil {
		e.logger.Warn("room list refetch failed", zap.Error(err))
	}

	e.mu.Lock()
	room := e.activeRoom
	e.mu.Unlock()
	if room != "" {
		if chat := e.chats.Get(room); chat != nil && chat.PeerID != "" {
			if err := em.Emit(channel.EventJoinRoom, channel.JoinRoomRequest{User2ID: chat.PeerID}); err != nil {
				e.logger.Warn("room rejoin failed", zap.Error(err), zap.String("room_id", room))
			}
		}
	}
	if err := e.db.SetSyncState("last_connected_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn("failed to persist sync checkpoint", zap.Error(err))
	}
}

// HandleNewMessage applies one inbound message: idempotent insert, chat
// list bump or own-echo preview update, then best-effort cache commit.
// clientMsgID is the temporary send id the server echoes back, empty for
// peer messages.
func (e *Engine) HandleNewMessage(msg *store.Message, clientMsgID string) {
	if msg == nil || msg.RoomID == "" {
		return
	}
	selfID := e.SelfID()

	// An echo of an optimistic send may race its ack: adopt the server id
	// onto the pending copy instead of inserting a duplicate bubble.
	if msg.SenderID == selfID {
		e.adoptEcho(msg, clientMsgID)
	}

	if !e.messages.Insert(msg) {
		// Duplicate delivery after a reconnect; already applied.
		return
	}

	if msg.SenderID == selfID {
		e.chats.UpdateLastMessage(msg)
	} else {
		e.chats.Bump(msg.RoomID, msg, selfID)
	}

	if msg.Type != store.TypeText && e.downloads != nil {
		e.downloads.Enqueue(msg.ID)
	}

	// Cache is best-effort: memory stays authoritative for the session.
	if err := e.db.AppendMessage(msg); err != nil {
		e.logger.Warn("cache append failed", zap.Error(err), zap.String("msg_id", msg.ID))
	}
	e.persistChatRow(msg.RoomID)

	e.bus.Publish(bus.Event{
		Kind:      "message.upserted",
		Room:      msg.RoomID,
		Timestamp: time.Now(),
		Payload:   msg,
	})
}

// adoptEcho rekeys an optimistic message onto the server-assigned id when
// the echo of an own send arrives before (or instead of) the ack. The
// echoed client id pins the exact send; without one, fall back to the
// oldest pending message with the same content.
func (e *Engine) adoptEcho(msg *store.Message, clientMsgID string) {
	if clientMsgID != "" {
		if e.messages.Rekey(msg.RoomID, clientMsgID, msg.ID) {
			e.messages.UpdateStatus(msg.RoomID, msg.ID, store.StatusSent)
		}
		return
	}
	for _, m := range e.messages.Messages(msg.RoomID) {
		if m.Status == store.StatusPending && m.Content == msg.Content && m.Type == msg.Type {
			if e.messages.Rekey(msg.RoomID, m.ID, msg.ID) {
				e.messages.UpdateStatus(msg.RoomID, msg.ID, store.StatusSent)
			}
			return
		}
	}
}

// HandleRoomList replaces the conversation list, enriching rooms whose
// counterpart profile the server did not denormalize.
func (e *Engine) HandleRoomList(rooms []channel.RoomPayload) {
	selfID := e.SelfID()
	chats := make([]*state.Chat, 0, len(rooms))
	for i := range rooms {
		chat := rooms[i].ToChat(selfID)
		if chat.PeerName == "" && chat.PeerID != "" && e.users != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			user, err := e.users.UserByID(ctx, chat.PeerID)
			cancel()
			if err != nil {
				e.logger.Warn("peer lookup failed", zap.Error(err), zap.String("peer_id", chat.PeerID))
			} else {
				chat.PeerName = user.FullName
			}
		}
		chats = append(chats, chat)
	}

	e.chats.SetAll(chats)

	for _, chat := range chats {
		e.persistChat(chat)
	}

	e.bus.Publish(bus.Event{Kind: "chats.replaced", Timestamp: time.Now(), Payload: len(chats)})
}

// HandleRoomRenamed applies a rename notification to both views and the cache.
func (e *Engine) HandleRoomRenamed(roomID, name string) {
	e.chats.Rename(roomID, name)
	if err := e.db.SetChatName(roomID, name); err != nil {
		e.logger.Warn("cache rename failed", zap.Error(err), zap.String("room_id", roomID))
	}
	e.bus.Publish(bus.Event{Kind: "chats.renamed", Room: roomID, Timestamp: time.Now(), Payload: name})
}

// HandleRoomJoined adds a just-joined conversation and announces it so the
// consumer can navigate into it.
func (e *Engine) HandleRoomJoined(room *channel.RoomPayload) {
	chat := room.ToChat(e.SelfID())
	e.chats.Add(chat)
	e.persistChat(chat)
	e.bus.Publish(bus.Event{Kind: "chats.joined", Room: chat.ID, Timestamp: time.Now(), Payload: chat.ID})
}

func (e *Engine) persistChat(chat *state.Chat) {
	row := &store.Chat{
		RoomID:      chat.ID,
		Name:        chat.Name,
		PeerID:      chat.PeerID,
		PeerName:    chat.PeerName,
		UnreadCount: chat.UnreadCount,
	}
	if chat.LastMessage != nil {
		row.LastMessageAt = chat.LastMessage.CreatedAt
		row.LastMessagePreview = previewText(chat.LastMessage)
	}
	if err := e.db.UpsertChat(row); err != nil {
		e.logger.Warn("cache chat upsert failed", zap.Error(err), zap.String("room_id", chat.ID))
	}
}

func (e *Engine) persistChatRow(roomID string) {
	if chat := e.chats.Get(roomID); chat != nil {
		e.persistChat(chat)
	}
}

func previewText(m *store.Message) string {
	if m.Type == store.TypeText {
		return truncate(m.Content, 100)
	}
	return string(m.Type)
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}

func (e *Engine) emitter() Emitter {
	if e.emit == nil {
		return nil
	}
	return e.emit()
}
