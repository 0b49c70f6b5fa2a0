package preview

import (
	"context"
	"errors"

	"github.com/gsouza97/converse/internal/channel"
	"github.com/gsouza97/converse/internal/state"
	"github.com/gsouza97/converse/internal/store"
	"go.uber.org/zap"
)

// ErrEmptySelection is returned when a forward has no target chats.
var ErrEmptySelection = errors.New("no chats selected")

// Emitter is the slice of the channel the forwarder needs.
type Emitter interface {
	EmitWithAck(ctx context.Context, event string, payload any) (channel.Ack, error)
}

// ForwardFailure records one rejected emission of the fanout.
type ForwardFailure struct {
	RoomID    string
	MessageID string
	Err       error
}

// Forwarder fans selected messages out to selected chats.
type Forwarder struct {
	logger *zap.Logger
}

// NewForwarder creates a forwarder.
func NewForwarder(logger *zap.Logger) *Forwarder {
	return &Forwarder{logger: logger}
}

// Forward emits one sendMessage per (target chat x selected message) pair.
// Partial failure does not roll back the emissions that succeeded; the
// failures come back for the caller to surface.
func (f *Forwarder) Forward(ctx context.Context, em Emitter, targets []*state.Chat, msgs []*store.Message) ([]ForwardFailure, error) {
	if len(targets) == 0 {
		return nil, ErrEmptySelection
	}

	var failures []ForwardFailure
	for _, chat := range targets {
		for _, msg := range msgs {
			req := channel.SendMessageRequest{
				RoomID:      chat.ID,
				Content:     msg.Content,
				MessageType: string(msg.Type),
				MessageName: msg.Name,
				MessageSize: msg.Size,
			}
			ack, err := em.EmitWithAck(ctx, channel.EventSendMessage, req)
			if err == nil && !ack.Success {
				err = errors.New(ack.Message)
			}
			if err != nil {
				f.logger.Warn("forward emission rejected",
					zap.String("room_id", chat.ID),
					zap.String("msg_id", msg.ID),
					zap.Error(err))
				failures = append(failures, ForwardFailure{RoomID: chat.ID, MessageID: msg.ID, Err: err})
			}
		}
	}
	return failures, nil
}
