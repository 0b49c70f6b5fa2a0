// Package channel owns the live bidirectional event channel to the chat
// server. Frames are JSON envelopes over a single websocket; inbound
// frames are dispatched to registered handlers and republished on the bus
// in delivery order.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gsouza97/converse/internal/bus"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	ackTimeout     = 15 * time.Second
)

// ErrClosed is returned for operations on a torn-down channel.
var ErrClosed = errors.New("channel closed")

// Frame is the JSON envelope every channel message travels in. AckID is
// set on outbound frames expecting an acknowledgment; the server answers
// with an "ack" frame carrying the same id.
type Frame struct {
	Event string          `json:"event"`
	AckID string          `json:"ack_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack is the server's answer to an ack-bearing emit. ID optionally carries
// a server-assigned resource id (e.g. the real message id of a send).
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
}

const ackEvent = "ack"

// Handler receives the raw data of an inbound frame.
type Handler func(data json.RawMessage)

type handlerEntry struct {
	id int
	fn Handler
}

// Channel is a single live connection. Create via Manager.Connect.
type Channel struct {
	conn   *websocket.Conn
	bus    *bus.Bus
	logger *zap.Logger

	writeMu sync.Mutex // gorilla conns allow one concurrent writer

	mu        sync.Mutex
	handlers  map[string][]handlerEntry
	pending   map[string]chan Ack
	nextSub   int
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

func newChannel(conn *websocket.Conn, b *bus.Bus, logger *zap.Logger) *Channel {
	return &Channel{
		conn:     conn,
		bus:      b,
		logger:   logger,
		handlers: make(map[string][]handlerEntry),
		pending:  make(map[string]chan Ack),
		done:     make(chan struct{}),
	}
}

// On registers a handler for an inbound event. Returns an unsubscribe
// function; a component must call every unsubscribe it holds on teardown
// or a stale handler keeps firing into it.
func (c *Channel) On(event string, fn Handler) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		entries := c.handlers[event]
		for i, e := range entries {
			if e.id == id {
				c.handlers[event] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
}

// Emit sends a fire-and-forget frame.
func (c *Channel) Emit(event string, payload any) error {
	return c.writeFrame(event, "", payload)
}

// EmitWithAck sends a frame and waits for the server's acknowledgment.
func (c *Channel) EmitWithAck(ctx context.Context, event string, payload any) (Ack, error) {
	ackID := uuid.New().String()
	ackCh := make(chan Ack, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Ack{}, ErrClosed
	}
	c.pending[ackID] = ackCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, ackID)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(event, ackID, payload); err != nil {
		return Ack{}, err
	}

	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()
	select {
	case ack := <-ackCh:
		return ack, nil
	case <-timer.C:
		return Ack{}, errors.New("ack timeout")
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	case <-c.done:
		return Ack{}, ErrClosed
	}
}

func (c *Channel) writeFrame(event, ackID string, payload any) error {
	frame := Frame{Event: event, AckID: ackID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		frame.Data = data
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(frame)
}

// Close tears down the connection, all subscriptions and every pending
// ack. Safe to call multiple times from any goroutine.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.handlers = make(map[string][]handlerEntry)
		close(c.done)
		c.mu.Unlock()

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

// Done is closed when the channel has been torn down.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// readPump drains the connection. Frames are handled strictly in delivery
// order on this goroutine; the core does not reorder by timestamp.
func (c *Channel) readPump() {
	defer func() {
		c.Close()
		c.bus.Publish(bus.Event{Kind: KindDisconnected, Timestamp: time.Now()})
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("channel read error", zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("channel frame decode error", zap.Error(err))
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Channel) dispatch(frame Frame) {
	if frame.Event == ackEvent && frame.AckID != "" {
		var ack Ack
		if err := json.Unmarshal(frame.Data, &ack); err != nil {
			c.logger.Warn("channel ack decode error", zap.Error(err), zap.String("ack_id", frame.AckID))
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[frame.AckID]
		c.mu.Unlock()
		if ok {
			ch <- ack
		}
		return
	}

	c.mu.Lock()
	entries := make([]handlerEntry, len(c.handlers[frame.Event]))
	copy(entries, c.handlers[frame.Event])
	c.mu.Unlock()
	for _, e := range entries {
		e.fn(frame.Data)
	}

	c.bus.Publish(bus.Event{
		Kind:      KindPrefix + frame.Event,
		Timestamp: time.Now(),
		Payload:   frame.Data,
	})
}

// pingLoop keeps the connection alive until teardown.
func (c *Channel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
