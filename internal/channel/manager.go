package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gsouza97/converse/internal/bus"
	"go.uber.org/zap"
)

// ErrNoSession means no valid session token is available. The caller must
// not retry automatically; the channel simply stays unavailable and the
// consumer degrades to cached data.
var ErrNoSession = errors.New("no session token")

// TokenSource yields the current session token, empty when logged out.
type TokenSource interface {
	Token() (string, error)
}

// Manager owns the single live channel for a session. Connecting while a
// channel is active tears the old one down first: exactly one underlying
// transport per logged-in session.
type Manager struct {
	url    string
	tokens TokenSource
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	current *Channel
}

// NewManager creates a channel manager for the given websocket URL.
func NewManager(url string, tokens TokenSource, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		url:    url,
		tokens: tokens,
		bus:    b,
		logger: logger,
	}
}

// Connect establishes the live channel. Returns ErrNoSession when there is
// no token; any previously active channel is torn down first.
func (m *Manager) Connect(ctx context.Context) (*Channel, error) {
	token, err := m.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("read session token: %w", err)
	}
	if token == "" {
		return nil, ErrNoSession
	}

	m.mu.Lock()
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
	m.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, m.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial channel: %w", err)
	}

	ch := newChannel(conn, m.bus, m.logger)
	m.mu.Lock()
	m.current = ch
	m.mu.Unlock()

	go ch.readPump()
	go ch.pingLoop()

	m.logger.Info("channel connected", zap.String("url", m.url))
	m.bus.Publish(bus.Event{Kind: KindConnected, Timestamp: time.Now()})
	return ch, nil
}

// Current returns the active channel, nil when disconnected.
func (m *Manager) Current() *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		select {
		case <-m.current.done:
			return nil
		default:
		}
	}
	return m.current
}

// Disconnect tears down the active channel, if any.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}
