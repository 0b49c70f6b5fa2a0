package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/gsouza97/converse/internal/bus"
	"github.com/gsouza97/converse/internal/channel"
	"github.com/gsouza97/converse/internal/status"
	"go.uber.org/zap"
)

const (
	reconnectBaseDelay = 2 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// reconnector re-establishes the channel after a network loss. It never
// retries the no-session case: without a token the channel simply stays
// down until the user logs in.
type reconnector struct {
	mgr     *channel.Manager
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
}

func newReconnector(mgr *channel.Manager, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *reconnector {
	return &reconnector{mgr: mgr, machine: machine, bus: b, logger: logger}
}

// Start watches for disconnects and dials until the channel is back.
func (r *reconnector) Start(ctx context.Context) {
	ch, unsub := r.bus.Subscribe(channel.KindDisconnected, 8)

	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				r.redial(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *reconnector) redial(ctx context.Context) {
	delay := reconnectBaseDelay
	for {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		_ = r.machine.Transition(status.Connecting)
		_, err := r.mgr.Connect(ctx)
		if err == nil {
			r.logger.Info("channel reconnected")
			return
		}
		if errors.Is(err, channel.ErrNoSession) {
			r.logger.Info("session token gone, giving up reconnect")
			_ = r.machine.Transition(status.NoSession)
			return
		}

		r.logger.Warn("reconnect attempt failed", zap.Error(err), zap.Duration("next_in", delay))
		_ = r.machine.Transition(status.Reconnecting)
		if delay *= 2; delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}
