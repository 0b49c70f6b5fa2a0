package daemon

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gsouza97/converse/internal/api"
	"github.com/gsouza97/converse/internal/bus"
	"github.com/gsouza97/converse/internal/channel"
	"github.com/gsouza97/converse/internal/config"
	"github.com/gsouza97/converse/internal/download"
	"github.com/gsouza97/converse/internal/lock"
	"github.com/gsouza97/converse/internal/logging"
	"github.com/gsouza97/converse/internal/outbox"
	"github.com/gsouza97/converse/internal/preview"
	"github.com/gsouza97/converse/internal/session"
	"github.com/gsouza97/converse/internal/state"
	"github.com/gsouza97/converse/internal/status"
	"github.com/gsouza97/converse/internal/store"
	"github.com/gsouza97/converse/internal/syncer"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ServerURL   string // optional override; empty = config/server default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideServerURL,
			provideTokenStore,
			provideAPIClient,
			provideChannelManager,
			provideMessageStore,
			provideChatList,
			provideDownloadQueue,
			provideForwarder,
			provideEngine,
			provideSender,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

// serverURL is the resolved REST base URL for this run.
type serverURL string

func provideServerURL(p Params) serverURL {
	if p.ServerURL != "" {
		return serverURL(p.ServerURL)
	}
	if cfg, err := config.Load(session.ConfigPath()); err == nil && cfg.ServerURL != "" {
		return serverURL(cfg.ServerURL)
	}
	return serverURL(config.DefaultServerURL)
}

func provideTokenStore(p Params) *session.TokenStore {
	return session.NewTokenStore(p.SessionName)
}

func provideAPIClient(u serverURL, tokens *session.TokenStore, logger *zap.Logger) *api.Client {
	return api.NewClient(string(u), tokens, logger)
}

func provideChannelManager(u serverURL, tokens *session.TokenStore, b *bus.Bus, logger *zap.Logger) *channel.Manager {
	return channel.NewManager(channelURL(string(u)), tokens, b, logger)
}

func provideMessageStore() *state.MessageStore {
	return state.NewMessageStore()
}

func provideChatList() *state.ChatList {
	return state.NewChatList()
}

func provideDownloadQueue(b *bus.Bus) *download.Queue {
	return download.NewQueue(b)
}

func provideForwarder(logger *zap.Logger) *preview.Forwarder {
	return preview.NewForwarder(logger)
}

func provideEngine(messages *state.MessageStore, chats *state.ChatList, db *store.DB, apiClient *api.Client, mgr *channel.Manager, machine *status.Machine, downloads *download.Queue, forwarder *preview.Forwarder, b *bus.Bus, logger *zap.Logger) *syncer.Engine {
	emit := func() syncer.Emitter {
		if ch := mgr.Current(); ch != nil {
			return ch
		}
		return nil
	}
	return syncer.NewEngine(messages, chats, db, apiClient, emit, machine, downloads, forwarder, b, logger)
}

func provideSender(db *store.DB, messages *state.MessageStore, chats *state.ChatList, mgr *channel.Manager, engine *syncer.Engine, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	emit := func() outbox.Emitter {
		if ch := mgr.Current(); ch != nil {
			return ch
		}
		return nil
	}
	return outbox.NewSender(db, messages, chats, emit, engine.SelfID, b, logger)
}

// channelURL converts the REST base URL into the websocket channel endpoint.
func channelURL(base string) string {
	u := base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimRight(u, "/") + "/channel"
}

func registerLifecycle(lc fx.Lifecycle, p Params, lk *lock.Lock, mgr *channel.Manager, engine *syncer.Engine, sender *outbox.Sender, tokens *session.TokenStore, apiClient *api.Client, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Engine first: it must be draining bus events before the
			// channel can publish any.
			engine.Start(runCtx)
			sender.Start(runCtx)

			r := newReconnector(mgr, machine, b, logger)
			r.Start(runCtx)

			token, err := tokens.Token()
			if err != nil {
				logger.Warn("token read failed", zap.Error(err))
			}
			if token == "" {
				logger.Info("no session token, channel unavailable")
				_ = machine.Transition(status.NoSession)
				return nil
			}

			_ = machine.Transition(status.Connecting)
			go func() {
				if me, err := apiClient.Me(runCtx); err != nil {
					logger.Warn("self lookup failed", zap.Error(err))
				} else {
					engine.SetSelf(me.ID)
				}
				if _, err := mgr.Connect(runCtx); err != nil {
					logger.Error("channel connect failed", zap.Error(err))
					if errors.Is(err, channel.ErrNoSession) {
						_ = machine.Transition(status.NoSession)
						return
					}
					_ = machine.Transition(status.Reconnecting)
					// Wake the reconnector; there was no live channel to
					// publish its own disconnect.
					b.Publish(bus.Event{Kind: channel.KindDisconnected, Timestamp: time.Now()})
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			sender.Stop()
			engine.Stop()
			mgr.Disconnect()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped", zap.String("session", p.SessionName))
			return nil
		},
	})
}
