// Package app composes the client from its parts: config, logging,
// the session lock, the REST client, and the TUI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/flintchat/flint/internal/api"
	"github.com/flintchat/flint/internal/bus"
	"github.com/flintchat/flint/internal/config"
	"github.com/flintchat/flint/internal/crypto"
	"github.com/flintchat/flint/internal/lock"
	"github.com/flintchat/flint/internal/logging"
	"github.com/flintchat/flint/internal/session"
	"github.com/flintchat/flint/internal/status"
	chatsync "github.com/flintchat/flint/internal/sync"
	"github.com/flintchat/flint/internal/tui"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("flint",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideCipher,
			provideAPIClient,
			provideChatList,
			provideThread,
			provideIdentity,
			provideApp,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	path := session.ConfigPath()
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		// First run: write a skeleton so the user has something to edit.
		skeleton := &config.Config{}
		skeleton.ApplyDefaults()
		if saveErr := config.Save(path, skeleton); saveErr != nil {
			return nil, fmt.Errorf("write default config: %w", saveErr)
		}
		return nil, fmt.Errorf("created %s, set server_url and message_secret then run again", path)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("%s: server_url is not set", path)
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.NewBus()
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

func provideCipher(cfg *config.Config) *crypto.Cipher {
	return crypto.New(cfg.MessageSecret)
}

func provideAPIClient(cfg *config.Config, cipher *crypto.Cipher, logger *zap.Logger) *api.Client {
	return api.NewClient(cfg.ServerURL+cfg.APIBase, cipher, logger)
}

func provideChatList() *chatsync.ChatList {
	return chatsync.NewChatList()
}

func provideThread() *chatsync.Thread {
	return chatsync.NewThread()
}

func provideIdentity(p Params, logger *zap.Logger) (*session.Identity, error) {
	ident, err := session.LoadIdentity(p.SessionName)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		logger.Info("no stored identity, login required")
	}
	return ident, nil
}

func provideApp(p Params, cfg *config.Config, client *api.Client, b *bus.Bus, m *status.Machine, cipher *crypto.Cipher, chats *chatsync.ChatList, thread *chatsync.Thread, ident *session.Identity, logger *zap.Logger) *tui.App {
	return tui.NewApp(cfg, client, b, m, cipher, chats, thread, ident, p.SessionName, logger)
}

func registerLifecycle(lc fx.Lifecycle, sd fx.Shutdowner, a *tui.App, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := a.Run(); err != nil {
					logger.Error("tui exited with error", zap.Error(err))
				}
				_ = sd.Shutdown()
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			a.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
