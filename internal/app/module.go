// Package app composes the chat client: configuration, logging, the
// websocket transport, the sync engine and the console.
package app

import (
	"context"
	"io"

	"github.com/ridelink/chatsync/internal/auth"
	"github.com/ridelink/chatsync/internal/bus"
	"github.com/ridelink/chatsync/internal/config"
	"github.com/ridelink/chatsync/internal/console"
	"github.com/ridelink/chatsync/internal/logging"
	intsync "github.com/ridelink/chatsync/internal/sync"
	"github.com/ridelink/chatsync/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved client configuration passed to the fx module.
type Params struct {
	Config *config.Client
	In     io.Reader
	Out    io.Writer
	// Verbose also prints info logs on stderr.
	Verbose bool
}

// Module returns the fx module for the chat client.
func Module(p Params) fx.Option {
	return fx.Module("client",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideAuth,
			provideDialer,
			provideEngine,
			provideConsole,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if p.Verbose {
		level = zapcore.InfoLevel
	}
	return logging.New(p.Config.LogPath, "chatsync", level)
}

func provideBus(logger *zap.Logger) *bus.Bus {
	b := bus.New()
	b.SetLogger(logger.Named("bus"))
	return b
}

// provideAuth seeds the identity from the config file. Without both a user
// id and a token the client starts signed out.
func provideAuth(p Params, b *bus.Bus) *auth.Source {
	creds := auth.Credentials{
		Authenticated: p.Config.UserID != "" && p.Config.Token != "",
		Token:         p.Config.Token,
		UserID:        p.Config.UserID,
	}
	return auth.NewSource(b, creds)
}

func provideDialer(p Params, logger *zap.Logger) transport.Dialer {
	r := p.Config.Reconnect
	return &transport.WebSocketDialer{
		URL: p.Config.ServerURL,
		Reconnect: transport.ReconnectPolicy{
			Enabled:     r.Enabled,
			MaxAttempts: r.MaxAttempts,
			BaseDelay:   r.BaseDelay.Duration,
			MaxDelay:    r.MaxDelay.Duration,
		},
		Logger: logger.Named("transport"),
	}
}

func provideEngine(d transport.Dialer, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.New(d, b, logger.Named("sync"))
}

func provideConsole(p Params, engine *intsync.Engine, src *auth.Source, b *bus.Bus, logger *zap.Logger) *console.Console {
	return console.New(engine, src, b, p.In, p.Out, logger.Named("console"))
}

func registerLifecycle(lc fx.Lifecycle, sd fx.Shutdowner, engine *intsync.Engine, con *console.Console, src *auth.Source, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start(ctx, src.Current())
			go func() {
				if err := con.Run(ctx); err != nil {
					logger.Error("console error", zap.Error(err))
				}
				_ = sd.Shutdown()
			}()
			logger.Info("client started", zap.String("user", src.Current().UserID))
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			engine.Stop()
			logger.Info("client stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
