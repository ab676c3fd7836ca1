package relay

import (
	"context"

	"github.com/ridelink/chatsync/internal/config"
	"github.com/ridelink/chatsync/internal/lock"
	"github.com/ridelink/chatsync/internal/logging"
	"github.com/ridelink/chatsync/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved relay configuration passed to the fx module.
type Params struct {
	Config *config.Relay
}

// Module returns the fx module for the relay, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("relay",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideLock,
			provideStore,
			provideHub,
			provideServer,
			provideHealth,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.Config.LogPath, "chatrelay", zapcore.InfoLevel)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", p.Config.DataDir))
	l, err := lock.Acquire(p.Config.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by a
// second relay.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, err := store.OpenDir(p.Config.DataDir)
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
	return db, nil
}

func provideHub(p Params, db *store.DB, logger *zap.Logger) *Hub {
	return NewHub(db, p.Config.HistoryLimit, logger.Named("hub"))
}

func provideServer(p Params, hub *Hub, logger *zap.Logger) *Server {
	return NewServer(p.Config.Listen, p.Config.Tokens, hub, logger.Named("http"))
}

// provideHealth waits for the lock, which also creates the data dir the
// socket usually lives in.
func provideHealth(p Params, _ *lock.Lock, logger *zap.Logger) (*HealthServer, error) {
	return NewHealthServer(p.Config.HealthSocket, logger.Named("health"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, hs *HealthServer, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := hs.Start(); err != nil {
					logger.Error("health server error", zap.Error(err))
				}
			}()
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
					hs.SetServing(false)
				}
			}()
			hs.SetServing(true)
			logger.Info("relay started", zap.Int("users", len(srv.tokens)))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			hs.SetServing(false)
			srv.Stop(ctx)
			hs.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("relay stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
