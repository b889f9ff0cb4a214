package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/matheus3301/inbox/internal/api"
	"github.com/matheus3301/inbox/internal/broker"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/config"
	"github.com/matheus3301/inbox/internal/ingest"
	"github.com/matheus3301/inbox/internal/lock"
	"github.com/matheus3301/inbox/internal/logging"
	"github.com/matheus3301/inbox/internal/outbox"
	"github.com/matheus3301/inbox/internal/session"
	"github.com/matheus3301/inbox/internal/status"
	"github.com/matheus3301/inbox/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      config.Config
	LogLevel    zapcore.Level

	// Optional overrides for testing; empty = use the session default.
	SocketPath string
	DBPath     string
	LockPath   string
	LogPath    string
}

func (p Params) dbPath() string   { return orDefault(p.DBPath, session.DBPath(p.SessionName)) }
func (p Params) lockPath() string { return orDefault(p.LockPath, session.LockPath(p.SessionName)) }
func (p Params) logPath() string  { return orDefault(p.LogPath, session.LogPath(p.SessionName)) }

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// ErrNoProvider fails sends when no outbound transport is configured.
var ErrNoProvider = errors.New("no outbound provider configured")

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
			provideEngine,
			provideBroker,
			provideProvider,
			provideSender,
			provideHub,
			provideService,
			provideRouter,
			provideAPIServer,
			NewHealthServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(logging.Options{File: p.logPath(), Session: p.SessionName, Level: p.LogLevel})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if p.LockPath == "" {
		if err := session.EnsureDir(p.SessionName); err != nil {
			return nil, err
		}
	}
	l, err := lock.Acquire(p.lockPath(), p.Config.Listen)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("session", p.SessionName), zap.Int("pid", l.Holder().PID))
	return l, nil
}

// provideStore takes the lock so the database is only opened by its owner.
func provideStore(p Params, _ *lock.Lock, m *status.Machine, logger *zap.Logger) (*store.DB, error) {
	if err := m.Transition(status.Migrating); err != nil {
		return nil, err
	}
	dbPath := p.dbPath()
	db, err := store.Open(dbPath)
	if err != nil {
		_ = m.Transition(status.Error)
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		_ = m.Transition(status.Error)
		return nil, err
	}
	if result.Dirty {
		_ = db.Close()
		_ = m.Transition(status.Error)
		return nil, fmt.Errorf("schema version %d is dirty", result.Version)
	}
	logger.Info("store initialized",
		zap.String("path", dbPath),
		zap.Uint("schema_from", result.Previous),
		zap.Uint("schema", result.Version),
		zap.Bool("migrated", result.Changed))
	return db, nil
}

func provideEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, b, logger.Named("ingest"))
}

// provideBroker returns nil when no broker URL is configured.
func provideBroker(p Params, m *status.Machine, logger *zap.Logger) *broker.Client {
	if !p.Config.Broker.Enabled() {
		return nil
	}
	log := logger.Named("broker")
	return broker.NewClient(p.Config.Broker,
		broker.WithLogger(log),
		broker.WithConnectionHook(connectionHook(m, log)))
}

func provideProvider(client *broker.Client) outbox.Provider {
	if client == nil {
		return noProvider{}
	}
	return broker.NewPublisher(client)
}

type noProvider struct{}

func (noProvider) Deliver(context.Context, outbox.Outbound) (string, error) {
	return "", ErrNoProvider
}

func provideSender(db *store.DB, engine *ingest.Engine, provider outbox.Provider, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, engine, provider, logger.Named("outbox"))
}

func provideHub(b *bus.Bus, engine *ingest.Engine, logger *zap.Logger) *api.Hub {
	return api.NewHub(b, engine, logger.Named("hub"))
}

func provideService(p Params, db *store.DB, engine *ingest.Engine, sender *outbox.Sender, m *status.Machine, b *bus.Bus, hub *api.Hub) *api.Service {
	svc := api.NewService(db, engine, sender, m, p.SessionName, p.Config.Agent.ID)
	svc.Subscribers = hub.Len
	svc.Dropped = b.Dropped
	return svc
}

func provideRouter(svc *api.Service, hub *api.Hub, logger *zap.Logger) http.Handler {
	return api.NewRouter(logger.Named("api"), svc, hub)
}

func provideAPIServer(p Params, handler http.Handler, logger *zap.Logger) *api.Server {
	return api.NewServer(p.Config.Listen, handler, logger.Named("api"))
}

// seedSignatures stores the templates declared in the config file, keeping
// their order.
func seedSignatures(ctx context.Context, p Params, svc *api.Service, logger *zap.Logger) {
	for i, t := range p.Config.Signatures {
		if err := svc.SaveSignature(ctx, t, i); err != nil {
			logger.Warn("failed to seed signature", zap.String("id", t.ID), zap.Error(err))
		}
	}
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	srv *api.Server,
	health *HealthServer,
	hub *api.Hub,
	svc *api.Service,
	lk *lock.Lock,
	db *store.DB,
	engine *ingest.Engine,
	client *broker.Client,
	sender *outbox.Sender,
	machine *status.Machine,
	logger *zap.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())
	var link *brokerLink

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			seedSignatures(startCtx, p, svc, logger)

			go hub.Run(ctx)
			if err := srv.Start(); err != nil {
				cancel()
				_ = machine.Transition(status.Error)
				return err
			}
			health.Start()
			sender.Start(ctx)

			if client == nil {
				logger.Info("no broker configured, serving from local store only")
				_ = machine.Transition(status.Ready)
				return nil
			}
			link = newBrokerLink(client, p.Config.Broker, machine, logger.Named("broker"), broker.IngestConsumer(p.Config.Broker, engine))
			link.Start(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if link != nil {
				link.Wait()
			}
			sender.Stop()
			if err := srv.Stop(stopCtx); err != nil {
				logger.Warn("api server shutdown", zap.Error(err))
			}
			health.Stop(stopCtx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
