package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pokulabs/poku/internal/api"
	"github.com/pokulabs/poku/internal/backend"
	"github.com/pokulabs/poku/internal/bus"
	"github.com/pokulabs/poku/internal/chats"
	"github.com/pokulabs/poku/internal/config"
	"github.com/pokulabs/poku/internal/httpapi"
	"github.com/pokulabs/poku/internal/lock"
	"github.com/pokulabs/poku/internal/logging"
	"github.com/pokulabs/poku/internal/metrics"
	"github.com/pokulabs/poku/internal/outbox"
	"github.com/pokulabs/poku/internal/profile"
	"github.com/pokulabs/poku/internal/relay"
	"github.com/pokulabs/poku/internal/status"
	"github.com/pokulabs/poku/internal/store"
	"github.com/pokulabs/poku/internal/stream"
	intsync "github.com/pokulabs/poku/internal/sync"
	"github.com/pokulabs/poku/internal/twilio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// sessionTTL is how long an idle chat listing session is kept.
const sessionTTL = 30 * time.Minute

var errNoCredentials = errors.New("twilio credentials are not configured")

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	HTTPAddr   string // optional override of config http.addr
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params, cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p, cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRegistry,
			provideMetrics,
			provideTwilioCache,
			provideTwilio,
			provideSource,
			provideMeta,
			provideAggregator,
			api.NewSessions,
			provideSender,
			provideChatService,
			provideSyncEngine,
			provideReconciler,
			provideHTTP,
			provideNATS,
			provideRelay,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, result, err := store.OpenMirror(profile.DBPath(p.Profile))
	if err != nil {
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func provideTwilioCache(cfg *config.Config) *twilio.Cache {
	var opts []twilio.Option
	if cfg.Twilio.BaseURL != "" {
		opts = append(opts, twilio.WithBaseURL(cfg.Twilio.BaseURL))
	}
	return twilio.NewCache(append(opts, twilio.WithPageSize(cfg.Chats.SourcePageSize))...)
}

// provideTwilio returns nil when no credentials are configured.
func provideTwilio(cfg *config.Config, cache *twilio.Cache) *twilio.Client {
	if !cfg.Twilio.Configured() {
		return nil
	}
	return cache.Get(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
}

func provideSource(cfg *config.Config, tw *twilio.Client, db *store.DB, logger *zap.Logger) stream.Source {
	if cfg.Chats.Source == config.SourceTwilio && tw != nil {
		logger.Info("chat source: twilio")
		return tw
	}
	if cfg.Chats.Source == config.SourceTwilio {
		logger.Warn("no twilio credentials, listing chats from the local mirror")
	}
	return store.NewMessageSource(db, cfg.Chats.SourcePageSize)
}

func provideMeta(cfg *config.Config, db *store.DB, logger *zap.Logger) chats.MetaLookup {
	if cfg.Backend.URL != "" {
		logger.Info("chat metadata: backend", zap.String("url", cfg.Backend.URL))
		return backend.NewClient(cfg.Backend.URL, cfg.Backend.Token)
	}
	return db
}

func provideAggregator(source stream.Source, db *store.DB, meta chats.MetaLookup, m *metrics.Metrics, logger *zap.Logger) *chats.Aggregator {
	return chats.NewAggregator(source, db, meta, m, logger.Named("chats"))
}

type unconfiguredSender struct{}

func (unconfiguredSender) SendMessage(context.Context, string, string, string) (stream.Message, error) {
	return stream.Message{}, errNoCredentials
}

func provideSender(db *store.DB, tw *twilio.Client, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *outbox.Sender {
	var ms outbox.MessageSender = unconfiguredSender{}
	if tw != nil {
		ms = tw
	}
	return outbox.NewSender(db, ms, b, m, logger.Named("outbox"))
}

func provideChatService(p Params, cfg *config.Config, sessions *api.Sessions, db *store.DB, b *bus.Bus, sender *outbox.Sender, machine *status.Machine, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(api.Options{
		Profile:      p.Profile,
		ActiveNumber: cfg.Twilio.Number,
		PageSize:     cfg.Chats.PageSize,
	}, sessions, db, b, sender, machine, logger.Named("api"))
}

func provideSyncEngine(db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, m, logger.Named("sync"))
}

// provideReconciler returns nil when there is no remote log to backfill from.
func provideReconciler(db *store.DB, engine *intsync.Engine, tw *twilio.Client, logger *zap.Logger) *intsync.Reconciler {
	if tw == nil {
		return nil
	}
	return intsync.NewReconciler(db, engine, tw, logger.Named("backfill"))
}

func provideHTTP(p Params, cfg *config.Config, svc *api.ChatService, b *bus.Bus, m *metrics.Metrics, reg *prometheus.Registry, logger *zap.Logger) *httpapi.Server {
	addr := cfg.HTTP.Addr
	if p.HTTPAddr != "" {
		addr = p.HTTPAddr
	}
	return httpapi.NewServer(httpapi.Options{
		Addr:            addr,
		APIToken:        cfg.HTTP.Token,
		TwilioAuthToken: cfg.Twilio.AuthToken,
		PublicURL:       cfg.HTTP.PublicURL,
		OriginPatterns:  cfg.HTTP.OriginPatterns,
	}, svc, b, m, reg, logger.Named("http"))
}

// provideNATS returns nil when no NATS URL is configured.
func provideNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	if cfg.NATS.URL == "" {
		return nil, nil
	}
	return relay.Connect(cfg.NATS.URL, cfg.NATS.Token, logger.Named("nats"))
}

func provideRelay(nc *nats.Conn, b *bus.Bus, svc *api.ChatService, logger *zap.Logger) *relay.Relay {
	if nc == nil {
		return nil
	}
	return relay.New(nc, b, svc, logger.Named("relay"))
}

type lifecycleParams struct {
	fx.In

	Params     Params
	Config     *config.Config
	Server     *Server
	HTTP       *httpapi.Server
	Lock       *lock.Lock
	DB         *store.DB
	Engine     *intsync.Engine
	Reconciler *intsync.Reconciler
	Sender     *outbox.Sender
	Sessions   *api.Sessions
	Twilio     *twilio.Client
	NATS       *nats.Conn
	Relay      *relay.Relay
	Machine    *status.Machine
	Logger     *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, in lifecycleParams) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := in.Logger
	conn := &connector{
		twilio:     in.Twilio,
		reconciler: in.Reconciler,
		machine:    in.Machine,
		number:     in.Config.Twilio.Number,
		pages:      in.Config.Twilio.BackfillPages,
		logger:     logger,
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			in.Engine.Start(ctx)

			go func() {
				if err := in.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			if err := in.HTTP.Start(); err != nil {
				return err
			}

			in.Sender.Start(ctx)

			if in.Relay != nil {
				if err := in.Relay.Listen(in.NATS); err != nil {
					return err
				}
				in.Relay.Start()
			}

			go expireSessions(ctx, in.Sessions, logger)
			go conn.run(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if in.Relay != nil {
				in.Relay.Stop()
			}
			if in.NATS != nil {
				_ = in.NATS.Drain()
			}
			in.Sender.Stop()
			in.Engine.Stop()
			if err := in.HTTP.Stop(stopCtx); err != nil {
				logger.Warn("error stopping HTTP server", zap.Error(err))
			}
			in.Server.Stop(stopCtx)
			if err := in.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := in.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

func expireSessions(ctx context.Context, sessions *api.Sessions, logger *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := sessions.Expire(sessionTTL); n > 0 {
				logger.Debug("expired chat sessions", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
