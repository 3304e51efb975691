package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/cascademarket/internal/blob/s3"
	"github.com/alanyoungcy/cascademarket/internal/cache/redis"
	"github.com/alanyoungcy/cascademarket/internal/config"
	"github.com/alanyoungcy/cascademarket/internal/crypto"
	"github.com/alanyoungcy/cascademarket/internal/domain"
	"github.com/alanyoungcy/cascademarket/internal/host"
	"github.com/alanyoungcy/cascademarket/internal/notify"
	"github.com/alanyoungcy/cascademarket/internal/server/handler"
	"github.com/alanyoungcy/cascademarket/internal/server/ws"
	"github.com/alanyoungcy/cascademarket/internal/service"
	"github.com/alanyoungcy/cascademarket/internal/spawn"
	"github.com/alanyoungcy/cascademarket/internal/store/postgres"
)

// Transport is a domain.Transport that also consumes what it delivers.
type Transport interface {
	domain.Transport
	Run(ctx context.Context, handler domain.EnvelopeHandler, retry time.Duration) error
}

// Dependencies bundles everything the modes need. Optional parts are nil
// when their backend is not configured.
type Dependencies struct {
	Operator  *crypto.Signer
	Instances service.Instances

	States    domain.StateStore
	Audit     domain.AuditStore
	Directory domain.MarketDirectory

	Bus       domain.SignalBus
	Limiter   domain.RateLimiter
	Cache     domain.MarketCache
	Transport Transport

	Host     *host.Host
	Markets  *service.MarketService
	Registry *service.RegistryService
	Spawner  *service.SpawnService

	Hub      *ws.Hub
	Archiver *s3blob.Archiver
	Checks   map[string]handler.Check
}

// Wire builds the dependencies for cfg and returns a cleanup function
// releasing them.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Instances: service.Instances{
			Registry: domain.InstanceID(cfg.Identity.RegistryID),
			Engine:   domain.InstanceID(cfg.Identity.EngineID),
		},
		Checks: make(map[string]handler.Check),
	}

	// --- Operator identity ---
	pk, err := crypto.LoadKey(crypto.KeySource{
		Hex:      cfg.Identity.OperatorKey,
		File:     cfg.Identity.KeyFile,
		Password: cfg.Identity.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: operator key: %w", err))
	}
	deps.Operator = crypto.NewSigner(pk)
	logger.Info("operator identity loaded", slog.String("operator", string(deps.Operator.Identity())))

	// --- State, audit and directory ---
	switch cfg.Storage {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pg.Pool()
		deps.States = postgres.NewStateStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Directory = postgres.NewMarketDirectory(pool)
		deps.Checks["postgres"] = pg.Ping
	default:
		deps.States = host.NewMemoryStateStore()
		deps.Audit = host.NewMemoryAuditStore()
	}

	// --- Redis: transport, bus, locks, cache, rate limiting ---
	var locks domain.LockManager
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		bus := redis.NewSignalBus(rc, cfg.Redis.StreamMaxLen)
		deps.Bus = bus
		deps.Limiter = redis.NewRateLimiter(rc)
		deps.Cache = redis.NewMarketCache(rc, cfg.Redis.CacheTTL.Duration)
		deps.Transport = redis.NewStreamTransport(rc, bus, cfg.Redis.Stream, cfg.Identity.NodeID, logger)
		locks = redis.NewLockManager(rc)
		deps.Checks["redis"] = rc.Ping
	} else {
		deps.Transport = host.NewLocalTransport()
	}

	// --- Spawn engine configuration ---
	rules, err := cfg.Spawn.Rules()
	if err != nil {
		return fail(fmt.Errorf("wire: spawn rules: %w", err))
	}
	if rules == nil {
		rules = spawn.DefaultRules()
	}
	baseline, err := cfg.Spawn.Baseline()
	if err != nil {
		return fail(fmt.Errorf("wire: spawn baseline: %w", err))
	}

	// --- Event fan-out ---
	var sinks []service.EventSink
	if cfg.Mode != "node" {
		// With a bus, the hub hears every node's events from the channel.
		deps.Hub = ws.NewHub(deps.Bus, service.EventsChannel, cfg.Server.CORSOrigins, logger)
		if deps.Bus == nil {
			sinks = append(sinks, deps.Hub)
		}
	}
	if deps.Bus != nil {
		sinks = append(sinks, service.NewBusSink(deps.Bus, service.EventsChannel, logger))
	}
	if n := newNotifier(cfg.Notify, logger); n != nil {
		sinks = append(sinks, n)
	}

	// --- Host ---
	opts := []host.Option{
		host.WithLogger(logger),
		host.WithAudit(deps.Audit),
		host.WithObserver(service.NewProjector(deps.Directory, deps.Cache, logger)),
		host.WithObserver(service.NewEventPublisher(sinks...)),
	}
	if locks != nil {
		opts = append(opts, host.WithLocks(locks))
	}
	if cfg.Identity.EnvelopeSecret != "" {
		opts = append(opts, host.WithAuth(crypto.NewEnvelopeAuth(cfg.Identity.EnvelopeSecret)))
	}
	factory := service.NewFactory(deps.Instances, spawn.Config{
		DefaultRules:          rules,
		DeferredStakeBaseline: baseline,
	})
	deps.Host = host.New(factory, deps.States, deps.Transport, host.Config{
		StrictErrors: cfg.Runtime.StrictErrors,
		LockTTL:      cfg.Runtime.LockTTL.Duration,
		DedupTTL:     cfg.Runtime.DedupTTL.Duration,
	}, opts...)

	deps.Markets = service.NewMarketService(deps.Host, deps.States, deps.Directory, deps.Cache, logger)
	deps.Registry = service.NewRegistryService(deps.Host, deps.Instances.Registry)
	deps.Spawner = service.NewSpawnService(deps.Host, deps.Instances.Engine)

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3c), s3blob.NewReader(s3c), deps.Audit, cfg.Archive.MultipartThreshold)
		deps.Checks["s3"] = s3c.Health
	}

	return deps, cleanup, nil
}

// newNotifier returns nil when no channel is configured.
func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL, cfg.DiscordUsername))
	}
	if len(senders) == 0 {
		return nil
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}
