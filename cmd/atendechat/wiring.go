package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	backend "github.com/redis/go-redis/v9"

	"github.com/listiago/atendechat"
	"github.com/listiago/atendechat/internal/config"
	"github.com/listiago/atendechat/pkg/adapters/file"
	"github.com/listiago/atendechat/pkg/adapters/memory"
	natsadapter "github.com/listiago/atendechat/pkg/adapters/nats"
	"github.com/listiago/atendechat/pkg/adapters/process"
	"github.com/listiago/atendechat/pkg/adapters/redis"
	"github.com/listiago/atendechat/pkg/adapters/sqlite"
	"github.com/listiago/atendechat/pkg/media/ffmpeg"
	"github.com/listiago/atendechat/pkg/observability"
	"github.com/listiago/atendechat/pkg/persistence/middleware"
	"github.com/listiago/atendechat/pkg/ports"
	"github.com/listiago/atendechat/pkg/registry"
)

// stores holds the persistence chosen by ATENDECHAT_STORE.
type stores struct {
	contexts ports.ContextStore
	timers   ports.TimerStore
	locker   ports.DistributedLocker
	close    func() error
}

func openStores(cfg config.Config, logger *slog.Logger) (*stores, error) {
	st, err := openBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.EncryptionKey == "" {
		return st, nil
	}
	mw, err := encryption(cfg)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("context encryption: %w", err), st.close())
	}
	st.contexts = mw(st.contexts)
	return st, nil
}

func encryption(cfg config.Config) (middleware.Middleware, error) {
	keys, err := middleware.ParseKeys(cfg.EncryptionKey, cfg.EncryptionFallbackKeys...)
	if err != nil {
		return nil, err
	}
	return middleware.NewEncryptionMiddleware(keys)
}

func openBackend(cfg config.Config, logger *slog.Logger) (*stores, error) {
	switch cfg.Store {
	case config.StoreMemory, "":
		return &stores{
			contexts: memory.NewStore(),
			timers:   memory.NewTimerStore(),
			close:    func() error { return nil },
		}, nil

	case config.StoreFile:
		// File contexts have no timer index; waits do not survive a restart.
		logger.Warn("file store keeps timers in memory", "dir", cfg.ContextsDir)
		return &stores{
			contexts: file.NewStore(cfg.ContextsDir),
			timers:   memory.NewTimerStore(),
			close:    func() error { return nil },
		}, nil

	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		return sqliteStores(db)

	case config.StoreRedis:
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return &stores{
			contexts: redis.NewFromClient(client),
			timers:   redis.NewTimerStore(client, redis.DefaultPrefix),
			locker:   redis.NewLocker(client, redis.DefaultPrefix),
			close:    client.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func sqliteStores(db *sql.DB) (*stores, error) {
	contexts, err := sqlite.NewContextStore(db)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	timers, err := sqlite.NewTimerStore(db)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return &stores{contexts: contexts, timers: timers, close: db.Close}, nil
}

// gateway is the outbound side: the WhatsApp transport and the ticket updater.
type gateway struct {
	transport ports.Transport
	tickets   ports.TicketUpdater
	close     func() error
}

func openGateway(cfg config.Config, logger *slog.Logger) (*gateway, error) {
	if cfg.NatsURL == "" {
		logger.Warn("NATS_URL not set, messages are recorded in memory and never delivered")
		return &gateway{
			transport: memory.NewTransport(),
			tickets:   memory.NewTickets(),
			close:     func() error { return nil },
		}, nil
	}
	nc, err := natsadapter.Connect(cfg.NatsURL, logger)
	if err != nil {
		return nil, err
	}
	t := natsadapter.New(nc, natsadapter.WithLogger(logger.With("component", "nats")))
	return &gateway{
		transport: t,
		tickets:   t,
		close: func() error {
			return nc.Drain()
		},
	}, nil
}

// buildEngine wires the facade from configuration.
// The returned close function releases the stores and the gateway connection.
func buildEngine(cfg config.Config, logger *slog.Logger, metrics *observability.Metrics, observer atendechat.ChangeObserver) (*atendechat.Engine, func() error, error) {
	st, err := openStores(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	gw, err := openGateway(cfg, logger)
	if err != nil {
		return nil, nil, errors.Join(err, st.close())
	}
	closeAll := func() error {
		return errors.Join(gw.close(), st.close())
	}

	integrations, err := process.LoadIntegrations(cfg.IntegrationsFile)
	if err != nil {
		return nil, nil, errors.Join(err, closeAll())
	}

	// Built-in integrations win over same-named processes.
	invoker := registry.New(registry.WithFallback(process.NewRunner(
		process.WithRegistry(integrations),
		process.WithLogger(logger.With("component", "integrations")),
	)))
	invoker.Register("echo", registry.Echo)

	hooks := observability.Combine(metrics.Hooks(), observability.LogHooks(logger))
	transcoder := ffmpeg.New(
		ffmpeg.WithBinary(cfg.FFmpegPath),
		ffmpeg.WithOutputDir(cfg.MediaDir),
		ffmpeg.WithLogger(logger.With("component", "ffmpeg")),
		ffmpeg.WithHook(hooks.OnTranscode),
	)

	opts := []atendechat.Option{
		atendechat.WithLoader(file.NewLoader(cfg.FlowsDir)),
		atendechat.WithContextStore(st.contexts),
		atendechat.WithTimerStore(st.timers),
		atendechat.WithTransport(gw.transport),
		atendechat.WithTicketUpdater(gw.tickets),
		atendechat.WithIntegrationInvoker(invoker),
		atendechat.WithTranscoder(transcoder),
		atendechat.WithLifecycleHooks(hooks),
		atendechat.WithChangeObserver(observer),
		atendechat.WithLogger(logger),
		atendechat.WithWorkers(cfg.Workers),
		atendechat.WithTypingDelay(cfg.TypingDelay),
		atendechat.WithSendTimeout(cfg.SendTimeout),
		atendechat.WithIntegrationTimeout(cfg.IntegrationTimeout),
		atendechat.WithPollInterval(cfg.SchedulerPoll),
	}
	if st.locker != nil {
		opts = append(opts, atendechat.WithLocker(st.locker), atendechat.WithLockTTL(cfg.LockTTL))
	}

	eng, err := atendechat.New(opts...)
	if err != nil {
		return nil, nil, errors.Join(err, closeAll())
	}
	return eng, closeAll, nil
}
