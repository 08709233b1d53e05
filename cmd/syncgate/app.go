package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"syncgate/internal/api"
	"syncgate/internal/audit"
	"syncgate/internal/auth"
	"syncgate/internal/config"
	"syncgate/internal/connector"
	"syncgate/internal/connector/all"
	"syncgate/internal/events"
	"syncgate/internal/export"
	"syncgate/internal/idempotency"
	"syncgate/internal/integration"
	"syncgate/internal/mapping"
	"syncgate/internal/model"
	"syncgate/internal/queue"
	"syncgate/internal/secrets"
	"syncgate/internal/store"
	"syncgate/internal/webhooks"
)

// app holds the wired services. closers run in reverse order on Close.
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	store        store.Store
	factory      *connector.Factory
	integrations *integration.Service
	webhooks     *webhooks.Service
	jobs         *queue.Service
	scheduler    *integration.Scheduler
	notifier     *webhooks.Notifier
	server       *api.Server
	closers      []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()
	ready := map[string]api.Pinger{}

	if cfg.Database.URL == "" {
		logger.Warn("no database configured; using in-memory store")
		a.store = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return pg.Close() })
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.store = pg
	}
	ready["store"] = a.store

	var cache idempotency.Store
	var broker events.Broker
	if cfg.Redis.URL == "" {
		mem := idempotency.NewMemory(0)
		a.closers = append(a.closers, func(context.Context) error { return mem.Close() })
		cache, broker = mem, events.NewMemory()
	} else {
		rc, err := idempotency.NewRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rc.Close() })
		rb, err := events.NewRedis(cfg.Redis.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis broker: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rb.Close() })
		cache, broker = rc, rb
	}

	memLog := audit.NewMemoryLog(0)
	auditLog := audit.Multi{memLog, audit.NewZapLogger(logger)}
	var lister audit.Lister = memLog
	if cfg.Mongo.URI != "" {
		ml, err := audit.NewMongoLog(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		a.closers = append(a.closers, ml.Close)
		if err := ml.EnsureIndexes(ctx); err != nil {
			logger.Warn("audit indexes", zap.Error(err))
		}
		auditLog = audit.Multi{ml, audit.NewZapLogger(logger)}
		lister = ml
		ready["mongo"] = ml
	}

	var box secrets.Secrets = secrets.Plain{}
	if cfg.Secrets.Key != "" {
		b, err := secrets.NewBox(secrets.KeyFromString(cfg.Secrets.Key))
		if err != nil {
			return nil, err
		}
		box = b
	} else {
		logger.Warn("no secrets key configured; credentials are stored in plaintext")
	}

	var sink export.Sink = export.FileSink{Dir: cfg.Export.Dir}
	if cfg.Export.S3.Bucket != "" {
		s3, err := export.NewS3Sink(ctx, cfg.Export.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 export sink: %w", err)
		}
		sink = s3
	}

	alerters := audit.Alerters{audit.NewLogAlerter(logger)}
	if cfg.Notifier.URL != "" {
		a.notifier = webhooks.NewNotifier(cfg.Notifier.URL, cfg.Notifier.Secret, cfg.Notifier.MaxAttempts, logger)
		alerters = append(alerters, a.notifier)
	}

	engine := mapping.NewEngine()
	a.factory = all.NewFactory(connector.Deps{
		Catalog: a.store,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Engine:  engine,
		Logger:  logger,
	})
	a.integrations = integration.NewService(integration.Deps{
		Store:      a.store,
		Connectors: a.factory,
		Secrets:    box,
		Audit:      auditLog,
		Metrics:    audit.Prometheus{},
		Alerts:     alerters,
		Exporter:   export.NewExporter(a.store, sink, logger),
		Engine:     engine,
		Logger:     logger,
	})
	a.webhooks = webhooks.NewService(a.integrations, a.factory, auditLog, logger)

	a.jobs = queue.New(a.store, cache, queue.Options{
		Queues:         cfg.Queues,
		Broker:         broker,
		Logger:         logger,
		PollInterval:   cfg.Worker.PollInterval,
		StalledEvery:   cfg.Worker.StalledEvery,
		ResultCacheTTL: cfg.Worker.ResultCacheTTL,
	})
	handlers := map[string]queue.Handler{
		model.QueueSync:    a.integrations.SyncHandler(),
		model.QueueWebhook: a.webhooks.Handler(),
		model.QueueExport:  a.integrations.ExportHandler(),
	}
	for name, h := range handlers {
		if err := a.jobs.Handle(name, h); err != nil {
			return nil, err
		}
	}
	a.scheduler = integration.NewScheduler(a.integrations, a.jobs, cfg.Scheduler.Every, logger)

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return nil, err
	}
	if verifier.Mode() == auth.ModeDev {
		logger.Warn("auth mode is dev; bearer tokens are not verified")
	}
	a.server = api.NewServer(api.Deps{
		Integrations:   a.integrations,
		Webhooks:       a.webhooks,
		Jobs:           a.jobs,
		Audit:          lister,
		Broker:         broker,
		Auth:           verifier,
		Ready:          ready,
		Logger:         logger,
		MaxWebhookBody: cfg.HTTP.MaxWebhookBody,
		WebhookMaxAge:  cfg.HTTP.WebhookMaxAge,
	})
	return a, nil
}

func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close", zap.Error(err))
		}
	}
	a.closers = nil
}
