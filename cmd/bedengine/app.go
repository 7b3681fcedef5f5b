package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/carehome/bedengine/internal/config"
	"github.com/carehome/bedengine/internal/domain/allocation"
	"github.com/carehome/bedengine/internal/domain/bed"
	"github.com/carehome/bedengine/internal/domain/maintenance"
	"github.com/carehome/bedengine/internal/domain/transfer"
	"github.com/carehome/bedengine/internal/domain/waitlist"
	"github.com/carehome/bedengine/internal/platform/audit"
	"github.com/carehome/bedengine/internal/platform/auth"
	"github.com/carehome/bedengine/internal/platform/db"
	"github.com/carehome/bedengine/internal/platform/metrics"
	"github.com/carehome/bedengine/internal/platform/middleware"
	"github.com/carehome/bedengine/internal/platform/notification"
	"github.com/carehome/bedengine/internal/platform/txn"
	"github.com/carehome/bedengine/internal/platform/websocket"
)

// app holds every wired component for one process.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
	kafka *audit.KafkaSink

	metrics  *metrics.Metrics
	hub      *websocket.Hub
	auditor  *audit.Dispatcher
	notifier *notification.Manager

	beds        *bed.Service
	matcher     *allocation.Matcher
	waitlist    *waitlist.Service
	processor   *waitlist.Processor
	transfers   *transfer.Service
	maintenance *maintenance.Service
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig is shared by every subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     logger,
		metrics: metrics.New(),
		hub:     websocket.NewHub(logger),
	}

	var (
		tx            txn.Runner
		bedRepo       bed.Repository
		waitlistRepo  waitlist.Repository
		transferRepo  transfer.Repository
		auditSinks    = []audit.Sink{audit.NewLogSink(logger), audit.NewBroadcastSink(a.hub)}
		noticeSenders = []notification.Sender{notification.NewHubSender(a.hub)}
	)

	if cfg.UsePostgres() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		logger.Info().Msg("connected to database")

		tx = db.NewTxRunner(pool)
		bedRepo = bed.NewRepo(pool)
		waitlistRepo = waitlist.NewRepo(pool)
		transferRepo = transfer.NewRepo(pool)
		auditSinks = append(auditSinks, audit.NewPGSink(pool))
	} else {
		tx = txn.NewMemoryRunner()
		bedRepo = bed.NewMemoryRepo()
		waitlistRepo = waitlist.NewMemoryRepo()
		transferRepo = transfer.NewMemoryRepo()
		logger.Warn().Msg("using in-memory store, state is lost on exit")
	}

	if len(cfg.KafkaBrokers) > 0 {
		a.kafka = audit.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic)
		auditSinks = append(auditSinks, a.kafka)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.AuditTopic).Msg("kafka audit sink enabled")
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		noticeSenders = append(noticeSenders, notification.NewRedisStreamSender(a.redis, cfg.NotifyStream))
		logger.Info().Str("stream", cfg.NotifyStream).Msg("redis notification sender enabled")
	}

	for _, u := range cfg.WebhookURLs {
		sender, err := notification.NewWebhookSender(u, cfg.WebhookSecret, cfg.WebhookEvents)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("WEBHOOK_URLS: %w", err)
		}
		noticeSenders = append(noticeSenders, sender)
		logger.Info().Str("url", u).Strs("events", cfg.WebhookEvents).Msg("webhook notification sender enabled")
	}

	a.auditor = audit.NewDispatcher(logger, auditSinks...)
	a.auditor.SetMetrics(a.metrics)
	a.notifier = notification.NewManager(logger, noticeSenders...)
	a.notifier.SetMetrics(a.metrics)

	a.beds = bed.NewService(bedRepo, tx)
	a.beds.SetAuditor(a.auditor)
	a.beds.SetMetrics(a.metrics)
	a.beds.SetCleaningTurnaround(cfg.CleaningTurnaround)

	a.matcher = allocation.NewMatcher(a.beds)
	a.matcher.SetMetrics(a.metrics)

	a.waitlist = waitlist.NewService(waitlistRepo, tx, a.matcher, a.beds)
	a.waitlist.SetAuditor(a.auditor)
	a.waitlist.SetNotifier(a.notifier)
	a.waitlist.SetMetrics(a.metrics)
	a.processor = waitlist.NewProcessor(a.waitlist, logger, cfg.WaitlistInterval)
	a.beds.OnAvailable(func(string) { a.processor.Kick() })

	a.transfers = transfer.NewService(transferRepo, tx, a.beds)
	a.transfers.SetAuditor(a.auditor)
	a.transfers.SetNotifier(a.notifier)
	a.transfers.SetMetrics(a.metrics)

	a.maintenance = maintenance.NewService(a.beds, tx)
	a.maintenance.SetNotifier(a.notifier)
	a.maintenance.SetMetrics(a.metrics)

	return a, nil
}

// close flushes the dispatchers before releasing connections so queued
// events still reach their sinks.
func (a *app) close() {
	if a.auditor != nil {
		a.auditor.Close()
	}
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close kafka writer")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close redis client")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *app) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.log))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.log))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(a.cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(a.cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}
	e.GET("/metrics", a.metrics.Handler())

	authMW := auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     a.cfg.AuthIssuer,
		Audience:   a.cfg.AuthAudience,
		JWKSURL:    a.cfg.AuthJWKSURL,
		SigningKey: []byte(a.cfg.AuthSigningKey),
	})
	if a.cfg.IsDev() && a.cfg.AuthSigningKey == "" && a.cfg.AuthJWKSURL == "" {
		authMW = auth.DevAuthMiddleware()
	}

	ws := e.Group("", authMW)
	websocket.NewHandler(a.hub, a.cfg.CORSOrigins).RegisterRoutes(ws)

	apiV1 := e.Group("/api/v1", authMW)
	bed.NewHandler(a.beds).RegisterRoutes(apiV1)
	allocation.NewHandler(a.matcher).RegisterRoutes(apiV1)
	waitlist.NewHandler(a.waitlist).RegisterRoutes(apiV1)
	transfer.NewHandler(a.transfers).RegisterRoutes(apiV1)
	maintenance.NewHandler(a.maintenance).RegisterRoutes(apiV1)
	notification.NewHandler(a.notifier).RegisterRoutes(apiV1)

	return e
}

// sweep runs the overdue-maintenance notifier and the waitlist expiry on a
// fixed period until ctx is cancelled.
func (a *app) sweep(ctx context.Context, interval time.Duration) {
	log := a.log.With().Str("component", "sweeper").Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		report, err := a.maintenance.NotifyOverdue(ctx)
		if err != nil {
			log.Error().Err(err).Msg("overdue scan failed")
		} else if len(report.Overdue) > 0 || report.DueSoon > 0 {
			log.Info().Int("overdue", len(report.Overdue)).Int("due_soon", report.DueSoon).Msg("maintenance scan")
		}

		expired, err := a.waitlist.ExpireStale(ctx, a.cfg.WaitlistMaxAge)
		if err != nil {
			log.Error().Err(err).Msg("waitlist expiry failed")
		} else if expired > 0 {
			log.Info().Int("expired", expired).Msg("stale waitlist entries expired")
		}
	}
}
