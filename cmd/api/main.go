package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/vitalog-health/vitalog/internal/api"
	"github.com/vitalog-health/vitalog/internal/config"
	"github.com/vitalog-health/vitalog/internal/database"
	"github.com/vitalog-health/vitalog/internal/freecredit"
	"github.com/vitalog-health/vitalog/internal/ledger"
	"github.com/vitalog-health/vitalog/internal/metering"
	mw "github.com/vitalog-health/vitalog/internal/middleware"
	vnats "github.com/vitalog-health/vitalog/internal/nats"
	"github.com/vitalog-health/vitalog/internal/pricing"
	iredis "github.com/vitalog-health/vitalog/internal/redis"
	"github.com/vitalog-health/vitalog/internal/server"
	"github.com/vitalog-health/vitalog/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS JetStream (optional; usage events fall back to direct inserts)
	var natsClient *vnats.Client
	var publisher *vnats.Publisher
	if cfg.NATS.URL != "" {
		natsClient, err = vnats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = vnats.NewPublisher(natsClient.JetStream())
	} else {
		slog.Warn("NATS not configured, usage events will be written synchronously")
	}

	logger := slog.Default()

	// Usage recorder
	usageStore := usage.NewPostgresStore(pool)
	var recorder *usage.Recorder
	if publisher != nil {
		recorder = usage.NewRecorder(usageStore, publisher, logger)
	} else {
		recorder = usage.NewRecorder(usageStore, nil, logger)
	}

	if natsClient != nil {
		consumer := usage.NewConsumer(usageStore, vnats.NewConsumerManager(natsClient.JetStream()))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("usage consumer stopped", "error", err)
			}
		}()
	}

	// Metering engine
	walletSvc := ledger.NewService(ledger.NewPostgresStore(pool), cfg.Billing)
	creditSvc := freecredit.NewService(freecredit.NewPostgresStore(pool), cfg.FreeCredits)
	estimator := pricing.NewEstimator(cfg.Pricing)
	meterSvc := metering.NewService(walletSvc, creditSvc, estimator, recorder, cfg.Features, logger)
	meterHandler := metering.NewHandler(meterSvc)

	// Router
	routerCfg := api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
	}
	if cfg.RateLimit.Enabled {
		limiter := mw.NewRateLimiter(redisClient, cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSec)
		routerCfg.MeterRateLimiter = limiter.Middleware
	}

	router := api.NewRouter(pool, natsClient, routerCfg, api.HandlerSet{
		MeterCheck:     meterHandler.Check,
		MeterSettle:    meterHandler.Settle,
		CreditStatus:   meterHandler.CreditStatus,
		UsageBreakdown: meterHandler.UsageBreakdown,
		AddTopUp:       meterHandler.AddTopUp,
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
