package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/djinilabs/helpmaton-sub006/internal/config"
	"github.com/djinilabs/helpmaton-sub006/internal/credits"
	"github.com/djinilabs/helpmaton-sub006/internal/database"
	"github.com/djinilabs/helpmaton-sub006/internal/handler"
	"github.com/djinilabs/helpmaton-sub006/internal/jobs"
	"github.com/djinilabs/helpmaton-sub006/internal/limits"
	"github.com/djinilabs/helpmaton-sub006/internal/mailer"
	"github.com/djinilabs/helpmaton-sub006/internal/metrics"
	"github.com/djinilabs/helpmaton-sub006/internal/middleware"
	"github.com/djinilabs/helpmaton-sub006/internal/notify"
	"github.com/djinilabs/helpmaton-sub006/internal/pricing"
	"github.com/djinilabs/helpmaton-sub006/internal/redis"
	"github.com/djinilabs/helpmaton-sub006/internal/repository"
	"github.com/djinilabs/helpmaton-sub006/internal/store"
	"github.com/djinilabs/helpmaton-sub006/internal/usage"
)

// usageBackend both answers spend queries and stores settled usage.
type usageBackend interface {
	limits.UsageAggregator
	credits.UsageRecorder
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	appCtx, stopApp := context.WithCancel(context.Background())
	defer stopApp()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(appCtx, config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}
	cancel()
	log.Info().Msg("database connected")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	workspaceRepo := repository.NewWorkspaceRepository(db.DB)
	agentRepo := repository.NewAgentRepository(db.DB)
	reservationRepo := repository.NewReservationRepository(db.DB)
	notificationRepo := repository.NewNotificationRepository(db.DB)

	var usageStore usageBackend = repository.NewUsageRepository(db.DB)
	if cfg.UsageBackend == config.UsageBackendSQLite {
		sqliteStore, err := usage.Open(cfg.UsageSQLitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.UsageSQLitePath).Msg("failed to open usage store")
		}
		defer sqliteStore.Close()
		usageStore = sqliteStore
		log.Info().Str("path", cfg.UsageSQLitePath).Msg("usage stored in sqlite")
	}

	var records store.RecordStore = notificationRepo
	if cfg.NotificationStore == config.NotificationStoreRedis {
		ctx, cancel := context.WithTimeout(appCtx, config.DBPingTimeout)
		redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		records = redis.NewRecordStore(redisClient.Client, notificationRepo,
			redis.WithTTL(max(24*time.Hour, 2*cfg.NotificationCooldown())),
		)
		log.Info().Msg("notification throttle backed by redis")
	}

	prices := pricing.DefaultTable()
	if cfg.PricingFile != "" {
		loaded, err := pricing.LoadFile(cfg.PricingFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.PricingFile).Msg("failed to load pricing file")
		}
		prices.Replace(loaded)
		go func() {
			if err := pricing.Watch(appCtx, cfg.PricingFile, prices, m); err != nil {
				log.Error().Err(err).Msg("pricing watcher stopped")
			}
		}()
	}

	var mail mailer.Mailer = mailer.LogMailer{}
	if cfg.SMTPEnabled() {
		mail = mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  config.SMTPTimeout,
		})
	}

	flags := credits.NewToggleFlags(cfg.CreditDeductionEnabled)
	evaluator := limits.NewEvaluator(usageStore, limits.WithMetrics(m))
	notifier := notify.NewNotifier(records, workspaceRepo, mail,
		notify.WithCooldown(cfg.NotificationCooldown()),
		notify.WithConcurrency(config.NotifyConcurrency),
		notify.WithDispatchTimeout(config.NotifyTimeout),
		notify.WithBaseURL(cfg.AppBaseURL),
		notify.WithMetrics(m),
	)
	creditService := credits.NewService(db, workspaceRepo, agentRepo, reservationRepo, usageStore, prices, evaluator, flags,
		credits.WithReservationTTL(cfg.ReservationTTL()),
		credits.WithServiceMetrics(m),
	)
	meter := credits.NewMeter(creditService, flags,
		credits.WithNotifier(notifier),
		credits.WithMaxRetries(cfg.AdjustMaxRetries),
		credits.WithSettleTimeout(config.SettleTimeout),
	)

	operatorAuth := middleware.NewOperatorAuthMiddleware(cfg.OperatorTokenHash, middleware.NewAuthFailureLimiter())
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(config.MaxRequestBodyBytes)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	spendingHandler := handler.NewSpendingHandler(workspaceRepo, agentRepo, evaluator)
	meteringHandler := handler.NewMeteringHandler(meter, flags)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if err := db.Ping(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/ops", func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Use(operatorAuth.Handler)
		r.Mount("/workspaces/{workspaceID}/spending", spendingHandler.Routes())
		r.Mount("/metering", meteringHandler.Routes())
	})

	sweepJob := jobs.NewReservationSweepJob(creditService, cfg.ReservationSweepSchedule)
	if err := sweepJob.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start reservation sweep")
	}
	defer sweepJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerRequestTimeout + 5*time.Second,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Bool("creditDeduction", flags.CreditDeductionEnabled()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
