package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-gl-closing/internal/cache"
	"github.com/pesio-ai/be-gl-closing/internal/client"
	"github.com/pesio-ai/be-gl-closing/internal/config"
	"github.com/pesio-ai/be-gl-closing/internal/database"
	"github.com/pesio-ai/be-gl-closing/internal/handler"
	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
	"github.com/pesio-ai/be-gl-closing/internal/service"
	"github.com/pesio-ai/be-gl-closing/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Logger.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting GL Closing Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Redis backs the settings cache and the period lock. Both degrade to
	// no-ops when it is not configured.
	rdb, err := cache.NewClient(ctx, cache.Config{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
		log.Info().Str("address", cfg.Redis.Address).Msg("Redis connection established")
	} else {
		log.Warn().Msg("Redis not configured; settings are uncached and period transitions run unlocked")
	}

	// NATS carries notifications and domain events
	nc, err := client.ConnectNATS(client.NATSConfig{URL: cfg.NATS.URL, Name: cfg.NATS.Name}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	if nc != nil {
		defer nc.Drain()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS not configured; notifications and events are dropped")
	}
	pub, err := client.NewJetStreamPublisher(nc)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create JetStream publisher")
	}

	notifier := client.NewNotificationPublisher(pub, log)
	events := client.NewEventPublisher(pub, cfg.Service.Name, log)

	// Initialize repositories
	ruleRepo := repository.NewApprovalRulesRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	periodRepo := repository.NewClosingPeriodRepository(db)
	checklistRepo := repository.NewChecklistRepository(db)
	templateRepo := repository.NewPeriodTemplateRepository(db)
	revisionRepo := repository.NewRevisionLogRepository(db)
	journalRepo := repository.NewJournalRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	permRepo := repository.NewPermissionRepository(db)

	settingsCache := cache.NewRedisCache(rdb, "closing:settings:")
	locker := cache.NewLocker(rdb, "closing:lock:", 30*time.Second)

	// Initialize services
	settingsService := service.NewSettingsService(settingsRepo, settingsCache, cfg.Settings.CacheTTL, log)
	ruleEngine := service.NewRuleEngine(ruleRepo, log)
	approvalService := service.NewApprovalService(db, approvalRepo, auditRepo, ruleEngine, permRepo,
		settingsService, notifier, events, log)
	approvableService := service.NewApprovableService(ruleEngine, approvalService, settingsService, log)
	periodService := service.NewClosingPeriodService(db, periodRepo, checklistRepo, templateRepo, revisionRepo,
		auditRepo, settingsService, locker, notifier, events, log)
	revisionService := service.NewRevisionService(db, revisionRepo, journalRepo, periodService, auditRepo,
		permRepo, settingsService, notifier, events, log)

	services := handler.Services{
		Approvals:   approvalService,
		Approvables: approvableService,
		Rules:       ruleEngine,
		Periods:     periodService,
		Revisions:   revisionService,
		Settings:    settingsService,
		Permissions: permRepo,
	}

	// Setup HTTP server
	router := handler.NewRouter(handler.NewHTTPHandler(services, log), handler.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(client.UserIDServerInterceptor))
	handler.NewGRPCHandler(services, log).Register(grpcServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(client.ClosingServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Start reminder worker
	var reminders *worker.ReminderWorker
	if cfg.Reminder.Enabled {
		reminders = worker.NewReminderWorker(periodService, approvalService, ruleEngine, revisionService,
			settingsService, notifier, locker, cfg.Reminder.Interval, log)
		if err := reminders.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start reminder worker")
		}
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	if reminders != nil {
		reminders.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	healthServer.Shutdown()
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}
