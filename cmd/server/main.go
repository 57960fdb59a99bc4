package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	// Internal packages
	"github.com/seu-repo/voxdesk/internal/adapter/ai/responder"
	"github.com/seu-repo/voxdesk/internal/adapter/cache"
	"github.com/seu-repo/voxdesk/internal/adapter/http/fiber/handlers"
	"github.com/seu-repo/voxdesk/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/voxdesk/internal/adapter/queue"
	"github.com/seu-repo/voxdesk/internal/adapter/storage/postgres"
	"github.com/seu-repo/voxdesk/internal/adapter/telephony/telnyx"
	"github.com/seu-repo/voxdesk/internal/adapter/vault"
	"github.com/seu-repo/voxdesk/internal/observability/telemetry"
	"github.com/seu-repo/voxdesk/internal/ports"
	"github.com/seu-repo/voxdesk/internal/service/business"
	"github.com/seu-repo/voxdesk/internal/service/callflow"
	"github.com/seu-repo/voxdesk/internal/service/calllog"
	"github.com/seu-repo/voxdesk/internal/service/health"
	"github.com/seu-repo/voxdesk/pkg/config"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// 2. Initialize Logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	logger.Info("Starting voxdesk",
		zap.String("service", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	// 3. Pull secrets from Vault
	if cfg.Vault.Enabled {
		secrets, err := vault.NewSecretManager(cfg.Vault, logger)
		if err != nil {
			logger.Fatal("Failed to create vault client", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = secrets.Apply(ctx, cfg)
		cancel()
		if err != nil {
			logger.Fatal("Failed to load secrets from vault", zap.Error(err))
		}
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// 4. Initialize OpenTelemetry (Distributed Tracing)
	if cfg.OpenTelemetry.Enabled {
		tracerProvider, err := telemetry.InitTracer(
			cfg.OpenTelemetry.ServiceName,
			cfg.App.Version,
			cfg.OpenTelemetry.JaegerURL,
			cfg.OpenTelemetry.SamplerRatio,
		)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logger.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()
	}

	// 5. Initialize PostgreSQL Connection Pool
	db, err := postgres.NewConnection(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer postgres.Close(db)

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(db); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	// 6. Initialize Cache (Redis, in-memory when unavailable)
	businessCache := newCache(cfg, logger)
	defer businessCache.Close()

	// 7. Initialize Message Queue
	messageQueue, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatal("Failed to connect to message queue", zap.Error(err))
	}
	defer messageQueue.Close()

	// 8. Initialize Repositories and Services
	businessRepo := postgres.NewBusinessRepository(db, logger)
	callLogRepo := postgres.NewCallLogRepository(db, logger)

	directory := business.NewDirectory(businessRepo, businessCache, cfg.Cache.BusinessTTL, logger)
	callLogService := calllog.NewService(callLogRepo, messageQueue, cfg.Queue.CompletedSubject, logger)
	if err := callLogService.Start(); err != nil {
		logger.Fatal("Failed to start call log consumer", zap.Error(err))
	}

	// 9. Initialize Provider Clients
	callControl := telnyx.NewClient(cfg.Telnyx, cfg.CircuitBreaker, logger)
	responseGenerator := responder.NewClient(cfg.Responder, cfg.CircuitBreaker, logger)

	// 10. Initialize Call Event State Machine
	machine, err := callflow.NewMachine(directory, callControl, responseGenerator, callLogService, callflow.Settings{
		DefaultVoice:       cfg.Conversation.DefaultVoice,
		DefaultLanguage:    cfg.Conversation.DefaultLanguage,
		FillerText:         cfg.Conversation.FillerText,
		GatherInstructions: cfg.Conversation.GatherInstructions,
		GatherTimeout:      cfg.Conversation.GatherTimeout,
		FillerTimeout:      cfg.Conversation.FillerTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to build call state machine", zap.Error(err))
	}

	// 11. Health Checks
	healthService := health.NewService(cfg.App.Version, logger)
	healthService.RegisterPing("database", true, func(ctx context.Context) error {
		return postgres.Ping(ctx, db)
	})
	healthService.RegisterPing("cache", false, func(ctx context.Context) error {
		return businessCache.Ping()
	})
	healthService.RegisterPing("queue", false, func(ctx context.Context) error {
		return messageQueue.Ping()
	})

	// 12. Initialize Fiber HTTP Server
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		ServerHeader:          cfg.App.Name,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		IdleTimeout:           cfg.HTTP.IdleTimeout,
		BodyLimit:             cfg.HTTP.BodyLimit,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	// Global Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	if cfg.CORS.Enabled {
		app.Use(middleware.NewCORS(cfg.CORS))
	}

	health.NewFiberHandler(healthService).RegisterRoutes(app)

	// Metrics endpoint for Prometheus
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})

	handlers.NewWebhookHandler(machine, logger).RegisterRoutes(app)

	// 13. Start HTTP Server
	go func() {
		logger.Info("Starting HTTP Server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("HTTP Server failed", zap.Error(err))
		}
	}()

	// 14. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := machine.Drain(ctx); err != nil {
		logger.Warn("Filler speaks still in flight at shutdown", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	if cfg.Level == "debug" || cfg.Format == "console" {
		return zap.NewDevelopment()
	}

	zcfg := zap.NewProductionConfig()
	if level, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
		zcfg.Level = level
	}
	return zcfg.Build()
}

// newCache prefers Redis and falls back to a process-local cache so tenant
// lookups keep working when Redis is not configured or unreachable.
func newCache(cfg *config.Config, logger *zap.Logger) ports.Cache {
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis, logger)
		if err == nil {
			return redisCache
		}
		logger.Warn("Redis unavailable, using in-memory cache", zap.Error(err))
	}
	return cache.NewLocalCache(cfg.Cache.CleanupInterval, logger)
}
