package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/onpostt/relay/internal/archive"
	"github.com/onpostt/relay/internal/config"
	"github.com/onpostt/relay/internal/database"
	"github.com/onpostt/relay/internal/handlers"
	"github.com/onpostt/relay/internal/logging"
	"github.com/onpostt/relay/internal/metrics"
	"github.com/onpostt/relay/internal/middleware"
	"github.com/onpostt/relay/internal/routes"
	"github.com/onpostt/relay/internal/services"
	"github.com/onpostt/relay/internal/session"
	"github.com/onpostt/relay/internal/ws"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()

	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(database.DB)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		pgLogHandler,
	)))

	// Background services
	done := make(chan struct{})
	logging.StartCleanup(database.DB, cfg.LogRetentionDays, done)

	archiver := archive.NewArchiver(database.DB, cfg.ArchiveDir, cfg.ArchiveInterval)
	archiver.Start(done)

	// Relay core
	store := services.NewGormStore(database.DB)
	sessions := session.NewRegistry()
	filters := services.NewFilterService(store, cfg.MaxBlocksPerRequest)
	relay := services.NewRelayService(store, filters, sessions, cfg.BlockMaxAge)

	// Handlers
	relayHandler := handlers.NewRelayHandler(relay)
	healthHandler := handlers.NewHealthHandler()
	wsHandler := ws.NewHandler(cfg, relay)

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    cfg.HTTPMaxBodySize,
		ErrorHandler: customErrorHandler,
	})

	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))

	connLimit, httpActive := middleware.ConnLimit(cfg.HTTPMaxConnections)
	app.Use(connLimit)

	// Routes
	routes.Setup(app, relayHandler, healthHandler, wsHandler)

	// Metrics sampling
	sampler := metrics.NewSampler(cfg.MetricsInterval, sessions,
		wsHandler.ActiveConnections, httpActive.Load)
	sampler.Start(done)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("relay starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down relay...")

	close(done)
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if sqlDB, err := database.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("relay stopped")
}

// customErrorHandler keeps per-request failures structured and the process
// alive; unexpected errors are logged and answered, never fatal.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"status":  "erro",
		"message": message,
	})
}
