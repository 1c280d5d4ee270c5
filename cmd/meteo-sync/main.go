package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/meteolv/meteo-sync/internal/api/http"
	"github.com/meteolv/meteo-sync/internal/auth"
	"github.com/meteolv/meteo-sync/internal/ckan"
	"github.com/meteolv/meteo-sync/internal/config"
	"github.com/meteolv/meteo-sync/internal/meteo"
	"github.com/meteolv/meteo-sync/internal/scheduler"
	"github.com/meteolv/meteo-sync/internal/store"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Document store: Firestore via the credential factory, or in-memory.
	var docStore meteo.DocumentStore
	switch cfg.StoreBackend {
	case "firestore":
		factory, err := auth.Shared(auth.Options{
			ClientSecretPath: cfg.ClientSecretPath,
			TokenPath:        cfg.TokenCachePath,
			Scopes:           cfg.Scopes,
			SafetyMargin:     cfg.TokenSafetyMargin,
			Timeout:          cfg.AuthTimeout,
		})
		if err != nil {
			log.Fatalf("failed to build credential factory: %v", err)
		}
		// Obtain a token up front so the interactive flow, if needed,
		// runs before the service starts serving.
		if _, err := factory.Token(ctx); err != nil {
			log.Fatalf("failed to obtain credentials: %v", err)
		}
		fs, err := store.NewFirestoreStore(ctx, cfg.ProjectID, cfg.Collection, factory.TokenSource(ctx))
		if err != nil {
			log.Fatalf("failed to create firestore store: %v", err)
		}
		defer fs.Close()
		docStore = fs
	case "memory":
		docStore = store.NewMemoryStore()
	}

	// Shared HTTP client for outbound feed calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Feed client with resilience (backoff + circuit breaker).
	feed := ckan.NewClient(httpClient, cfg.CKANBaseURL)

	composer, err := meteo.NewComposer(feed, cfg.CKANBatch)
	if err != nil {
		log.Fatalf("failed to create composer: %v", err)
	}

	// Core service orchestrating feed, merge and store.
	service := meteo.NewService(composer, docStore, cfg.PruneWindow)

	// Scheduler that periodically syncs the configured metrics.
	sched := scheduler.New(cfg.Metrics, cfg.SyncInterval, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "meteo-sync",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "meteo-sync",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, service, cfg.Metrics)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
