package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"breadcrumbd/internal/config"
	"breadcrumbd/internal/crypto"
	"breadcrumbd/internal/database"
	"breadcrumbd/internal/events"
	"breadcrumbd/internal/handlers"
	"breadcrumbd/internal/jobs"
	"breadcrumbd/internal/logging"
	"breadcrumbd/internal/middleware"
	"breadcrumbd/internal/services"
	"breadcrumbd/pkg/auth"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("[CONFIG] No .env file found, using environment variables")
	}

	cfg := config.Load()
	logging.Init()

	if cfg.JWTSecret == "" {
		log.Fatal("[CONFIG] JWT_SECRET is required")
	}
	if cfg.EncryptionMasterKey == "" {
		log.Fatal("[CONFIG] ENCRYPTION_MASTER_KEY is required (64 hex chars; generate one with openssl rand -hex 32)")
	}

	// Database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[DATABASE] Failed to connect: %v", err)
	}
	if err := db.Initialize(); err != nil {
		log.Fatalf("[DATABASE] Failed to initialize schema: %v", err)
	}

	// Secrets encryption
	encryption, err := crypto.NewEncryptionService(cfg.EncryptionMasterKey)
	if err != nil {
		log.Fatalf("[CRYPTO] %v", err)
	}

	// Event fan-out, with optional cross-instance relay over redis
	bus := events.NewBus(cfg.EventQueueSize)
	var relay *events.Relay
	if cfg.RedisURL != "" {
		relay, err = events.NewRelay(cfg.RedisURL, uuid.New().String(), bus)
		if err != nil {
			log.Fatalf("[RELAY] Failed to connect to redis: %v", err)
		}
		bus.SetRelay(relay)
		if err := relay.Start(); err != nil {
			log.Fatalf("[RELAY] Failed to start: %v", err)
		}
		log.Println("[RELAY] Cross-instance event relay enabled")
	}

	// Services
	breadcrumbService := services.NewBreadcrumbService(db, bus)
	secretService := services.NewSecretService(db, encryption)
	agentService := services.NewAgentService(db)
	subscriptionService := services.NewSubscriptionService(db)
	idempotencyStore := services.NewIdempotencyStore()
	services.InitMetrics(bus)

	tokenAuth, err := auth.NewTokenAuth(cfg.JWTSecret, cfg.AccessTokenExpiry)
	if err != nil {
		log.Fatalf("[AUTH] Failed to create token authority: %v", err)
	}

	// Background TTL purge
	purger, err := jobs.NewTTLPurger(breadcrumbService, cfg.PurgeInterval)
	if err != nil {
		log.Fatalf("[JOBS] Failed to create TTL purger: %v", err)
	}
	if err := purger.Start(); err != nil {
		log.Fatalf("[JOBS] Failed to start TTL purger: %v", err)
	}

	// Handlers
	breadcrumbHandler := handlers.NewBreadcrumbHandler(breadcrumbService, idempotencyStore)
	secretHandler := handlers.NewSecretHandler(secretService)
	agentHandler := handlers.NewAgentHandler(agentService)
	authHandler := handlers.NewAuthHandler(agentService, tokenAuth)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService)
	eventsHandler := handlers.NewEventsHandler(bus, subscriptionService, cfg.HeartbeatInterval)
	adminHandler := handlers.NewAdminHandler(purger)
	healthHandler := handlers.NewHealthHandler(db, bus)

	app := fiber.New(fiber.Config{
		AppName:      "breadcrumbd v1.0",
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second, // event streams stay open across heartbeats
		BodyLimit:    5 * 1024 * 1024,
		UnescapePath: true,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("breadcrumbd")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("[METRICS] Prometheus endpoint enabled at /metrics")

	allowedOrigins := cfg.AllowedOrigins
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("[CONFIG] ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,If-Match,Idempotency-Key",
		AllowCredentials: allowedOrigins != "*",
	}))

	rateLimitConfig := middleware.LoadRateLimitConfig()
	app.Use("/breadcrumbs", middleware.GlobalAPIRateLimiter(rateLimitConfig))
	app.Use("/secrets", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Public surface
	app.Get("/health", healthHandler.Handle)
	app.Post("/auth/token", authHandler.Token)

	authed := middleware.AuthMiddleware(tokenAuth)
	mutation := middleware.MutationRateLimiter(rateLimitConfig)

	// Breadcrumb store
	bc := app.Group("/breadcrumbs", authed)
	bc.Get("/", breadcrumbHandler.List)
	bc.Get("/search", breadcrumbHandler.SemanticSearch)
	bc.Post("/query", breadcrumbHandler.Search)
	bc.Post("/", mutation, middleware.RequireCapability(middleware.OpCreate), breadcrumbHandler.Create)
	bc.Get("/:id", breadcrumbHandler.Get)
	bc.Get("/:id/full", breadcrumbHandler.GetFull)
	bc.Get("/:id/history", breadcrumbHandler.History)
	bc.Patch("/:id", mutation, middleware.RequireCapability(middleware.OpUpdate), breadcrumbHandler.Update)
	bc.Delete("/:id", mutation, middleware.RequireCapability(middleware.OpDelete), breadcrumbHandler.Delete)
	bc.Post("/:id/tags/add", mutation, middleware.RequireCapability(middleware.OpUpdate), breadcrumbHandler.AddTags)
	bc.Post("/:id/tags/remove", mutation, middleware.RequireCapability(middleware.OpUpdate), breadcrumbHandler.RemoveTags)
	bc.Post("/:id/context/merge", mutation, middleware.RequireCapability(middleware.OpUpdate), breadcrumbHandler.MergeContext)
	bc.Post("/:id/approve", mutation, middleware.RequireCapability(middleware.OpUpdate), breadcrumbHandler.Approve)
	bc.Post("/:id/reject", mutation, middleware.RequireCapability(middleware.OpUpdate), breadcrumbHandler.Reject)

	// Secrets guard
	sec := app.Group("/secrets", authed, middleware.RequireCapability(middleware.OpSecretUse))
	sec.Get("/", secretHandler.List)
	sec.Post("/", secretHandler.Create)
	sec.Put("/:id", secretHandler.Update)
	sec.Delete("/:id", secretHandler.Delete)
	sec.Post("/:id/decrypt", secretHandler.Decrypt)
	sec.Get("/:id/audit", secretHandler.Audits)

	// Event stream
	app.Use("/events", middleware.StreamRateLimiter(rateLimitConfig), authed, middleware.RequireCapability(middleware.OpSubscribe))
	app.Get("/events/stream", eventsHandler.Stream)
	app.Use("/events/ws", eventsHandler.WebSocketUpgrade)
	app.Get("/events/ws", eventsHandler.WebSocket())

	// Durable subscriptions
	subs := app.Group("/subscriptions", authed, middleware.RequireCapability(middleware.OpSubscribe))
	subs.Post("/", subscriptionHandler.Create)
	subs.Get("/", subscriptionHandler.List)
	subs.Put("/:id", subscriptionHandler.Update)
	subs.Delete("/:id", subscriptionHandler.Delete)

	// Agent registry and ops
	agents := app.Group("/agents", authed, middleware.RequireCapability(middleware.OpSecretUse))
	agents.Post("/", agentHandler.Register)
	agents.Get("/", agentHandler.List)
	agents.Get("/:id", agentHandler.Get)
	agents.Put("/:id/roles", agentHandler.SetRoles)
	agents.Post("/:id/secret", agentHandler.SetSecret)
	agents.Delete("/:id", agentHandler.Delete)
	app.Post("/admin/purge", authed, middleware.RequireCapability(middleware.OpSecretUse), adminHandler.Purge)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("[SERVER] Shutting down...")

		purger.Stop()
		if relay != nil {
			relay.Stop()
		}
		if err := app.Shutdown(); err != nil {
			log.Printf("[SERVER] Error shutting down: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("[DATABASE] Error closing: %v", err)
		}
	}()

	log.Printf("[SERVER] Listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("[SERVER] Failed to start: %v", err)
	}
}
