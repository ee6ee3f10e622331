package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"flowsync/internal/config"
	"flowsync/internal/database"
	"flowsync/internal/handlers"
	"flowsync/internal/jobs"
	"flowsync/internal/logging"
	"flowsync/internal/middleware"
	"flowsync/internal/services"
	"flowsync/internal/store"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting FlowSync Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Window: %v, StaleAfter: %v)", cfg.Port, cfg.MatchWindow, cfg.StaleAfter)

	// Context store: MongoDB in production, in-memory when no URI is set
	// (single-node development only — nothing survives a restart).
	var mongoDB *database.MongoDB
	var contextStore store.ContextStore

	if cfg.MongoURI != "" {
		log.Println("🔗 Connecting to MongoDB...")
		var err error
		mongoDB, err = database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
		}
		defer mongoDB.Close(context.Background())

		if err := mongoDB.Initialize(context.Background()); err != nil {
			log.Fatalf("❌ Failed to initialize MongoDB indexes: %v", err)
		}
		contextStore = store.NewMongoStore(mongoDB)
	} else {
		log.Println("⚠️ MONGODB_URI not set - using in-memory store (development only)")
		contextStore = store.NewMemoryStore()
	}

	// LLM providers (extraction / embedding / generation)
	providers, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		log.Fatalf("❌ Failed to load providers from %s: %v", cfg.ProvidersFile, err)
	}
	registry := services.NewProviderRegistry(providers)
	log.Printf("✅ LLM providers loaded (extraction: %s, embedding: %s)", providers.Extraction.Model, providers.Embedding.Model)

	watchProvidersFile(cfg.ProvidersFile, registry)

	// Redis (optional - pub/sub fan-out of linking activity)
	var redisService *services.RedisService
	var pubsubService *services.PubSubService
	if cfg.RedisURL != "" {
		log.Println("🔗 Connecting to Redis...")
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (pub/sub disabled)", err)
			redisService = nil
		} else {
			pubsubService = services.NewPubSubService(redisService, uuid.New().String())
			defer pubsubService.Close()

			// Observe linking and merge activity from other instances.
			observe := func(channel string, msg *services.PubSubMessage) {
				log.Printf("📡 [PUBSUB] %s on %s for %s/%s (context %s)", msg.Type, channel, msg.ProjectID, msg.Branch, msg.ContextID)
			}
			pubsubService.Subscribe(services.ChannelContextLinked, observe)
			pubsubService.Subscribe(services.ChannelBranchMerged, observe)
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - pub/sub notifications disabled")
	}

	metrics := services.InitMetrics()

	// Core services
	extractionClient := services.NewExtractionClient(registry)
	embeddingClient := services.NewEmbeddingClient(registry, cfg.EmbeddingDimensions)
	generationClient := services.NewGenerationClient(registry)

	linkingService := services.NewLinkingService(contextStore, extractionClient, embeddingClient, pubsubService, metrics, cfg.MatchWindow)
	resolverService := services.NewBranchResolverService(contextStore, pubsubService, metrics)
	searchService := services.NewSearchService(resolverService, embeddingClient, generationClient, metrics)
	log.Println("✅ Linking, resolver and search services initialized")

	// Background jobs
	scheduler, err := jobs.NewScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	if err := scheduler.Register(jobs.NewStaleSweepJob(contextStore, metrics, cfg.StaleAfter, cfg.SweepEvery)); err != nil {
		log.Fatalf("❌ Failed to register stale sweep job: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName:      "FlowSync",
		ErrorHandler: errorHandler,
		BodyLimit:    4 * 1024 * 1024, // diffs can be large, raw uploads are not our job
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if cfg.Environment != "production" {
		app.Use(logger.New())
	}

	prometheusMiddleware := fiberprometheus.New("flowsync")
	prometheusMiddleware.RegisterAt(app, "/metrics")
	app.Use(prometheusMiddleware.Middleware)

	rateLimits := middleware.LoadRateLimitConfig()
	app.Use("/api", middleware.GlobalLimiter(rateLimits))
	app.Use("/api", middleware.APIKeyMiddleware(cfg.APIKeys))

	// Handlers
	eventHandler := handlers.NewEventHandler(linkingService, contextStore)
	reasoningHandler := handlers.NewReasoningHandler(linkingService)
	contextHandler := handlers.NewContextHandler(resolverService, contextStore)
	searchHandler := handlers.NewSearchHandler(searchService)
	healthHandler := handlers.NewHealthHandler(mongoDB, redisService)

	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api/v1")
	api.Post("/events/push", middleware.IngestLimiter(rateLimits), eventHandler.HandlePush)
	api.Get("/events/failed", eventHandler.ListFailedEvents)
	api.Post("/reasoning", middleware.IngestLimiter(rateLimits), reasoningHandler.SubmitReasoning)
	api.Get("/context", contextHandler.Resolve)
	api.Get("/context/feature-state", contextHandler.FeatureState)
	api.Get("/context/stats", contextHandler.Stats)
	api.Get("/context/records/:contextId", contextHandler.GetRecord)
	api.Post("/branches/merge", contextHandler.BranchMerged)
	api.Post("/search", middleware.SearchLimiter(rateLimits), searchHandler.Search)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("🛑 Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("⚠️ Server shutdown error: %v", err)
		}
	}()

	log.Printf("🌐 FlowSync listening on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
}

// watchProvidersFile hot-reloads the providers file on change so model or
// endpoint swaps do not require a restart.
func watchProvidersFile(path string, registry *services.ProviderRegistry) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️ Failed to create providers watcher: %v (hot reload disabled)", err)
		return
	}

	// Watch the directory: editors replace files rather than write in place.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️ Failed to watch %s: %v (hot reload disabled)", dir, err)
		watcher.Close()
		return
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					registry.Reload(path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ Providers watcher error: %v", err)
			}
		}
	}()

	log.Printf("👀 Watching %s for provider changes", path)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
