package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	redisbus "github.com/tortodelova/backend/internal/clients/redis"
	"github.com/tortodelova/backend/internal/db"
	"github.com/tortodelova/backend/internal/handlers"
	"github.com/tortodelova/backend/internal/logger"
	"github.com/tortodelova/backend/internal/middleware"
	"github.com/tortodelova/backend/internal/repos"
	"github.com/tortodelova/backend/internal/server"
	"github.com/tortodelova/backend/internal/services"
	"github.com/tortodelova/backend/internal/sse"
	"github.com/tortodelova/backend/internal/utils"
)

func main() {
	_ = godotenv.Load()

	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	accessTokenTTL := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
	modelCatalogPath := utils.GetEnv("MODEL_CATALOG_PATH", "configs/models.yaml", log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	transactionRepo := repos.NewTransactionRepo(thePG, log)
	mlModelRepo := repos.NewMLModelRepo(thePG, log)
	predictionRepo := repos.NewPredictionRepo(thePG, log)
	queueMessageRepo := repos.NewQueueMessageRepo(thePG, log)

	// Event bus (optional; pipeline runs without it)
	sseHub := sse.NewHub(log)
	var notifier services.PredictionNotifier
	eventBus, busErr := redisbus.NewEventBus(log)
	if busErr != nil {
		log.Warn("Redis event bus unavailable, notifications disabled", "error", busErr)
		notifier = services.NewNoopNotifier()
	} else {
		defer eventBus.Close()
		notifier = services.NewPredictionNotifier(log, eventBus)
	}

	// Services
	log.Info("Setting up Services from main...")
	bucketService, err := services.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	translationClient, err := services.NewTranslationClient(log)
	if err != nil {
		log.Error("Could not init TranslationClient", "error", err)
		os.Exit(1)
	}
	imageGenClient, err := services.NewImageGenClient(log)
	if err != nil {
		log.Error("Could not init ImageGenClient", "error", err)
		os.Exit(1)
	}

	ledgerService := services.NewLedgerService(thePG, log, userRepo, transactionRepo)
	authService := services.NewAuthService(thePG, log, userRepo, ledgerService, jwtSecretKey, time.Duration(accessTokenTTL)*time.Second)
	userService := services.NewUserService(thePG, log, userRepo, ledgerService, notifier)
	queueService := services.NewPredictionQueueService(thePG, log, userRepo, mlModelRepo, queueMessageRepo)
	predictionService := services.NewPredictionService(thePG, log, predictionRepo, ledgerService, bucketService, notifier)

	// Model catalog
	modelCatalog := services.NewModelCatalog(thePG, log, mlModelRepo)
	if err := modelCatalog.SyncFromFile(context.Background(), modelCatalogPath); err != nil {
		log.Error("Model catalog sync failed", "error", err, "path", modelCatalogPath)
		os.Exit(1)
	}

	// Workers
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Forward bus events to this replica's open streams.
	if busErr == nil {
		if err := eventBus.StartForwarder(rootCtx, sseHub.Broadcast); err != nil {
			log.Warn("Event forwarder failed to start", "error", err)
		}
	}

	generationWorker := services.NewGenerationWorker(thePG, log, queueMessageRepo, translationClient, imageGenClient, bucketService)
	generationWorker.Start(rootCtx)
	resultPersister := services.NewResultPersisterService(thePG, log, queueMessageRepo, predictionRepo, ledgerService, notifier)
	resultPersister.Start(rootCtx)

	// Handlers
	log.Info("Setting up handlers from main...")
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(userService)
	predictionHandler := handlers.NewPredictionHandler(queueService, predictionService, bucketService)
	eventsHandler := handlers.NewEventsHandler(log, sseHub)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(log, authService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthHandler:       authHandler,
		AuthMiddleware:    authMiddleware,
		UserHandler:       userHandler,
		PredictionHandler: predictionHandler,
		EventsHandler:     eventsHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	g, gCtx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}
