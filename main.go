package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"greendrake/tutormatch/internal/api"
	"greendrake/tutormatch/internal/cache"
	"greendrake/tutormatch/internal/config"
	"greendrake/tutormatch/internal/db"
	"greendrake/tutormatch/internal/logging"
	"greendrake/tutormatch/internal/notify"
	"greendrake/tutormatch/internal/repository"
	"greendrake/tutormatch/internal/services"
	"greendrake/tutormatch/internal/tasks"
	"greendrake/tutormatch/internal/utils"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'all' (default)")

func main() {
	flag.Parse()

	logger := logging.NewLogger(os.Getenv("APP_ENV"))
	defer func() { _ = logger.Sync() }()

	// Load configuration
	cfg, err := config.Load(*runMode)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	// Initialize Database
	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient, logger); err != nil {
			logger.Error("error disconnecting from MongoDB", zap.Error(err))
		}
	}()

	indexCtx, cancelIndex := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureIndexes(indexCtx, mongoDb); err != nil {
		cancelIndex()
		logger.Fatal("failed to create indexes", zap.Error(err))
	}
	cancelIndex()

	// Initialize Cache (Redis)
	redisClient, err := cache.ConnectRedis(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient, logger); err != nil {
			logger.Error("error disconnecting from Redis", zap.Error(err))
		}
	}()

	// Notification senders used by the worker
	compositeSender := notify.NewCompositeSender(notify.NewLoggingSender(logger))
	var outbox api.NotificationReader
	if cfg.MockServices {
		logger.Info("MOCK_SERVICES enabled: notifications are kept in Redis")
		redisSender := notify.NewRedisSender(redisClient, logger)
		compositeSender.AddSender(redisSender)
		outbox = redisSender
	}
	if cfg.LogNotifications {
		fileSender, err := notify.NewFileSender(cfg.NotificationLogDir)
		if err != nil {
			logger.Warn("file notification logger disabled", zap.String("dir", cfg.NotificationLogDir), zap.Error(err))
		} else {
			compositeSender.AddSender(fileSender)
			logger.Info("file notification logger enabled", zap.String("path", fileSender.Path()))
		}
	}

	// Task client and the collaborators built on it
	taskClient := tasks.NewClient(cfg)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error("error closing task client", zap.Error(err))
		}
	}()
	clock := utils.RealClock{}
	dispatcher := tasks.NewDispatcher(taskClient, cfg, clock)
	scheduler := tasks.NewElevationScheduler(taskClient, cfg)

	// Lifecycle services
	repos := repository.NewMongoRepositories(mongoDb)
	chatService := services.NewChatService(repos.ChatRooms, cfg, clock, logger)
	svc := api.Services{
		Posts:        services.NewPostService(repos, cfg, clock, dispatcher, logger),
		Applications: services.NewApplicationService(repos, chatService, scheduler, cfg, clock, dispatcher, logger),
		Chat:         chatService,
	}

	taskProcessor := tasks.NewTaskProcessor(compositeSender, chatService, logger)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// WaitGroup for managing goroutines
	var wg sync.WaitGroup

	// Channel to signal shutdown from Service API
	shutdownChan := make(chan struct{}, 1)

	// Start Service API (always runs)
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(outbox, shutdownChan, logger),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("service API listening", zap.String("port", cfg.ServiceApiPort))
		if err := serviceSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("service API ListenAndServe error", zap.Error(err))
		}
		logger.Info("service API server stopped")
	}()

	// --- Mode-specific servers ---
	var mainApiSrv *http.Server
	var backgroundTaskSrv *asynq.Server

	logger.Info("starting application", zap.String("mode", cfg.RunMode))

	apiMode := func() {
		mainApiSrv = &http.Server{
			Addr:              ":" + cfg.ApiPort,
			Handler:           api.SetupRouter(rootCtx, cfg, svc, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("main API listening", zap.String("port", cfg.ApiPort))
			if err := mainApiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("main API ListenAndServe error", zap.Error(err))
			}
			logger.Info("main API server stopped")
		}()
	}

	bgMode := func() {
		backgroundTaskSrv = tasks.NewServer(cfg, logger)
		mux := tasks.NewServeMux(taskProcessor)
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("background task server starting")
			if err := backgroundTaskSrv.Run(mux); err != nil {
				logger.Fatal("background task server error", zap.Error(err))
			}
			logger.Info("background task server stopped")
		}()
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "all":
		apiMode()
		bgMode()
	default:
		logger.Fatal("invalid run mode", zap.String("mode", cfg.RunMode))
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case <-shutdownChan:
		logger.Info("shutdown requested via service API")
	}
	cancelRoot()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		logger.Error("service API server shutdown error", zap.Error(err))
	}
	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			logger.Error("main API server shutdown error", zap.Error(err))
		}
	}
	if backgroundTaskSrv != nil {
		backgroundTaskSrv.Shutdown()
	}

	logger.Info("waiting for servers to stop")
	wg.Wait()
	logger.Info("server gracefully stopped")
}
