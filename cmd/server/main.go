package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	"github.com/maheshrc27/postflow/internal/cache"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	zl, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		zl.Fatal("database is unreachable", zap.Error(err))
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI, Password: cfg.RedisPassword}
	client := asynq.NewClient(redisConn)
	defer client.Close()
	inspector := asynq.NewInspector(redisConn)
	defer inspector.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURI, Password: cfg.RedisPassword})
	defer rdb.Close()
	sharedCache := cache.NewRedis(rdb, "postflow:")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(registry)

	jobQueue := queue.NewAsynqQueue(client, inspector, queue.AsynqConfig{
		Queue:     cfg.Queue.Name,
		Retention: cfg.Queue.JobRetention,
		Retry:     queue.DefaultRetryConfig(),
	}, zl.Named("queue"))

	postRepo := repository.NewPostRepository(db)
	linkRepo := repository.NewPlatformLinkRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	postMediaRepo := repository.NewPostMediaRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)

	r2Service, err := service.NewR2Service(context.Background(), cfg.R2)
	if err != nil {
		zl.Fatal("failed to configure media storage", zap.Error(err))
	}

	queueManager := service.NewQueueManager(jobQueue, postRepo, linkRepo, sharedCache, service.QueueManagerConfig{
		CancelMarkerTTL: cfg.Queue.CancelMarkerTTL,
		StatsCacheTTL:   cfg.Queue.StatsCacheTTL,
	}, zl.Named("scheduler"))
	postService := service.NewPostService(db, postRepo, linkRepo, socialAccountRepo, mediaAssetRepo, postMediaRepo, r2Service, queueManager)

	httpClient := &http.Client{Timeout: cfg.PublishTimeout}
	publishers := publisher.NewRegistry()
	publishers.Register(models.PlatformInstagram, publisher.NewInstagram("", httpClient))
	publishers.Register(models.PlatformTiktok, publisher.NewTiktok("", httpClient))
	publishers.Register(models.PlatformYoutube, publisher.NewYoutube(httpClient, ""))

	executor := service.NewPublishExecutor(postRepo, linkRepo, socialAccountRepo, postMediaRepo, publishers, sharedCache, cfg.Queue.PublishConcurrency, zl.Named("executor"))
	worker := queue.NewWorker(executor, zl.Named("worker"))

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	authMiddleware := middleware.NewAuthMiddleware(*cfg, zl.Named("auth"))

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())
	api.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitPerMinute,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return handlers.GetWorkspaceID(c)
		},
	}))

	handlers.RegisterRoutes(api,
		handlers.NewPostHandler(postService, queueManager, zl.Named("http")),
		handlers.NewQueueHandler(queueManager, zl.Named("http")),
	)

	// cron jobs
	queueMetricsJob := job.NewQueueMetricsJob(jobQueue, zl.Named("jobs"))

	c := cron.New()
	c.AddFunc("@every 30s", queueMetricsJob.Refresh)
	c.Start()
	defer c.Stop()

	server := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: cfg.Queue.WorkerConcurrency,
		Queues:      map[string]int{cfg.Queue.Name: 1},
		Logger:      zl.Named("asynq").Sugar(),
	})

	go func() {
		zl.Info("starting the asynq server", zap.String("queue", cfg.Queue.Name))
		if err := server.Run(worker.Mux()); err != nil {
			zl.Fatal("could not start asynq server", zap.Error(err))
		}
	}()

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			zl.Fatal("failed to start server", zap.Error(err))
		}
	}()
	zl.Info("server is running", zap.String("port", cfg.Port))

	gracefulShutdown(app, server, zl)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, server *asynq.Server, zl *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	zl.Info("shutting down server")

	if err := app.Shutdown(); err != nil {
		zl.Error("failed to shut down http server", zap.Error(err))
	}
	server.Shutdown()

	zl.Info("server shutdown complete")
}
