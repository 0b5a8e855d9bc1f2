package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"stylizer/internal/adapter/repo"
	"stylizer/internal/http/handlers"
	httpapi "stylizer/internal/http/httpapi"
	"stylizer/internal/infra"
	"stylizer/internal/pipeline"
	"stylizer/internal/providers/genai"
	"stylizer/internal/providers/image"
	"stylizer/internal/queue"
	"stylizer/internal/safety"
	"stylizer/internal/statuscache"
	"stylizer/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	var cache pipeline.StatusCache
	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
		cache = statuscache.New(redisClient, 10*time.Minute)
	}

	var store storage.Gateway
	if cfg.MinioEndpoint != "" {
		store, err = storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:     cfg.MinioEndpoint,
			AccessKey:    cfg.MinioAccessKey,
			SecretKey:    cfg.MinioSecretKey,
			UseSSL:       cfg.MinioUseSSL,
			BucketPrefix: cfg.BucketPrefix,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect object storage")
		}
	} else {
		store, err = storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare local storage")
		}
	}

	genaiClient, err := genai.NewClient(genai.Options{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build image provider")
	}

	svc := pipeline.NewService(pipeline.Deps{
		Jobs:     repo.NewJobRepository(dbpool),
		Selfies:  repo.NewSelfieRepository(dbpool),
		Posts:    repo.NewPostRepository(dbpool),
		Profiles: repo.NewProfileRepository(dbpool),
		Store:    store,
		Provider: image.NewGeminiGenerator(genaiClient),
		Safety:   safety.NewKeywordChecker(),
		Cache:    cache,
		Logger:   logger,
	}, pipeline.Config{
		MaxActiveJobs:  cfg.MaxActiveJobs,
		MaxPromptLen:   cfg.MaxPromptLen,
		MaxStepRetries: cfg.MaxStepRetries,
		ThumbWidth:     cfg.ThumbWidth,
		ReadURLTTL:     cfg.ReadURLTTL,
		PublishURLTTL:  cfg.PublishURLTTL,
	})

	// With a broker the API only enqueues; without one it executes steps on
	// background goroutines in this process.
	var amqpConn *amqp.Connection
	if cfg.AMQPURL != "" {
		amqpConn, err = amqp.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect amqp")
		}
		defer amqpConn.Close()
		publisher, err := queue.NewPublisher(amqpConn, cfg.ExchangeName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to declare exchange")
		}
		svc.SetDispatcher(publisher)
	} else {
		logger.Warn().Msg("AMQP_URL not set, executing steps in-process")
		svc.SetDispatcher(&pipeline.InProcDispatcher{Exec: svc.ExecuteStep})
	}

	app := handlers.NewApp(svc, logger)
	app.Checks = []handlers.ReadinessCheck{
		{Name: "database", Check: dbpool.Ping},
	}
	if redisClient != nil {
		app.Checks = append(app.Checks, handlers.ReadinessCheck{
			Name: "cache",
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	if amqpConn != nil {
		app.Checks = append(app.Checks, handlers.ReadinessCheck{
			Name: "queue",
			Check: func(ctx context.Context) error {
				if amqpConn.IsClosed() {
					return fmt.Errorf("amqp connection closed")
				}
				return nil
			},
		})
	}

	router := httpapi.NewRouter(app, cfg, logger)
	if err := infra.Serve(ctx, cfg, router, logger); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
	logger.Info().Msg("server stopped")
}
