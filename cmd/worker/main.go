package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"stylizer/internal/adapter/repo"
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

	jobs := repo.NewJobRepository(dbpool)
	svc := pipeline.NewService(pipeline.Deps{
		Jobs:     jobs,
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

	// Sweep re-drives go back through the broker so any worker can pick
	// them up. Without a broker the worker executes re-drives itself.
	var dispatcher pipeline.Dispatcher = &pipeline.InProcDispatcher{Exec: svc.ExecuteStep}
	var consumer *queue.Consumer
	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect amqp")
		}
		defer conn.Close()

		publisher, err := queue.NewPublisher(conn, cfg.ExchangeName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to declare exchange")
		}
		dispatcher = publisher

		consumer, err = queue.NewConsumer(conn, cfg.ExchangeName, cfg.QueueName, cfg.Prefetch, svc.ExecuteStep, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to declare queue")
		}
	} else {
		logger.Warn().Msg("AMQP_URL not set, worker runs sweep-only with in-process execution")
	}
	svc.SetDispatcher(dispatcher)

	sweeper := pipeline.NewSweeper(jobs, dispatcher, logger, cfg.StaleAfter, cfg.SweepInterval, cfg.MaxStepRetries)
	go sweeper.Run(ctx)

	if consumer != nil {
		logger.Info().Str("queue", cfg.QueueName).Msg("worker consuming")
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Fatal().Err(err).Msg("consumer stopped")
		}
	} else {
		<-ctx.Done()
	}

	logger.Info().Msg("worker stopped")
}
