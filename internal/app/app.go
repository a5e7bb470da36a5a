// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/Bookwise/internal/config"
	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/core/cache"
	db "github.com/markdave123-py/Bookwise/internal/core/database"
	"github.com/markdave123-py/Bookwise/internal/core/enrichment"
	"github.com/markdave123-py/Bookwise/internal/core/fetcher"
	"github.com/markdave123-py/Bookwise/internal/core/ingestion_engine"
	"github.com/markdave123-py/Bookwise/internal/core/llm"
	objectclient "github.com/markdave123-py/Bookwise/internal/core/object-client"
	"github.com/markdave123-py/Bookwise/internal/core/pipeline"
	"github.com/markdave123-py/Bookwise/internal/core/queue"
	"github.com/markdave123-py/Bookwise/internal/core/reader"
	"github.com/markdave123-py/Bookwise/internal/core/retry"
	"github.com/markdave123-py/Bookwise/internal/services"
)

type App struct {
	cfg         *config.Config
	DBClient    core.DbClient
	Queue       queue.Queue
	Coordinator *pipeline.Coordinator
	Server      *Server

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// persistence
	if cfg.DatabaseURL == "" {
		a.DBClient = db.NewMemoryStore()
	} else {
		dbClient, err := db.NewDatabaseClient(appCtx, cfg)
		if err != nil {
			return nil, err
		}
		a.DBClient = dbClient
		log.Info().Msg("database initialized and ready")
	}
	a.closers = append(a.closers, a.DBClient.Close)

	var objClient core.ObjectClient
	if cfg.AwsAccessKey != "" {
		s3Client, err := objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			return nil, err
		}
		objClient = s3Client
	} else {
		log.Warn().Msg("AWS credentials not set, uploads are disabled")
	}

	var hot cache.HotLayer
	if cfg.RedisAddr != "" {
		redisLayer, err := cache.NewRedisLayer(appCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		hot = redisLayer
		a.closers = append(a.closers, redisLayer.Close)
	}

	if cfg.AMQPURL != "" {
		amqpQueue, err := queue.NewAMQPQueue(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return nil, err
		}
		a.Queue = amqpQueue
	} else {
		a.Queue = queue.NewChannelQueue(64)
	}
	a.closers = append(a.closers, a.Queue.Close)

	// AI providers
	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}
	a.closers = append(a.closers, embedder.Close)

	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the llm: %w", err)
	}
	a.closers = append(a.closers, llmProvider.Close)

	// pipeline
	extractor := ingestion_engine.NewDocconvExtractor(false)
	loader := pipeline.NewLoader(fetcher.NewHTTPFetcher(objClient, cfg.FetchTimeout), extractor)
	contentCache := cache.New(a.DBClient, hot, cfg.StalenessWindow)

	stages := []enrichment.Stage{
		enrichment.NewSummaryGenerator(llmProvider, a.DBClient, cfg.QuestionContextChars),
		enrichment.NewQuestionGenerator(llmProvider, a.DBClient, cfg.QuestionCount, cfg.QuestionContextChars),
		enrichment.NewEmbeddingGenerator(embedder, a.DBClient, ingestion_engine.DefaultChunkConfig()),
	}
	a.Coordinator = pipeline.NewCoordinator(a.DBClient, loader, contentCache, a.Queue, stages, pipeline.Options{
		MaxRetries:       cfg.MaxRetries,
		StageMaxAttempts: cfg.StageMaxAttempts,
		StageTimeout:     cfg.StageTimeout,
		RetryPolicy:      retry.DefaultPolicy(),
	})
	contentReader := reader.New(contentCache, loader, cfg.ExcerptBudget, cfg.StageTimeout)

	// services
	bucket := cfg.BucketName
	bookService := services.NewBookService(a.DBClient, objClient, bucket, contentCache)
	jobService := services.NewJobService(a.DBClient, a.Coordinator)
	chatService := services.NewChatService(a.DBClient, a.DBClient, contentReader, llmProvider, embedder)

	a.Server = NewServer(cfg, bookService, jobService, chatService)

	ok = true
	return a, nil
}

// Start launches the job workers and the HTTP server.
func (a *App) Start(ctx context.Context) error {
	if err := a.Coordinator.Start(ctx, a.cfg.Workers); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	go a.Server.Start()
	return nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
