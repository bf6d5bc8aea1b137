package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"textbook-rag/internal/ai"
	"textbook-rag/internal/app"
	"textbook-rag/internal/cache"
	"textbook-rag/internal/config"
	mysqlClient "textbook-rag/internal/platform/mysql"
	rabbitmqClient "textbook-rag/internal/platform/rabbitmq"
	redisClient "textbook-rag/internal/platform/redis"
	"textbook-rag/internal/repository"
	"textbook-rag/internal/retry"
	"textbook-rag/internal/segmenter"
	"textbook-rag/internal/storage"
	"textbook-rag/internal/vectorindex"
	"textbook-rag/internal/worker"
)

const dirtyMarkerTTL = 10 * time.Second

type Options struct {
	// StartWorker consumes the ingestion queue in this process.
	StartWorker bool
}

type App struct {
	Config *config.Config
	Logger *slog.Logger

	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection
	Index  vectorindex.Index

	Sessions     *app.SessionService
	Query        *app.QueryService
	Ingest       *app.IngestService
	Jobs         *rabbitmqClient.JobPublisher
	IngestWorker *worker.IngestWorker

	closers   []func() error
	StartedAt time.Time
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(ctx, cfg, opts)
}

// NewWithConfig wires every component. MySQL, Redis and RabbitMQ are skipped
// when their host, address or URL is empty; sessions and chunks then live in
// memory and the history cache and job queue are disabled.
func NewWithConfig(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	logger := NewLogger(cfg.App)
	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var (
		sessionStore app.SessionStore = repository.NewMemorySessionStore()
		chunkStore   app.ChunkStore   = repository.NewMemoryChunkStore()
	)
	if cfg.MySQL.Host != "" {
		a.MySQL, err = mysqlClient.New(ctx, cfg.MySQLDSN(), cfg.App.LogLevel == "debug")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return mysqlClient.Close(a.MySQL) })
		if err := mysqlClient.Migrate(a.MySQL); err != nil {
			return nil, err
		}
		sessionStore = repository.NewSessionRepository(a.MySQL)
		chunkStore = repository.NewChunkRepository(a.MySQL)
	} else {
		logger.Warn("mysql host not configured, using in-memory stores")
	}

	var history app.HistoryCache
	if cfg.Redis.Addr != "" {
		a.Redis, err = redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.Redis.Close)
		history = cache.NewHistoryCache(a.Redis, time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second, dirtyMarkerTTL)
	}

	policy := retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay,
		cfg.Retry.Timeout, cfg.Retry.RequestsPerSecond, cfg.Retry.Burst)

	a.Index, err = a.newIndex(ctx)
	if err != nil {
		return nil, err
	}

	generator, embeddings, err := a.newProviders(ctx)
	if err != nil {
		return nil, err
	}
	embedder := app.NewEmbeddingClient(embeddings, policy, cfg.Embedding.BatchSize, cfg.Embedding.Dimensions, logger)
	if cfg.Embedding.Dimensions > 0 {
		err := policy.Do(ctx, func(ctx context.Context) error {
			return a.Index.EnsureCollection(ctx, cfg.Embedding.Dimensions)
		})
		if err != nil {
			return nil, fmt.Errorf("ensure vector collection failed: %w", err)
		}
	}

	counter, err := segmenter.NewCounter(cfg.RAG.SizeUnit, cfg.RAG.TokenEncoding)
	if err != nil {
		return nil, err
	}
	seg := segmenter.New(
		segmenter.WithChunkSize(cfg.RAG.ChunkSize),
		segmenter.WithOverlap(cfg.RAG.OverlapSentences),
		segmenter.WithCounter(counter),
	)

	archived, err := storage.NewArchive(ctx, storage.Config{
		Type:         storage.Type(cfg.Archive.Backend),
		LocalPath:    cfg.Archive.LocalPath,
		S3Bucket:     cfg.Archive.S3Bucket,
		S3Region:     cfg.Archive.S3Region,
		AWSAccessKey: cfg.Archive.AccessKey,
		AWSSecretKey: cfg.Archive.SecretKey,
	})
	if err != nil {
		return nil, err
	}
	var archive app.SourceArchive
	if archived != nil {
		archive = archived
	}

	a.Sessions = app.NewSessionService(sessionStore, history, cfg.Session.InactivityTimeout, logger)
	a.Ingest = app.NewIngestService(seg, embedder, a.Index, chunkStore, archive, policy, app.IngestOptions{
		Workers:    cfg.Ingest.Workers,
		QueueDepth: cfg.Ingest.QueueDepth,
		Languages:  cfg.RAG.Languages,
	}, logger)
	a.Query = app.NewQueryService(
		a.Sessions,
		app.NewRetriever(embedder, a.Index, chunkStore, policy, logger),
		app.NewScopeClassifier(cfg.RAG.ScopeThreshold, cfg.RAG.OutOfScopeKeywords),
		app.NewSynthesizer(generator, a.chatConfig(), policy, cfg.RAG.MaxContextChars, logger),
		app.NewCitationMapper(cfg.RAG.SnippetMaxChars, logger),
		app.QueryOptions{
			TopK:             cfg.RAG.TopK,
			MaxQuestionChars: cfg.RAG.MaxQuestionChars,
			Languages:        cfg.RAG.Languages,
			Acknowledgment:   cfg.RAG.Acknowledgment,
		},
		logger,
	)

	if cfg.RabbitMQ.URL != "" {
		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
		if err != nil {
			return nil, err
		}
		a.Jobs = rabbitmqClient.NewJobPublisher(a.MQConn, cfg.RabbitMQ.IngestQueue)
		if opts.StartWorker {
			a.IngestWorker = worker.NewIngestWorker(a.MQConn, a.Ingest, a.Jobs, cfg.RabbitMQ.IngestQueue, worker.Options{
				Prefetch:    cfg.Ingest.Workers,
				MaxRequeues: cfg.Ingest.MaxRequeues,
				RequeueWait: cfg.Ingest.RequeueWait,
			}, logger)
			if err := a.IngestWorker.Start(ctx); err != nil {
				return nil, fmt.Errorf("start ingest worker failed: %w", err)
			}
		}
	} else {
		logger.Warn("rabbitmq url not configured, ingestion jobs disabled")
	}

	logger.Info("application wired",
		"vector_backend", cfg.Vector.Backend,
		"llm_provider", cfg.LLM.Provider,
		"embedding_provider", cfg.Embedding.Provider,
		"archive", cfg.Archive.Backend,
	)
	return a, nil
}

func (a *App) newIndex(ctx context.Context) (vectorindex.Index, error) {
	cfg := a.Config.Vector
	switch cfg.Backend {
	case "memory":
		return vectorindex.NewMemory(), nil
	case "pgvector":
		pg, err := vectorindex.NewPGVector(ctx, cfg.PostgresDSN, cfg.PostgresTable)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		return pg, nil
	case "qdrant":
		return vectorindex.NewQdrant(vectorindex.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Timeout:    a.Config.Retry.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}

func (a *App) newProviders(ctx context.Context) (app.Generator, app.EmbeddingProvider, error) {
	cfg := a.Config
	var gemini *ai.GeminiClient
	if cfg.LLM.Provider == "gemini" || cfg.Embedding.Provider == "gemini" {
		client, err := ai.NewGeminiClient(ctx, cfg.Gemini.APIKey)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, client.Close)
		gemini = client
	}
	openai := ai.NewOpenAICompatibleClient()

	var generator app.Generator = openai
	if cfg.LLM.Provider == "gemini" {
		generator = gemini
	}

	embeddings := app.NewOpenAIEmbeddingProvider(openai, ai.EmbeddingConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if cfg.Embedding.Provider == "gemini" {
		embeddings = app.NewGeminiEmbeddingProvider(gemini, cfg.Embedding.Model)
	}
	return generator, embeddings, nil
}

func (a *App) chatConfig() ai.ChatConfig {
	return ai.ChatConfig{
		BaseURL:      a.Config.LLM.BaseURL,
		APIKey:       a.Config.LLM.APIKey,
		Model:        a.Config.LLM.Model,
		Temperature:  a.Config.LLM.Temperature,
		JSONResponse: true,
	}
}

// HealthChecks probes every configured dependency.
func (a *App) HealthChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{
		"vector_index": a.Index.Ping,
	}
	if a.MySQL != nil {
		checks["mysql"] = func(ctx context.Context) error { return mysqlClient.Ping(ctx, a.MySQL) }
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	if a.MQConn != nil {
		checks["rabbitmq"] = func(context.Context) error { return rabbitmqClient.Ping(a.MQConn) }
	}
	return checks
}

// Close releases resources in reverse order of acquisition. The worker is
// stopped before the broker connection it consumes from.
func (a *App) Close() error {
	var errs []error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
