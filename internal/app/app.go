// Package app builds the document QA service from configuration. The API
// server, the queue worker and the CLI share it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docqa/internal/cache"
	"github.com/nikhilbhutani/docqa/internal/config"
	"github.com/nikhilbhutani/docqa/internal/database"
	"github.com/nikhilbhutani/docqa/internal/document"
	"github.com/nikhilbhutani/docqa/internal/embedding"
	"github.com/nikhilbhutani/docqa/internal/llm"
	"github.com/nikhilbhutani/docqa/internal/queue"
	"github.com/nikhilbhutani/docqa/internal/rag"
	"github.com/nikhilbhutani/docqa/internal/vectorstore"
	"github.com/nikhilbhutani/docqa/pkg/chunker"
)

type App struct {
	Config    *config.Config
	Pipeline  rag.Pipeline
	Extractor *document.Extractor
	Gateway   llm.Gateway

	// Optional infrastructure; nil when not configured or unreachable.
	DB    *pgxpool.Pool
	Redis *redis.Client
	Queue *queue.Client
}

// New validates cfg and connects the pipeline's collaborators. Postgres and
// Redis are optional unless the pgvector backend needs the database.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Extractor: document.NewExtractor()}

	if cfg.Database.URL != "" {
		db, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			if cfg.VectorIndex.Backend == "pgvector" {
				return nil, fmt.Errorf("connect database: %w", err)
			}
			slog.Warn("database unavailable, keeping documents in memory", "error", err)
		} else {
			a.DB = db
			if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
				slog.Warn("migrations failed", "error", err)
			}
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, running without cache or queue", "error", err)
		rdb.Close()
	} else {
		a.Redis = rdb
		a.Queue = newQueue(cfg)
	}

	p, err := a.buildPipeline()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pipeline = p
	return a, nil
}

// newQueue returns the ingestion queue client, or nil when the vector index
// cannot be shared with a worker process.
func newQueue(cfg *config.Config) *queue.Client {
	if err := cfg.AsyncIngestion(); err != nil {
		slog.Info("background ingestion disabled", "backend", cfg.VectorIndex.Backend)
		return nil
	}
	return queue.NewClient(cfg.Redis)
}

func (a *App) buildPipeline() (rag.Pipeline, error) {
	cfg := a.Config
	a.Gateway = llm.NewGateway(cfg.LLM)

	var embedder embedding.Embedder = embedding.NewService(a.Gateway, embedding.Options{
		Provider:    cfg.Embedding.Provider,
		Model:       cfg.Embedding.Model,
		Dimension:   cfg.Embedding.Dimension,
		MaxChars:    cfg.Embedding.MaxChars,
		MaxAttempts: cfg.Embedding.MaxAttempts,
		Backoff:     cfg.Embedding.Backoff,
		RateLimit:   cfg.Embedding.RateLimit,
	})
	if a.Redis != nil && cfg.Embedding.CacheTTL > 0 {
		embedder = embedding.NewCachedEmbedder(embedder, cache.NewRedis(a.Redis, "docqa:"), cfg.Embedding.Model, cfg.Embedding.CacheTTL)
	}

	var pool vectorstore.PgPool
	if a.DB != nil {
		pool = a.DB
	}
	index, err := vectorstore.Open(cfg.VectorIndex, pool)
	if err != nil {
		return nil, err
	}

	opts := []chunker.Option{chunker.WithSize(cfg.RAG.ChunkSize), chunker.WithOverlap(cfg.RAG.ChunkOverlap)}
	if cfg.RAG.SentenceSnap {
		opts = append(opts, chunker.WithSentenceSnap(chunker.DefaultSnapWindow))
	}
	ch, err := chunker.New(opts...)
	if err != nil {
		return nil, err
	}

	measure, err := rag.MeasureFor(cfg.RAG.BudgetUnit)
	if err != nil {
		return nil, err
	}

	var registry document.Registry = document.NewMemoryRegistry()
	if a.DB != nil {
		registry = document.NewPGRegistry(a.DB)
	}

	return rag.NewPipeline(rag.Dependencies{
		Embedder: embedder,
		Index:    index,
		Generator: rag.NewGenerator(a.Gateway, rag.GeneratorOptions{
			Provider:      cfg.LLM.DefaultProvider,
			Model:         cfg.LLM.DefaultModel,
			MaxTokens:     cfg.LLM.MaxTokens,
			Temperature:   cfg.LLM.Temperature,
			HistoryWindow: cfg.RAG.HistoryWindow,
		}),
		Chunker:   ch,
		Assembler: rag.NewAssembler(cfg.RAG.ContextBudget, measure),
		Registry:  registry,
	}, rag.Config{
		Collection:       cfg.VectorIndex.Collection,
		Distance:         vectorstore.Distance(cfg.VectorIndex.Distance),
		EmbedConcurrency: cfg.Embedding.Concurrency,
		TopK:             cfg.RAG.TopK,
		MinScore:         cfg.RAG.MinScore,
	})
}

func (a *App) Close() {
	if a.Queue != nil {
		a.Queue.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
