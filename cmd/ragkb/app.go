package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/config"
	"github.com/xxxsen/ragkb/internal/db"
	"github.com/xxxsen/ragkb/internal/embedcache"
	"github.com/xxxsen/ragkb/internal/job"
	"github.com/xxxsen/ragkb/internal/pkg/secret"
	"github.com/xxxsen/ragkb/internal/repo"
	"github.com/xxxsen/ragkb/internal/service"
)

// app holds every wired component. Commands pick what they need.
type app struct {
	cfg *config.Config
	db  *sql.DB

	docs      *repo.DocumentRepo
	providers *repo.ProviderRepo
	cache     *repo.EmbeddingCacheRepo

	clients   *ai.ClientFactory
	queue     *job.Queue
	embedding *service.EmbeddingService
	vector    *service.VectorSearchService
	search    *service.SearchService
	admin     *service.ProviderService
}

func bootstrap(configPath string) (*app, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	box, err := secret.NewBox(cfg.SecretKey)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init secret box: %w", err)
	}

	a := &app{cfg: cfg, db: conn}
	a.docs = repo.NewDocumentRepo(conn)
	a.providers = repo.NewProviderRepo(conn, box)
	a.cache = repo.NewEmbeddingCacheRepo(conn)
	chunks := repo.NewChunkRepo(conn)
	fts := repo.NewFTSRepo(conn)

	decorators := []ai.Decorator{
		embedcache.LRUDecorator(cfg.Embedding.LRUSize, time.Duration(cfg.Embedding.LRUTTLSeconds)*time.Second),
	}
	if cfg.Embedding.DBCache {
		decorators = append(decorators, embedcache.DBDecorator(a.cache))
	}
	a.clients = ai.NewClientFactory(a.providers,
		ai.WithRuntimeOptions(ai.RuntimeOptions{
			TimeoutSeconds:   cfg.Embedding.TimeoutSeconds,
			MaxRetries:       cfg.Embedding.MaxRetries,
			RetryDelayMillis: cfg.Embedding.RetryDelayMs,
		}),
		ai.WithDecorators(decorators...),
	)

	a.embedding = service.NewEmbeddingService(a.docs, chunks, repo.NewChunkSetWriter(conn, a.docs, chunks), a.clients)
	a.queue = job.NewQueue(func(ctx context.Context, task job.Task) error {
		return a.embedding.EmbedDocumentByID(ctx, task.DocumentID, task.Force).Err
	}, cfg.Jobs.QueueSize,
		job.WithWorkers(cfg.Jobs.Workers),
		job.WithMaxAttempts(cfg.Jobs.MaxAttempts),
	)
	a.vector = service.NewVectorSearchService(a.clients, chunks, a.docs,
		service.WithDefaultLimits(cfg.Search.ChunkLimit, cfg.Search.SimilarLimit),
		service.WithQueryTimeout(time.Duration(cfg.Search.QueryTimeoutSeconds)*time.Second),
	)
	a.search = service.NewSearchService(a.providers, a.vector, fts, service.SearchOptions{
		DefaultPerPage: cfg.Search.DefaultPerPage,
		MaxPerPage:     cfg.Search.MaxPerPage,
		SuggestLimit:   cfg.Search.SuggestLimit,
	})
	a.admin = service.NewProviderService(a.providers, repo.NewProviderSwitcher(conn, a.providers, a.docs, chunks), a.clients, a.docs, a.queue)
	return a, nil
}

func (a *app) Close() {
	a.queue.Close()
	_ = a.db.Close()
}
