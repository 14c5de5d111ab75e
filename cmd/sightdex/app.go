package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kailas-cloud/sightdex/internal/config"
	pgdb "github.com/kailas-cloud/sightdex/internal/db/postgres"
	dbRedis "github.com/kailas-cloud/sightdex/internal/db/redis"
	"github.com/kailas-cloud/sightdex/internal/domain"
	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
	"github.com/kailas-cloud/sightdex/internal/domain/search/fusion"
	"github.com/kailas-cloud/sightdex/internal/metrics"
	"github.com/kailas-cloud/sightdex/internal/ratelimit"
	attrrepo "github.com/kailas-cloud/sightdex/internal/repository/attribute"
	"github.com/kailas-cloud/sightdex/internal/repository/embcache"
	mempg "github.com/kailas-cloud/sightdex/internal/repository/memory/postgres"
	memsqlite "github.com/kailas-cloud/sightdex/internal/repository/memory/sqlite"
	"github.com/kailas-cloud/sightdex/internal/repository/pgretrieval"
	ratelimitrepo "github.com/kailas-cloud/sightdex/internal/repository/ratelimit"
	recordrepo "github.com/kailas-cloud/sightdex/internal/repository/record"
	retrievalrepo "github.com/kailas-cloud/sightdex/internal/repository/retrieval"
	witnessrepo "github.com/kailas-cloud/sightdex/internal/repository/witness"
	anthropicTransport "github.com/kailas-cloud/sightdex/internal/transport/anthropic"
	chiTransport "github.com/kailas-cloud/sightdex/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/sightdex/internal/transport/openai"
	"github.com/kailas-cloud/sightdex/internal/usecase/cleanup"
	"github.com/kailas-cloud/sightdex/internal/usecase/completion"
	embeddinguc "github.com/kailas-cloud/sightdex/internal/usecase/embedding"
	"github.com/kailas-cloud/sightdex/internal/usecase/extraction"
	healthuc "github.com/kailas-cloud/sightdex/internal/usecase/health"
	memoryuc "github.com/kailas-cloud/sightdex/internal/usecase/memory"
	recorduc "github.com/kailas-cloud/sightdex/internal/usecase/record"
	retrievaluc "github.com/kailas-cloud/sightdex/internal/usecase/retrieval"
)

// app owns the connections shared by serve and migrate.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	store     *dbRedis.Store
	pool      *pgxpool.Pool // nil without postgres.dsn
	catalog   *domattr.Catalog
	scheduler *cleanup.Scheduler

	records   *recordrepo.Repo
	pgRecords *pgretrieval.Repo // postgres retrieval backend
	memPG     *mempg.Repo
	memSQLite *memsqlite.Repo
}

// openApp connects every store the configuration asks for.
func openApp(ctx context.Context, c config.Config, l *zap.Logger) (*app, error) {
	a := &app{cfg: c, logger: l}

	catalog, err := config.LoadCatalog(c.Catalog.Path)
	if err != nil {
		return nil, err
	}
	a.catalog = catalog

	a.store, err = dbRedis.NewStore(dbRedis.Config{
		Addrs:      c.Database.Addrs,
		Password:   c.Database.Password,
		TextSearch: c.Database.TextSearchEnabled(),
	})
	if err != nil {
		return nil, fmt.Errorf("create %s store: %w", c.Database.Driver, err)
	}
	if err := a.store.WaitForReady(ctx, config.Seconds(c.Database.ReadinessTimeout)); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("database not ready: %w", err)
	}
	l.Info("Connected to database",
		zap.String("driver", c.Database.Driver),
		zap.Strings("addrs", c.Database.Addrs),
		zap.Bool("text_search", c.Database.TextSearchEnabled()),
	)

	if c.Postgres.DSN != "" {
		a.pool, err = pgdb.Connect(ctx, pgdb.Config{
			DSN:             c.Postgres.DSN,
			MaxConns:        c.Postgres.MaxConns,
			MaxConnLifetime: config.Seconds(c.Postgres.MaxConnLifetimeSec),
		})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		l.Info("Connected to postgres")
	}

	a.records = recordrepo.New(a.store, recordrepo.IndexOptions{
		Dimensions:     c.Embedding.Dimensions,
		HNSWM:          c.Retrieval.HNSWM,
		EFConstruction: c.Retrieval.HNSWEFConstruct,
	})
	if c.Retrieval.Backend == "postgres" {
		a.pgRecords = pgretrieval.New(a.pool, c.Embedding.Dimensions, fusion.Method(c.Retrieval.Fusion))
	}

	switch c.Memory.Store {
	case "postgres":
		a.memPG = mempg.New(a.pool)
	default:
		a.memSQLite, err = memsqlite.Open(c.SQLite.Path)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("open memory store: %w", err)
		}
	}

	a.scheduler = cleanup.NewScheduler(config.Seconds(c.Cleanup.TimeoutSec), l)
	return a, nil
}

// Migrate creates the FT index and the SQL schemas. Every step is idempotent.
func (a *app) Migrate(ctx context.Context) error {
	if a.cfg.Retrieval.Backend == "redis" {
		if err := a.records.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("record index: %w", err)
		}
		a.logger.Info("Record index ready", zap.String("index", recordrepo.IndexName))
	}
	if a.pgRecords != nil {
		if err := a.pgRecords.Migrate(ctx); err != nil {
			return fmt.Errorf("records schema: %w", err)
		}
		a.logger.Info("Postgres records schema ready")
	}
	if a.memPG != nil {
		if err := a.memPG.Migrate(ctx); err != nil {
			return fmt.Errorf("memory schema: %w", err)
		}
		a.logger.Info("Postgres memory schema ready")
	}
	return nil
}

// Close waits for cleanup tasks, then releases connections.
func (a *app) Close(ctx context.Context) {
	if a.scheduler != nil {
		if err := a.scheduler.Close(ctx); err != nil {
			a.logger.Warn("Cleanup tasks still running at shutdown", zap.Error(err))
		}
	}
	if a.memSQLite != nil {
		if err := a.memSQLite.Close(); err != nil {
			a.logger.Warn("Close memory store", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// memoryRepo returns the configured memory store and its health pinger.
func (a *app) memoryRepo() (memoryuc.Repository, healthuc.DBPinger) {
	if a.memPG != nil {
		return a.memPG, a.memPG
	}
	return a.memSQLite, a.memSQLite
}

// Services is the composition root of the HTTP API.
func (a *app) Services() chiTransport.Services {
	c := a.cfg
	metrics.Register()

	docEmbedder, queryEmbedder, base := buildEmbedders(c.Embedding, a.store, a.logger)
	completer := buildCompleter(c.LLM, a.logger)

	attrs := attrrepo.New(a.store)
	witnesses := witnessrepo.New(a.store)

	var (
		backend retrievaluc.Backend
		vectors retrievaluc.VectorLookup
		recRepo recorduc.Repository
		reader  recorduc.Reader
	)
	if a.pgRecords != nil {
		backend, vectors, recRepo, reader = a.pgRecords, a.pgRecords, a.pgRecords, a.pgRecords
	} else {
		backend = retrievalrepo.New(a.store, fusion.Method(c.Retrieval.Fusion))
		vectors, recRepo, reader = a.records, a.records, a.records
	}

	extractSvc := extraction.New(completer, a.catalog, attrs, a.scheduler)
	searchSvc := retrievaluc.New(backend, vectors, queryEmbedder, attrs, witnesses,
		retrievaluc.WithTimeout(config.Seconds(c.Retrieval.TimeoutSec)),
		retrievaluc.WithMetrics(),
	)
	recordSvc := recorduc.New(recRepo, docEmbedder, extractSvc, witnesses, recorduc.WithReader(reader))

	memRepo, memPinger := a.memoryRepo()
	var memCompleter memoryuc.Completer
	if !c.Memory.DisableExtraction {
		memCompleter = completer
	}
	memorySvc := memoryuc.New(memRepo, memCompleter,
		memoryuc.WithTimeout(config.Seconds(c.Memory.ExtractTimeoutSec)),
		memoryuc.WithMetrics(),
	)

	healthOpts := []healthuc.Option{healthuc.WithPinger("memory_store", memPinger)}
	if a.pool != nil {
		healthOpts = append(healthOpts, healthuc.WithPinger("postgres", a.pool))
	}
	healthSvc := healthuc.New(a.store, base, healthOpts...)

	a.logger.Info("Services ready",
		zap.String("embedding_provider", c.Embedding.Provider),
		zap.String("embedding_model", c.Embedding.Model),
		zap.Int("dimensions", c.Embedding.Dimensions),
		zap.String("llm_provider", c.LLM.Provider),
		zap.String("llm_model", c.LLM.Model),
		zap.String("retrieval_backend", c.Retrieval.Backend),
		zap.String("fusion", c.Retrieval.Fusion),
		zap.String("memory_store", c.Memory.Store),
		zap.Int("categories", len(a.catalog.Categories)),
	)

	return chiTransport.Services{
		Search:   searchSvc,
		Extract:  extractSvc,
		Records:  recordSvc,
		Memories: memorySvc,
		Health:   healthSvc,
	}
}

// RateLimiter builds the per-user limiter for LLM-backed routes.
// Returns nil (not a typed nil) when limiting is disabled.
func (a *app) RateLimiter() chiTransport.Limiter {
	rl := a.cfg.RateLimit
	if rl.Limit <= 0 {
		return nil
	}
	var store ratelimit.Store
	switch rl.Store {
	case "redis":
		store = ratelimitrepo.New(a.store)
	default:
		store = ratelimit.NewMemoryStore(rl.MaxKeys)
	}
	return ratelimit.New(store, ratelimit.SystemClock, rl.Limit, config.Seconds(rl.WindowSec))
}

// buildEmbedders assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction.
// Records are embedded as-is, queries carry the query instruction.
func buildEmbedders(
	c config.EmbeddingConfig,
	store *dbRedis.Store,
	l *zap.Logger,
) (doc, query domain.Embedder, base *openaiTransport.Embedder) {
	base = openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		Model:      c.Model,
		Dimensions: c.Dimensions,
		Provider:   c.Provider,
		Logger:     l,
	})

	var embedder domain.Embedder = base
	if c.CacheTTLHours >= 0 && store != nil {
		embedder = embcache.New(base, store, c.Model,
			time.Duration(c.CacheTTLHours)*time.Hour, metrics.EmbeddingCacheTotal, l)
	}
	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, c.Provider, c.Model, l)

	query = embedder
	if c.QueryInstruction != "" {
		// outermost, so the cache key includes the instruction
		query = domain.NewInstructionEmbedder(embedder, c.QueryInstruction)
	}
	return embedder, query, base
}

// buildCompleter picks the structured completion provider and wraps it with
// the throttle, timeout and metrics decorator.
func buildCompleter(c config.LLMConfig, l *zap.Logger) domain.Completer {
	var inner domain.Completer
	switch c.Provider {
	case "anthropic":
		temp := c.Temperature
		inner = anthropicTransport.NewCompleter(anthropicTransport.Config{
			APIKey:      c.APIKey,
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			MaxTokens:   int64(c.MaxTokens),
			Temperature: &temp,
		})
	default:
		opts := []openaiTransport.CompleterOption{openaiTransport.WithTemperature(float32(c.Temperature))}
		if c.MaxTokens > 0 {
			opts = append(opts, openaiTransport.WithMaxTokens(c.MaxTokens))
		}
		if c.Strict != nil {
			opts = append(opts, openaiTransport.WithStrict(*c.Strict))
		}
		inner = openaiTransport.NewCompleter(&openaiTransport.Config{
			APIKey:   c.APIKey,
			BaseURL:  c.BaseURL,
			Model:    c.Model,
			Provider: c.Provider,
			Logger:   l,
		}, opts...)
	}

	return completion.NewInstrumentedCompleter(inner, c.Provider,
		completion.WithRateLimit(c.RequestsPerSecond, c.Burst),
		completion.WithTimeout(config.Seconds(c.TimeoutSec)),
		completion.WithLogger(l),
	)
}
