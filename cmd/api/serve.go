package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iago/section-writer-back/internal/ai"
	"github.com/iago/section-writer-back/internal/cache"
	"github.com/iago/section-writer-back/internal/catalog"
	"github.com/iago/section-writer-back/internal/config"
	"github.com/iago/section-writer-back/internal/facts"
	httpserver "github.com/iago/section-writer-back/internal/http"
	"github.com/iago/section-writer-back/internal/http/handlers"
	"github.com/iago/section-writer-back/internal/logger"
	"github.com/iago/section-writer-back/internal/quality"
	"github.com/iago/section-writer-back/internal/repository"
	"github.com/iago/section-writer-back/internal/service"
	"github.com/iago/section-writer-back/internal/session"
	"github.com/iago/section-writer-back/internal/transcripts"
	"github.com/iago/section-writer-back/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the job executor",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type sectionsBackend interface {
	cache.SectionSource
	worker.SectionStore
}

// closers run in reverse order of registration.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := newLogger(cfg)
	defer func() { _ = log.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer func() { cleanup.run() }()

	sections, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	var checks []handlers.HealthCheck

	jobs, jobsCheck, err := setupJobStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if jobsCheck != nil {
		checks = append(checks, *jobsCheck)
	}
	if closer, ok := jobs.(interface{ Close() error }); ok {
		cleanup.add(func() { _ = closer.Close() })
	}

	sectionRepo, index, blobs, dbCheck, err := setupPersistence(ctx, cfg, log, &cleanup)
	if err != nil {
		return err
	}
	if dbCheck != nil {
		checks = append(checks, *dbCheck)
	}

	store, err := setupCacheStore(cfg, log, &cleanup)
	if err != nil {
		return err
	}

	client, err := setupModelClient(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}
	router := ai.NewModelRouter(ai.ModelRouterConfig{
		Model:         cfg.LLM.Model,
		FallbackModel: cfg.LLM.FallbackModel,
	})

	extractor, err := setupExtractor(cfg, client, router, log)
	if err != nil {
		return err
	}

	contentCache := cache.NewContentCache(cache.ContentCacheDeps{
		Store:       store,
		Transcripts: transcripts.NewLoader(index, blobs, transcripts.LoaderConfig{FailFast: cfg.Transcripts.FailFast}, log),
		Facts:       extractor,
		Sections:    sectionRepo,
		Logger:      log,
	})

	writer := service.NewSectionWriter(service.SectionWriterDeps{
		Client:     client,
		Router:     router,
		Catalog:    sections,
		Validator:  quality.NewOutputValidator(quality.DefaultMaxSectionLength),
		PromptsDir: cfg.LLM.PromptsDir,
		Logger:     log,
	})

	executor := worker.NewExecutor(worker.ExecutorDeps{
		Jobs:     jobs,
		Sessions: session.NewBuilder(contentCache, log),
		Writer:   writer,
		Sections: sectionRepo,
		Cache:    contentCache,
		Locker:   session.NewKeyedLocker(),
		Logger:   log,
	})

	jobsService := service.NewJobsService(service.JobsServiceDeps{
		Store:          jobs,
		Catalog:        sections,
		Dispatcher:     executor,
		IdempotencyTTL: cfg.Jobs.TTL,
		Logger:         log,
	})

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            handlers.NewAPI(jobsService, sections, checks...),
		Logger:         log,
		APIKey:         cfg.Server.APIKey,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("api listening")
		errChan <- server.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
	drainJobs(shutdownCtx, executor, log, &cleanup)
	return serveErr
}

type jobDrainer interface {
	Wait(ctx context.Context) error
	InFlight() int64
}

// drainJobs waits for running jobs. On timeout the closers are dropped so
// the stores stay open for jobs still recording their terminal state.
func drainJobs(ctx context.Context, jobs jobDrainer, log *logger.Logger, cleanup *closers) {
	if err := jobs.Wait(ctx); err != nil {
		log.WithError(err).WithField("abandoned_jobs", jobs.InFlight()).
			Warn("in-flight jobs did not finish before shutdown")
		*cleanup = nil
	}
}

func newLogger(cfg config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	if strings.TrimSpace(cfg.Catalog.Path) == "" {
		return catalog.Default(), nil
	}
	sections, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load section catalog: %w", err)
	}
	return sections, nil
}

func setupJobStore(ctx context.Context, cfg config.Config, log *logger.Logger) (repository.JobStore, *handlers.HealthCheck, error) {
	if strings.TrimSpace(cfg.Redis.URL) == "" {
		log.Info("REDIS_URL not configured, using in-memory job store")
		return repository.NewMemoryJobStore(), nil, nil
	}

	store, err := repository.NewRedisJobStore(ctx, cfg.Redis.URL, cfg.Jobs.TTL)
	if err != nil {
		return nil, nil, fmt.Errorf("init redis job store: %w", err)
	}
	log.Info("redis job store initialized")
	return store, &handlers.HealthCheck{Name: "redis", Check: store.Ping}, nil
}

func setupPersistence(
	ctx context.Context,
	cfg config.Config,
	log *logger.Logger,
	cleanup *closers,
) (sectionsBackend, transcripts.FileIndex, transcripts.BlobStore, *handlers.HealthCheck, error) {
	var blobs transcripts.BlobStore
	if cfg.Storage.Enabled() {
		s3Blobs, err := transcripts.NewS3Blobs(ctx, transcripts.S3Config{
			Endpoint:     cfg.Storage.Endpoint,
			Region:       cfg.Storage.Region,
			AccessKey:    cfg.Storage.AccessKey,
			SecretKey:    cfg.Storage.SecretKey,
			Bucket:       cfg.Storage.Bucket,
			UsePathStyle: cfg.Storage.UsePathStyle,
		})
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("init transcript storage: %w", err)
		}
		blobs = s3Blobs
	}

	if strings.TrimSpace(cfg.Database.URL) == "" {
		log.WithField("dir", cfg.Transcripts.Dir).Info("DATABASE_URL not configured, using in-memory sections and local transcripts")
		dir := transcripts.NewDirSource(cfg.Transcripts.Dir)
		if blobs == nil {
			blobs = dir
		}
		return repository.NewMemorySectionsRepository(), dir, blobs, nil, nil
	}

	pg, err := repository.OpenPostgres(ctx, cfg.Database.URL, repository.PostgresOptions{
		MaxConns:        cfg.Database.MaxConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		PingTimeout:     cfg.Database.PingTimeout,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init postgres: %w", err)
	}
	cleanup.add(pg.Close)
	log.Info("postgres initialized")

	if blobs == nil {
		blobs = transcripts.NewDirSource(cfg.Transcripts.Dir)
	}
	check := &handlers.HealthCheck{Name: "postgres", Check: pg.Pool.Ping}
	return repository.NewPostgresSectionsRepository(pg.DB), repository.NewPostgresFileIndex(pg.DB), blobs, check, nil
}

func setupCacheStore(cfg config.Config, log *logger.Logger, cleanup *closers) (cache.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Cache.Driver))
	if driver == "memory" {
		return cache.NewMemoryStore(cache.Config{TTL: cfg.Cache.TTL, MaxEntries: cfg.Cache.MaxEntries}), nil
	}

	dsn := cfg.Cache.DSN
	if driver == "postgres" && strings.TrimSpace(dsn) == "" {
		dsn = cfg.Database.URL
	}
	store, err := cache.OpenGormStore(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s content cache: %w", driver, err)
	}
	cleanup.add(func() { _ = store.Close() })
	log.WithField("driver", driver).Info("content cache store initialized")
	return store, nil
}

func setupModelClient(ctx context.Context, cfg config.Config, cleanup *closers) (ai.TextGenerator, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "openrouter":
		return ai.NewOpenRouterClient(ai.OpenRouterClientConfig{
			APIKey:     cfg.LLM.OpenRouterAPIKey,
			BaseURL:    cfg.LLM.OpenRouterBaseURL,
			Timeout:    cfg.LLM.Timeout,
			MaxRetries: cfg.LLM.MaxRetries,
			AppName:    "section-writer",
		}), nil
	default:
		client, err := ai.NewGeminiClient(ctx, ai.GeminiClientConfig{
			APIKey:  cfg.LLM.GeminiAPIKey,
			Timeout: cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		cleanup.add(func() { _ = client.Close() })
		return client, nil
	}
}

func setupExtractor(cfg config.Config, client ai.TextGenerator, router *ai.ModelRouter, log *logger.Logger) (*facts.Extractor, error) {
	extractor, err := facts.NewExtractor(client, router, facts.ExtractorConfig{
		ChunkSize:    cfg.Facts.ChunkSize,
		ChunkOverlap: cfg.Facts.ChunkOverlap,
		Concurrency:  cfg.Facts.Concurrency,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init fact extractor: %w", err)
	}
	return extractor, nil
}
