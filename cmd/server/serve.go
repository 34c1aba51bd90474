package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Shimizu-Technology/document-viewer-api/internal/config"
	"github.com/Shimizu-Technology/document-viewer-api/internal/database"
	"github.com/Shimizu-Technology/document-viewer-api/internal/handlers"
	"github.com/Shimizu-Technology/document-viewer-api/internal/middleware"
	"github.com/Shimizu-Technology/document-viewer-api/internal/router"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/analytics"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/cache"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/render"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/textindex"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/validator"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/viewer"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/worker"
	"github.com/Shimizu-Technology/document-viewer-api/internal/storage"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the processing workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Step 1: Load Configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"version": Version,
		"port":    cfg.Port,
		"workers": cfg.QueueConcurrency,
		"storage": cfg.StorageBackend,
		"queue":   cfg.QueueBackend,
	}).Info("🚀 Document Viewer API starting")
	gin.SetMode(cfg.GinMode)

	// Step 2: Repository
	repo, closeRepo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	// Step 3: Blob storage and queue transport
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.StorageBackend, err)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}
	log.WithField("backend", cfg.StorageBackend).Info("✅ Blob storage ready")

	queue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}

	// Step 4: Services
	renderer := render.NewRenderer(store, render.DefaultConverters(cfg.PdftoppmPath, cfg.GhostscriptPath), cfg.RenderTimeout)
	names := make([]string, 0, len(renderer.Converters()))
	for _, c := range renderer.Converters() {
		names = append(names, c.Name())
	}
	log.WithField("strategies", names).Info("🖼️  Page converters configured")

	pageCache := cache.New(cfg.CacheMaxSize, cfg.CacheTTL)
	indexer := textindex.NewIndexer(repo)
	access := analytics.New(repo, 0)
	v := validator.New(validator.Options{MinSize: cfg.MinFileSize, MaxSize: cfg.MaxFileSize, MaxPages: cfg.MaxPages})

	viewerService := viewer.New(viewer.Deps{
		Repo:      repo,
		Store:     store,
		Renderer:  renderer,
		Cache:     pageCache,
		Indexer:   indexer,
		Analytics: access,
	}, cfg.RenderTimeout)

	// Step 5: Worker pool, recovery and retention sweeps
	wp := worker.NewPool(worker.Deps{
		Repo:      repo,
		Store:     store,
		Queue:     queue,
		Renderer:  renderer,
		Indexer:   indexer,
		Validator: v,
		Inspector: validator.NewInspector(cfg.MaxPages),
	}, worker.Options{
		Concurrency:       cfg.QueueConcurrency,
		MaxRetries:        cfg.QueueMaxRetries,
		RetryDelay:        cfg.QueueRetryDelay,
		RateLimit:         cfg.QueueRateLimit,
		RateWindow:        cfg.QueueRateWindow,
		ProcessingTimeout: cfg.ProcessingTimeout,
	})
	if err := wp.Recover(ctx); err != nil {
		log.WithError(err).Warn("⚠️  Job recovery incomplete")
	}
	wp.Start()

	sweeper := worker.NewSweeper(repo, access, worker.RetentionOptions{
		KeepCompleted:      cfg.JobKeepCompleted,
		KeepFailed:         cfg.JobKeepFailed,
		AccessLogRetention: cfg.AccessLogRetention,
	})
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to schedule retention sweeps: %w", err)
	}

	// Step 6: HTTP router and server
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	h := handlers.NewHandler(repo, wp, viewerService, v, pageCache, Version)
	r := router.Setup(h, rateLimiter, cfg.JWTSecret, cfg.AllowedOrigins)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second, // uploads can be large
		WriteTimeout: cfg.RenderTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("🌐 Server listening on http://localhost:%s", cfg.Port)
		log.Infof("📖 Health check: http://localhost:%s/api/v1/health", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Step 7: Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("🛑 Shutting down gracefully")
	case runErr = <-serverErr:
		log.WithError(runErr).Error("❌ Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("⚠️  Server forced to shutdown")
	}

	rateLimiter.Stop()
	sweeper.Stop()
	wp.Stop()
	if err := queue.Close(); err != nil {
		log.WithError(err).Warn("⚠️  Failed to close queue")
	}
	access.Shutdown()

	log.Info("👋 Server stopped. Goodbye!")
	return runErr
}

// openRepository connects to Postgres and applies migrations, or returns
// the in-memory repository when DATABASE_URL is memory://.
func openRepository(cfg *config.Config) (database.Repository, func(), error) {
	if cfg.DatabaseURL == database.MemoryURL {
		log.Warn("⚠️  Using the in-memory repository; nothing survives a restart")
		return database.NewMemoryRepository(), func() {}, nil
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}
	log.Info("✅ Database connected")
	return db, func() { db.Close() }, nil
}

func openQueue(ctx context.Context, cfg *config.Config) (worker.Queue, error) {
	if cfg.QueueBackend == config.QueueRedis {
		q, err := worker.NewRedisQueue(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("✅ Redis queue connected")
		return q, nil
	}
	return worker.NewMemoryQueue(cfg.QueueSize), nil
}
