package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"github.com/lei/actions-ledger/internal/api"
	"github.com/lei/actions-ledger/internal/artifact"
	"github.com/lei/actions-ledger/internal/blobstore"
	"github.com/lei/actions-ledger/internal/collector"
	"github.com/lei/actions-ledger/internal/config"
	"github.com/lei/actions-ledger/internal/processor"
	"github.com/lei/actions-ledger/internal/provider/github"
	"github.com/lei/actions-ledger/internal/service"
	"github.com/lei/actions-ledger/internal/storage"
	"github.com/lei/actions-ledger/pkg/logger"
)

// Configuration types, re-exported so embedding applications can build a
// configuration without importing internal packages.
type (
	Config          = config.Config
	ServerConfig    = config.ServerConfig
	AuthConfig      = config.AuthConfig
	APIKey          = config.APIKey
	GitHubConfig    = config.GitHubConfig
	DatabaseConfig  = config.DatabaseConfig
	StorageConfig   = config.StorageConfig
	MinioConfig     = config.MinioConfig
	CollectorConfig = config.CollectorConfig
	LoggingConfig   = config.LoggingConfig
)

// App is an assembled ingestion service instance
type App struct {
	config    *Config
	logger    *logger.Logger
	store     *storage.Store
	blobs     blobstore.Store
	processor *processor.Processor
	collector *collector.Scheduler
	service   *service.Service
	router    http.Handler
	server    *http.Server
}

// New wires every component from cfg. Defaults are applied to unset fields.
// The database is opened but not migrated; call Migrate before first use.
func New(ctx context.Context, cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	appLogger := logger.NewWithConfig(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	store, err := storage.Open(ctx, storage.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}, appLogger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	appLogger.Info("initialized database", "driver", cfg.Database.Driver)

	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		store.Close()
		return nil, err
	}
	appLogger.Info("initialized blob store", "backend", blobs.Type())

	prov, err := github.NewAdapter(&github.Config{
		BaseURL: cfg.GitHub.BaseURL,
		Token:   cfg.GitHub.Token,
		Owner:   cfg.GitHub.Owner,
		Repo:    cfg.GitHub.Repo,
		Timeout: cfg.GitHub.Timeout,
	}, appLogger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initialize github provider: %w", err)
	}
	appLogger.Info("initialized github provider", "owner", cfg.GitHub.Owner, "repo", cfg.GitHub.Repo)

	classifier := artifact.NewClassifier(blobs, cfg.Storage.InlineMaxBytes, cfg.Storage.URLPrefix)
	stager := artifact.NewStager(cfg.Storage.TempDir, classifier, appLogger)
	proc := processor.New(prov, store, stager, cfg.Collector.MaxConcurrentRuns, appLogger)

	sched := collector.New(prov, store, proc, collector.Config{
		Interval:    cfg.Collector.Interval,
		RunsPerPage: cfg.Collector.RunsPerPage,
		MaxPages:    cfg.Collector.MaxPages,
	}, appLogger)

	svc := service.NewService(store, blobs, prov, proc, sched, appLogger)

	handlers := api.NewHandlers(svc)
	authMiddleware := api.NewAuthMiddleware(cfg.Auth.APIKeys)
	loggingMiddleware := api.NewLoggingMiddleware(appLogger)
	router := api.NewRouter(handlers, authMiddleware, loggingMiddleware, cfg.Storage.URLPrefix)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &App{
		config:    cfg,
		logger:    appLogger,
		store:     store,
		blobs:     blobs,
		processor: proc,
		collector: sched,
		service:   svc,
		router:    router,
		server:    srv,
	}, nil
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (blobstore.Store, error) {
	switch blobstore.StoreType(cfg.Backend) {
	case blobstore.StoreTypeMinio:
		s, err := blobstore.NewMinioStore(ctx, blobstore.MinioConfig{
			Endpoint:   cfg.Minio.Endpoint,
			AccessKey:  cfg.Minio.AccessKey,
			SecretKey:  cfg.Minio.SecretKey,
			Bucket:     cfg.Minio.Bucket,
			UseSSL:     cfg.Minio.UseSSL,
			PathPrefix: cfg.Minio.PathPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize minio store: %w", err)
		}
		return s, nil
	case blobstore.StoreTypeLocal:
		s, err := blobstore.NewLocalStore(blobstore.LocalConfig{
			ScreenshotsDir: cfg.ScreenshotsDir,
			FilesDir:       cfg.FilesDir,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize local store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// NewFromFile loads configuration from path (and the environment) and
// builds an App. An empty path uses the environment only.
func NewFromFile(ctx context.Context, path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(ctx, cfg)
}

// Migrate applies pending schema migrations
func (a *App) Migrate() error {
	return a.store.Migrate()
}

// MigrateDown rolls back every migration
func (a *App) MigrateDown() error {
	return a.store.MigrateDown()
}

// Start runs the collector (when enabled) and the HTTP server.
// This is a blocking call that will run until the context is canceled or an error occurs.
func (a *App) Start(ctx context.Context) error {
	if a.config.Collector.IsEnabled() {
		if err := a.collector.Start(ctx); err != nil {
			return err
		}
	} else {
		a.logger.Info("collector disabled, serving queries only")
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Info("starting http server", "port", a.config.Server.Port)
		serverErrors <- a.server.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	}

	// Graceful shutdown with 30s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.server.Close()
		serveErr = multierr.Append(serveErr, fmt.Errorf("graceful shutdown failed: %w", err))
	}
	if err := a.collector.Stop(shutdownCtx); err != nil {
		serveErr = multierr.Append(serveErr, err)
	}

	a.logger.Info("server stopped")
	return serveErr
}

// CollectOnce runs a single collection cycle
func (a *App) CollectOnce(ctx context.Context) (*collector.Report, error) {
	return a.collector.CollectOnce(ctx)
}

// ProcessRun ingests one run immediately
func (a *App) ProcessRun(ctx context.Context, runID int64) (*processor.Result, error) {
	return a.service.ProcessRun(ctx, runID)
}

// Handler returns the http.Handler for the service
// Use this if you want to integrate the API into an existing HTTP server
func (a *App) Handler() http.Handler {
	return a.router
}

// Service returns the underlying service layer
// Use this for direct programmatic access to queries and triggers
func (a *App) Service() *service.Service {
	return a.service
}

// Logger returns the application logger
func (a *App) Logger() *logger.Logger {
	return a.logger
}

// Close releases the database and flushes logs
func (a *App) Close() error {
	err := a.store.Close()
	a.logger.Sync()
	return err
}
