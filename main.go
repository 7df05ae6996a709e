package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/edp-engine/pkg/artifacts"
	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/database"
	"github.com/ekaya-inc/edp-engine/pkg/detect"
	"github.com/ekaya-inc/edp-engine/pkg/handlers"
	"github.com/ekaya-inc/edp-engine/pkg/llm"
	"github.com/ekaya-inc/edp-engine/pkg/logging"
	"github.com/ekaya-inc/edp-engine/pkg/middleware"
	"github.com/ekaya-inc/edp-engine/pkg/modality"
	"github.com/ekaya-inc/edp-engine/pkg/profile"
	"github.com/ekaya-inc/edp-engine/pkg/repositories"
	"github.com/ekaya-inc/edp-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

// shutdownTimeout bounds how long running jobs and in-flight requests get to finish.
const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("job_store", cfg.Jobs.Store),
		zap.String("artifacts", cfg.Artifacts.Backend),
		zap.Int("workers", cfg.Jobs.WorkerCount()),
		zap.Int("queue_capacity", cfg.Jobs.QueueCapacity),
		zap.Bool("ocr", cfg.OCR.IsAvailable()),
		zap.Bool("redis", cfg.Redis.Host != ""),
		zap.Strings("local_asset_roots", cfg.Jobs.LocalAssetRoots))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	repo, closeRepo, err := openJobRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	store, err := openArtifactStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	notifiers := []services.JobNotifier{services.NewLogJobNotifier(logger)}
	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		notifiers = append(notifiers, services.NewRedisJobNotifier(redisClient, cfg.Redis.Channel))
		logger.Info("Publishing job events to Redis", zap.String("channel", cfg.Redis.Channel))
	}

	var extractor modality.TextExtractor
	if cfg.OCR.IsAvailable() {
		client, err := llm.NewClient(&llm.Config{
			Endpoint: cfg.OCR.Endpoint,
			Model:    cfg.OCR.Model,
			APIKey:   cfg.OCR.APIKey,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create OCR client: %w", err)
		}
		extractor = client
	}

	detector := detect.New(logger)
	pipeline := services.NewPipeline(
		artifacts.NewFetcher(store, cfg.Jobs.MaxAssetBytes, logger),
		detector,
		modality.NewDefaultRegistry(detector, extractor, logger),
		profile.NewAssembler(cfg.Version, logger),
		store,
		cfg.Analysis,
	)

	jobService := services.NewJobService(&services.JobServiceDeps{
		Runner:    pipeline,
		Repo:      repo,
		Store:     store,
		Notifiers: notifiers,
		Jobs:      cfg.Jobs,
		Analysis:  cfg.Analysis,
		Logger:    logger,
	})
	if err := jobService.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}
	jobService.Start()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger.Named("http")))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Location", "Retry-After"},
		MaxAge:         300,
	}))

	handlers.NewHealthHandler(cfg, jobService, logger).RegisterRoutes(r)
	handlers.NewJobsHandler(jobService, cfg.Jobs.MaxAssetBytes, logger).RegisterRoutes(r)
	handlers.NewArtifactsHandler(store, logger).RegisterRoutes(r)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting edp-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	services.NewRetentionService(jobService, cfg.Jobs.Retention, logger).
		RunScheduler(gctx, cfg.Jobs.PruneInterval)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := jobService.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("job service shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// openJobRepository selects the job store backend and applies its migrations.
func openJobRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.JobRepository, func(), error) {
	switch cfg.Jobs.Store {
	case config.StorePostgres:
		db, err := database.OpenPostgres(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(logger); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		logger.Info("Using PostgreSQL job store",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database))
		return repositories.NewPostgresJobRepository(db), db.Close, nil

	case config.StoreSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunSQLiteMigrations(db, logger); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		logger.Info("Using SQLite job store", zap.String("path", cfg.SQLite.Path))
		return repositories.NewSQLiteJobRepository(db), func() { _ = db.Close() }, nil

	default:
		logger.Warn("Using in-memory job store; jobs do not survive a restart")
		return repositories.NewMemoryJobRepository(), func() {}, nil
	}
}

func openArtifactStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (artifacts.Store, error) {
	if cfg.Artifacts.Backend == config.ArtifactsMinIO {
		store, err := artifacts.NewMinIOStore(ctx, cfg.Artifacts.MinIO, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact store: %w", err)
		}
		logger.Info("Using MinIO artifact store",
			zap.String("endpoint", cfg.Artifacts.MinIO.Endpoint),
			zap.String("bucket", cfg.Artifacts.MinIO.Bucket))
		return store, nil
	}

	store, err := artifacts.NewLocalStore(cfg.Artifacts.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	logger.Info("Using local artifact store", zap.String("dir", cfg.Artifacts.LocalDir))
	return store, nil
}
