package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"taskbridge/internal/config"
	"taskbridge/internal/database"
	"taskbridge/internal/export"
	"taskbridge/internal/logging"
	"taskbridge/internal/mapper"
	"taskbridge/internal/metrics"
	"taskbridge/internal/models"
	"taskbridge/internal/notify"
	"taskbridge/internal/platform"
	"taskbridge/internal/queue"
	"taskbridge/internal/repository"
	"taskbridge/internal/resolver"
	"taskbridge/internal/webhook"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, projects, logger, closer, loadErr := loadConfigAndLogger()
	if loadErr != nil {
		return loadErr
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := initDatabase(cfg, projects, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, opts := initQueueCollaborators(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	motionClient := platform.NewMotionClient(cfg.Motion, &logger)
	trelloClient := platform.NewTrelloClient(cfg.Trello, &logger)
	taskMapper := mapper.New()
	conflictResolver := resolver.New(db, &logger)

	manager := queue.NewManager(db, taskMapper, conflictResolver, motionClient, trelloClient, cfg, opts, &logger)
	server := webhook.NewServer(cfg.Webhook, db, manager, taskMapper, cfg.FieldMappings, &logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("webhook server error")
			stop()
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if cfg.Monitoring.PrometheusEnabled {
		startMetricsServer(cfg.Monitoring, &logger)
	}

	exporter := export.NewExporter(db, cfg.Exports.Path, &logger)

	runLoops(ctx, cfg, manager, conflictResolver, exporter, &logger)

	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, []*models.SyncProject, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}
	logger := logging.Component(baseLogger, "syncd-main")

	projectsPath := os.Getenv("PROJECTS_PATH")
	if projectsPath == "" {
		projectsPath = "configs/projects.yaml"
	}
	projectsData, err := os.ReadFile(projectsPath)
	if err != nil {
		logger.Error().Err(err).Msgf("failed to read %s", projectsPath)
		return nil, nil, zerolog.Logger{}, closer, err
	}

	var projectsConfig struct {
		Projects []*models.SyncProject `yaml:"projects"`
	}
	if err := yaml.Unmarshal(projectsData, &projectsConfig); err != nil {
		logger.Error().Err(err).Msg("failed to parse projects.yaml")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	if err := config.ValidateProjects(projectsConfig.Projects); err != nil {
		logger.Error().Err(err).Msg("projects validation failed")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	return cfg, projectsConfig.Projects, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create database directory")
		return err
	}
	if cfg.Exports.Path != "" {
		if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
			logger.Error().Err(err).Msg("failed to create exports directory")
			return err
		}
	}
	return nil
}

func initDatabase(cfg *config.Config, projects []*models.SyncProject, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize database")
		return nil, err
	}

	db.SetProjects(projects)
	logger.Info().Int("projects", len(projects)).Msg("sync projects installed")
	return db, nil
}

// initQueueCollaborators wires the request budget, dead letter store and the
// failure notifier. Redis is optional: without it the budget falls back to a
// per-process in-memory window and dead letters are only logged.
func initQueueCollaborators(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, queue.Options) {
	var opts queue.Options

	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if errPing := repository.Ping(ctx, redisClient); errPing != nil {
			logger.Warn().Err(errPing).Msg("Redis unavailable")
		}
		opts.Budget = repository.NewFailoverBudget(
			repository.NewRedisBudget(redisClient),
			repository.NewMemoryBudget(),
			logger,
		)
		opts.DeadLetters = repository.NewRedisDeadLetters(redisClient)
	} else {
		opts.Budget = repository.NewMemoryBudget()
	}

	if cfg.Notify.TelegramEnabled {
		notifier, err := notify.NewTelegramNotifier(cfg.Notify, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram notifier disabled")
		} else {
			opts.Notifier = notifier
		}
	}

	return redisClient, opts
}

func startMetricsServer(cfg config.MonitoringConfig, logger *zerolog.Logger) {
	metrics.Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// runLoops drives the periodic work until the context is canceled: queue
// batches, completed-item retention, expired lock sweeps and the daily
// failure report.
func runLoops(
	ctx context.Context,
	cfg *config.Config,
	manager *queue.Manager,
	conflictResolver *resolver.Resolver,
	exporter *export.Exporter,
	logger *zerolog.Logger,
) {
	processTicker := time.NewTicker(time.Duration(cfg.Queue.ProcessInterval) * time.Second)
	defer processTicker.Stop()

	cleanupTicker := time.NewTicker(time.Duration(cfg.Queue.CleanupInterval) * time.Second)
	defer cleanupTicker.Stop()

	lockTicker := time.NewTicker(models.LockDuration)
	defer lockTicker.Stop()

	reportTicker := time.NewTicker(24 * time.Hour)
	defer reportTicker.Stop()

	logger.Info().
		Int("process_interval_seconds", cfg.Queue.ProcessInterval).
		Int("batch_size", cfg.Queue.BatchSize).
		Msg("sync engine started")

	for {
		select {
		case <-ctx.Done():
			return

		case <-processTicker.C:
			result, err := manager.ProcessBatch(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("batch processing failed")
				continue
			}
			if result.Processed > 0 {
				logger.Info().
					Int("processed", result.Processed).
					Int("successful", result.Successful).
					Int("failed", result.Failed).
					Msg("batch processed")
			}

		case <-cleanupTicker.C:
			if _, err := manager.Cleanup(ctx, cfg.Queue.RetentionDays); err != nil {
				logger.Error().Err(err).Msg("queue cleanup failed")
			}
			if _, err := manager.RetryFailed(ctx); err != nil {
				logger.Error().Err(err).Msg("failed item retry sweep failed")
			}

		case <-lockTicker.C:
			if _, err := conflictResolver.CleanupExpiredLocks(ctx); err != nil {
				logger.Error().Err(err).Msg("lock cleanup failed")
			}

		case <-reportTicker.C:
			if cfg.Exports.Path == "" {
				continue
			}
			path, err := exporter.WriteFailureReport(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("failure report export failed")
				continue
			}
			logger.Info().Str("path", path).Msg("failure report written")
		}
	}
}
