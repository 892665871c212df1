// Command server runs the activity and place records engine behind an HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jengzang/activity-records-go/internal/api"
	"github.com/jengzang/activity-records-go/internal/auth"
	"github.com/jengzang/activity-records-go/internal/config"
	"github.com/jengzang/activity-records-go/internal/database"
	"github.com/jengzang/activity-records-go/internal/handler"
	"github.com/jengzang/activity-records-go/internal/repository"
	"github.com/jengzang/activity-records-go/internal/service"
	"github.com/jengzang/activity-records-go/internal/tracker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (environment variables take precedence)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("main: no .env file loaded", "error", err)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("main: configuration loaded", "config", cfg.LogSummary())

	if err := run(cfg, logger); err != nil {
		logger.Error("main: server exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// openStore returns the configured store and a function releasing it
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, func(), error) {
	if cfg.DBDriver == "memory" {
		logger.Warn("main: using in-memory store, records are lost on exit")
		return repository.NewInMemoryStore(), func() {}, nil
	}

	db, err := database.Open(ctx, database.Config{
		Driver: cfg.DBDriver,
		Path:   cfg.DBPath,
		URL:    cfg.DatabaseURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.NewMigrationManager(db, logger).RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return repository.NewSQLStore(db, logger), func() { _ = db.Close() }, nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := tracker.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	sleep := tracker.NewSleepDetector(store, tracker.SleepConfig{
		MinDuration:    cfg.SleepMinDuration(),
		MaxDuration:    cfg.SleepMaxDuration(),
		NightStartHour: cfg.NightStartHour,
		NightEndHour:   cfg.NightEndHour,
		Location:       cfg.Location(),
		Source:         cfg.SleepSource,
	}, logger, metrics)

	activity := tracker.NewActivityTracker(store, sleep, tracker.TrackerConfig{
		MovementRadiusMeters: cfg.MovementRadiusMeters,
		TrackBufferSize:      cfg.TrackBufferSize,
	}, logger, metrics)

	geofence := tracker.NewGeofenceTracker(store, tracker.GeofenceConfig{
		CacheSize: cfg.PlaceCacheSize,
		CacheTTL:  cfg.PlaceCacheTTL,
	}, logger, metrics)
	if _, err := geofence.Warm(ctx); err != nil {
		logger.Warn("main: place cache warm-up failed, places load lazily", "error", err)
	}

	engine := tracker.NewEngine(activity, geofence, tracker.EngineConfig{
		QueueSize:     cfg.EventQueueSize,
		RetryAttempts: uint(cfg.PersistRetryAttempts),
	}, logger)
	go func() {
		if err := engine.Run(ctx); err != nil {
			logger.Error("main: engine stopped with unsaved records", "error", err)
		}
	}()

	retention := service.NewRetentionService(store, service.RetentionConfig{
		MaxAge:        time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		PendingMaxAge: cfg.PendingMaxAge,
		Interval:      cfg.RetentionInterval,
	}, logger)
	go retention.Run(ctx)

	var jwtService *auth.JWTService
	if cfg.JWTSecret != "" {
		jwtService = auth.NewJWTService(cfg.JWTSecret)
	} else {
		logger.Warn("main: JWT_SECRET not set, API authentication disabled")
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.SetupRouter(ctx, api.Dependencies{
		Events:   handler.NewEventHandler(engine),
		Places:   handler.NewPlaceHandler(service.NewPlaceService(store, geofence, logger)),
		Records:  handler.NewRecordHandler(service.NewRecordService(store)),
		JWT:      jwtService,
		Registry: registry,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("main: server starting", "addr", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("main: shutdown signal received")
	case err := <-serveErr:
		stop()
		<-engine.Done()
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("main: server forced to shutdown", "error", err)
	}

	// Open sessions are closed and persisted before the store goes away
	select {
	case <-engine.Done():
	case <-shutdownCtx.Done():
		logger.Error("main: timed out waiting for the engine to drain")
	}

	logger.Info("main: server stopped")
	return nil
}
