package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/dbstate"
	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/env"
	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/httpserver"
	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/natsnotify"
	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/objectstore"
	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/postgres"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "test-data-api"

func main() {
	if err := env.Load(env.String("TEST_DATA_API_ENV_FILE", ".env")); err != nil {
		slog.Error("invalid env file", "error", err)
		os.Exit(2)
	}
	level, err := env.LogLevel("TEST_DATA_API_LOG_LEVEL", slog.LevelInfo)
	if err != nil {
		slog.Error("invalid env", "error", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	db, err := postgres.Connect(cfg.DB)
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	defer func() { _ = db.Close() }()
	// The service must answer /health while the database is down.
	if err := postgres.Ping(ctx, db, cfg.DB.PingTimeout); err != nil {
		logger.Error("cannot connect to database", "error", err)
	} else {
		logger.Info("database connection verified", "driver", cfg.DB.Driver)
	}

	catalog := dbstate.DefaultCatalog()
	if cfg.CatalogFile != "" {
		catalog, err = dbstate.LoadCatalogFile(cfg.CatalogFile, catalog)
		if err != nil {
			logger.Error("invalid state catalog", "error", err)
			os.Exit(2)
		}
	}
	dialect, err := dbstate.DialectFor(cfg.DB.Driver, cfg.Schema)
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}

	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := dbstate.NewMetrics(registry)

	detector, err := dbstate.NewDetector(db, dialect, catalog, cfg.Tables, logger, metrics)
	if err != nil {
		logger.Error("detector init failed", "error", err)
		os.Exit(2)
	}

	var publisher dbstate.Publisher
	if cfg.NATS.Enabled() {
		p, err := natsnotify.Connect(cfg.NATS)
		if err != nil {
			logger.Error("nats unavailable", "error", err)
			os.Exit(1)
		}
		defer p.Close()
		publisher = p
		logger.Info("publishing transition events", "subject", cfg.NATS.Subject)
	}

	state := dbstate.NewServiceState()
	engine, err := dbstate.NewEngine(dbstate.EngineConfig{
		DB:                db,
		Dialect:           dialect,
		Catalog:           catalog,
		Scripts:           dbstate.DirScripts(cfg.ScriptDir),
		State:             state,
		Detector:          detector,
		Logger:            logger,
		Metrics:           metrics,
		Publisher:         publisher,
		TransitionTimeout: cfg.TransitionTimeout,
		StatementTimeout:  cfg.StatementTimeout,
	})
	if err != nil {
		logger.Error("engine init failed", "error", err)
		os.Exit(2)
	}

	var dumper dbstate.Dumper
	if cfg.DB.Driver == postgres.DriverSQLite {
		dumper = dbstate.SQLiteDumper{DB: db}
	} else {
		pgDumper, err := dbstate.NewPgDumper(cfg.BackupCommand, cfg.DB.URL)
		if err != nil {
			logger.Error("invalid backup config", "error", err)
			os.Exit(2)
		}
		dumper = pgDumper
	}

	readiness := []httpserver.ReadinessCheck{{
		Name: "database",
		Check: func(ctx context.Context) error {
			return postgres.Ping(ctx, db, 750*time.Millisecond)
		},
	}}

	var uploader dbstate.Uploader
	if cfg.BackupUpload {
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		storeClient, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		backupUploader, err := objectstore.NewBackupUploader(storeClient, storeCfg)
		if err != nil {
			logger.Error("backup uploader init failed", "error", err)
			os.Exit(2)
		}
		uploader = backupUploader
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBucket(checkCtx, storeClient, storeCfg)
			},
		})
	}

	backups, err := dbstate.NewBackupManager(dbstate.BackupConfig{
		Dir:        cfg.BackupDir,
		Dumper:     dumper,
		Uploader:   uploader,
		State:      state,
		Consistent: cfg.BackupConsistent,
		Timeout:    cfg.BackupTimeout,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		logger.Error("backup manager init failed", "error", err)
		os.Exit(2)
	}

	if cfg.BackupInterval > 0 {
		scheduler, err := dbstate.NewBackupScheduler(backups, cfg.BackupInterval, logger)
		if err != nil {
			logger.Error("backup scheduler init failed", "error", err)
			os.Exit(2)
		}
		scheduler.Start()
		defer func() { _ = scheduler.Stop() }()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName, readiness...))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	api := newStateAPI(logger, db, engine, detector, backups, cfg.DB.PingTimeout)
	api.register(mux)

	serverCfg := httpserver.Config{
		Service:         serviceName,
		Addr:            cfg.Addr,
		ShutdownTimeout: cfg.ShutdownTimeout,
		CORSOrigins:     cfg.CORSOrigins,
	}
	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, serverCfg, httpserver.JSONErrors(mux))); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
