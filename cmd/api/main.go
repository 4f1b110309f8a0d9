package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"archboard/api/internal/app"
	"archboard/api/internal/blobstore"
	"archboard/api/internal/config"
	"archboard/api/internal/email"
	"archboard/api/internal/events"
	"archboard/api/internal/export"
	"archboard/api/internal/gitrepo"
	"archboard/api/internal/jobs"
	"archboard/api/internal/logging"
	"archboard/api/internal/search"
	"archboard/api/internal/session"
	"archboard/api/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	ctx := context.Background()

	db, err := store.OpenWithPool(ctx, cfg.DatabaseURL, store.PoolConfig{MaxOpen: cfg.DBMaxOpen})
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger)
	if err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("files", applied))
	}

	if err := os.MkdirAll(cfg.SnapshotsDir, 0o755); err != nil {
		logger.Fatal("failed to create snapshots dir", zap.Error(err))
	}

	dataStore := store.NewPostgresStore(db)
	snapshots := gitrepo.New(cfg.SnapshotsDir)

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewPgFTS(db), logger)

	var publisher events.Publisher = events.Nop{}
	if strings.TrimSpace(cfg.MQURL) != "" {
		amqp, err := events.NewAMQP(cfg.MQURL)
		if err != nil {
			logger.Warn("rabbitmq unavailable, domain events disabled", zap.Error(err))
		} else {
			publisher = amqp
		}
	}
	bus := events.NewBus(publisher, logger)
	defer func() { _ = bus.Close() }()

	var blobs blobstore.Store = blobstore.NewMemory(cfg.PublicURL+"/api/exports/", 15*time.Minute)
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		bucket, err := blobstore.NewMinio(ctx, blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Warn("object storage unavailable, keeping exports in memory", zap.Error(err))
		} else {
			blobs = bucket
		}
	}

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithSearch(searchService),
		app.WithExports(export.NewService(dataStore, logger, export.WithPaper(export.PaperByName(cfg.ExportPaper))), blobs),
		app.WithEvents(bus),
		app.WithMailer(email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})),
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisStore.Close()
		logger.Info("using redis for sessions and login throttling")
		opts = append(opts, app.WithSessionStore(redisStore))
	} else {
		logger.Info("using postgres for sessions")
	}
	service := app.New(cfg, dataStore, snapshots, opts...)

	var index jobs.Reindexer
	if meili != nil {
		index = search.SourceReindexer{Service: searchService, Source: dataStore}
	}
	scheduler, err := jobs.New(dataStore, index, bus, jobs.Specs{
		OverdueSweep: cfg.OverdueSweepSpec,
		Reindex:      cfg.ReindexSpec,
	}, logger)
	if err != nil {
		logger.Fatal("invalid job schedule", zap.Error(err))
	}
	scheduler.Start()
	if index != nil {
		go func() {
			if err := scheduler.Run(ctx, jobs.JobReindex); err != nil {
				logger.Warn("initial reindex failed", zap.Error(err))
			}
		}()
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("archboard api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
}
