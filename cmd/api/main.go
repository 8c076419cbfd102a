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

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"boardrelay/api/internal/app"
	"boardrelay/api/internal/config"
	"boardrelay/api/internal/dispatch"
	"boardrelay/api/internal/export"
	"boardrelay/api/internal/search"
	"boardrelay/api/internal/session"
	"boardrelay/api/internal/store"
)

func main() {
	configPath := pflag.String("config", os.Getenv("CANVAS_CONFIG"), "path to a YAML config file")
	reindex := pflag.Bool("reindex", false, "reload every board into the search index on startup")
	pflag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("config failed")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}
	dataStore := store.NewPostgresStore(db)

	cursors, err := session.NewRedisStore(cfg.RedisURL, cfg.CursorTTL)
	if err != nil {
		log.WithError(err).Fatal("redis connection failed")
	}
	defer cursors.Close()
	bus := session.NewBus(cursors.Client(), cfg.ChangeChannel, log)
	queue := dispatch.NewQueue(cursors.Client(), cfg.DispatchQueue)

	pgfts := search.NewPgFTS(db)
	var searchService *search.Service
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
		searchService = search.NewService(meiliClient, pgfts, log)
	} else {
		searchService = search.NewService(nil, pgfts, log)
	}
	if *reindex {
		go searchService.ReindexBoard(ctx, "")
	}

	var exportService *export.Service
	loader := app.BoardLoader{Store: dataStore}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		storage, err := export.NewMinioStorage(ctx, export.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.WithError(err).Warn("export storage unavailable, uploads disabled")
			exportService = export.NewService(loader, nil)
		} else {
			exportService = export.NewService(loader, storage)
		}
	} else {
		exportService = export.NewService(loader, nil)
	}

	service := app.NewService(cfg, app.Deps{
		Store:      dataStore,
		Cursors:    cursors,
		Bus:        bus,
		Dispatcher: queue,
		Search:     searchService,
		Export:     exportService,
	}, log)
	if err := service.Start(ctx); err != nil {
		log.WithError(err).Fatal("board change subscription failed")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: canvas streams stay open for the whole session.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("board relay listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	// Flush debounced writes before the store goes away.
	service.Close()
}
