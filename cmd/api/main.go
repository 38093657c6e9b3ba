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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"prearrival/api/internal/app"
	"prearrival/api/internal/blobstore"
	"prearrival/api/internal/catalog"
	"prearrival/api/internal/config"
	"prearrival/api/internal/email"
	"prearrival/api/internal/logger"
	"prearrival/api/internal/metrics"
	"prearrival/api/internal/search"
	"prearrival/api/internal/sharecache"
	"prearrival/api/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	applied, err := store.ApplyMigrationsDir(ctx, db, cfg.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	if len(applied) > 0 {
		log.Info().Strs("versions", applied).Msg("applied migrations")
	}

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.CatalogFile).Msg("catalog load failed")
	}

	blobs, err := blobstore.New(blobstore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.PublicURL,
		ShareTTL:  cfg.ShareLinkTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("blob store config invalid")
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		log.Fatal().Err(err).Str("bucket", cfg.MinioBucket).Msg("blob store unavailable")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	deps := app.Deps{
		Catalog: cat,
		Store:   store.NewPostgresStore(db),
		Blobs:   blobs,
		Metrics: appMetrics,
		Logger:  log,
	}

	// Leave interfaces unset rather than holding typed nils.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		shares, err := sharecache.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, share links will not be reused")
		} else {
			defer shares.Close()
			deps.Shares = shares
		}
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Component(log, "meili"))
	}
	searchService := search.NewService(meili, search.NewPgFTS(db, cat), logger.Component(log, "search"))
	defer searchService.Close()
	deps.Search = searchService
	go searchService.ReindexAllFromPG(ctx)

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		deps.Mailer = mailer
	} else {
		log.Info().Msg("smtp not configured, notices disabled")
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Int("documents", cat.Len()).Msg("pre-arrival API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
