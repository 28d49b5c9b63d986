package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"deployflow/internal/api"
	"deployflow/internal/bus"
	"deployflow/internal/config"
	"deployflow/internal/db"
	"deployflow/internal/otel"
	fs3 "deployflow/internal/s3"
	"deployflow/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	cleanup, err := otel.Init(ctx, version.Name, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("init otel")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown otel")
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open pgx pool")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	orm, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer func() {
		if err := db.Close(orm); err != nil {
			log.Error().Err(err).Msg("close database")
		}
	}()

	if err := db.Seed(ctx, orm, cfg.SeedFile); err != nil {
		log.Fatal().Err(err).Msg("seed database")
	}

	store := &api.Store{DB: pool, ORM: orm}

	if cfg.NATSURL != "" {
		eventBus, err := bus.New(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect nats")
		}
		defer eventBus.Close()
		store.Bus = eventBus
	} else {
		log.Warn().Msg("NATS_URL not set; advisory events disabled")
	}

	if cfg.S3Enabled() {
		s3Client, err := fs3.New(ctx, fs3.Config{
			Endpoint:       cfg.S3Endpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			Region:         cfg.S3Region,
			DisableTLS:     cfg.S3DisableTLS,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("init s3 client")
		}
		store.S3 = s3Client
	} else {
		log.Warn().Msg("object store not configured; image endpoints disabled")
	}

	apiLayer, err := api.New(store, api.Config{
		AllowedOrigins:      cfg.AllowedOrigins,
		ExternalURL:         cfg.ExternalURL,
		AdminToken:          cfg.AdminToken,
		ImageBucket:         cfg.ImageBucket,
		PresignTTL:          cfg.PresignTTL,
		AgentPollInterval:   cfg.AgentPollInterval,
		RequeueRunningAfter: cfg.RequeueRunningAfter,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init api")
	}

	routes, err := apiLayer.Routes()
	if err != nil {
		log.Fatal().Err(err).Msg("build routes")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           otelhttp.NewHandler(routes, version.Name),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("version", version.Version).Msg("starting deployflowd")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}
