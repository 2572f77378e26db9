package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Pragya1904/HTTP-Inventory/internal/backoff"
	"github.com/Pragya1904/HTTP-Inventory/internal/config"
	"github.com/Pragya1904/HTTP-Inventory/internal/logger"
	"github.com/Pragya1904/HTTP-Inventory/internal/messaging"
	"github.com/Pragya1904/HTTP-Inventory/internal/messaging/inmemory"
	"github.com/Pragya1904/HTTP-Inventory/internal/messaging/rabbitmq"
	mongorepo "github.com/Pragya1904/HTTP-Inventory/internal/repository/mongo"
	"github.com/Pragya1904/HTTP-Inventory/internal/transport/rest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	logger.Init()
	log := logger.Logger.With().
		Str("service", "metadata-api").
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := backoff.Schedule{
		Initial:     cfg.InitialBackoff,
		Max:         cfg.MaxBackoff,
		Factor:      2,
		MaxAttempts: cfg.MaxConnectionAttempts,
	}

	// ---- Document store ----
	repo, err := mongorepo.Connect(rootCtx, cfg.DatabaseURL, cfg.DatabaseName, cfg.DatabaseCollection, sched, log)
	if err != nil {
		log.Fatal().Err(err).Msg("document store connect failed")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = repo.Close(ctx)
	}()
	if err := repo.EnsureIndexes(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("index creation failed")
	}

	// ---- Publisher ----
	var pub messaging.Publisher
	switch cfg.PublisherBackend {
	case "inmemory":
		pub = inmemory.New(cfg.QueueMaxLength)
		log.Info().Msg("using in-memory publisher backend")
	default:
		pub = rabbitmq.NewPublisher(rabbitmq.PublisherConfig{
			URL:            cfg.BrokerURL,
			Queue:          cfg.QueueName,
			QueueMaxLength: cfg.QueueMaxLength,
			ConfirmTimeout: cfg.PublishConfirmTimeout,
			Backoff:        sched,
		}, log)
	}
	if err := pub.Connect(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("broker connect failed")
	}

	// ---- Router ----
	h := rest.NewHandler(pub, repo, cfg.ReadinessPingTimeout)
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Handler:          h,
		RateLimitEnabled: cfg.RLEnabled,
		RateLimitMax:     cfg.RLLimit,
		RateLimitWindow:  cfg.RLWindow,
	})

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.APIAddr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := pub.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("publisher close failed")
	}
	log.Info().Msg("api stopped")
}
