package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Pragya1904/HTTP-Inventory/internal/backoff"
	"github.com/Pragya1904/HTTP-Inventory/internal/config"
	"github.com/Pragya1904/HTTP-Inventory/internal/fetcher"
	"github.com/Pragya1904/HTTP-Inventory/internal/logger"
	"github.com/Pragya1904/HTTP-Inventory/internal/messaging/rabbitmq"
	mongorepo "github.com/Pragya1904/HTTP-Inventory/internal/repository/mongo"
	"github.com/Pragya1904/HTTP-Inventory/internal/worker"
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
		Str("service", "metadata-worker").
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
	if err := repo.EnsureIndexes(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("index creation failed")
	}

	// ---- Consumer ----
	consumer := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:            cfg.BrokerURL,
		Queue:          cfg.QueueName,
		QueueMaxLength: cfg.QueueMaxLength,
		Prefetch:       cfg.PrefetchCount,
		Backoff:        sched,
	}, log)
	if err := consumer.Connect(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("broker connect failed")
	}

	// ---- Pipeline ----
	f := fetcher.New(cfg.FetchConnectTimeout, cfg.FetchReadTimeout, cfg.FetchUserAgent, log)
	proc := worker.NewProcessor(repo, f, cfg.MaxRetries, cfg.MaxPageSourceLength, log)
	w := worker.New(consumer, proc, cfg.ShutdownGrace, log)

	// ---- Metrics / health listener ----
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health/live", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json; charset=utf-8")
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte(`{"status":"ok"}`))
	})
	metricsSrv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.WorkerMetricsAddr).Msg("metrics listener starting")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics listener crashed")
		}
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- w.Run(rootCtx)
	}()

	exitCode := 0
	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
		// Run drains the in-flight delivery, bounded by the grace window.
		select {
		case <-runErr:
		case <-time.After(cfg.ShutdownGrace + time.Second):
			log.Warn().Msg("worker did not stop within grace window")
		}
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("worker exited")
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := consumer.Close(); err != nil {
		log.Warn().Err(err).Msg("consumer close failed")
	}
	if err := repo.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
	log.Info().Msg("worker stopped")
	os.Exit(exitCode)
}
