package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/bcambel/kinesis2/internal/config"
	"github.com/bcambel/kinesis2/internal/lib/logger/handlers/slogpretty"
	"github.com/bcambel/kinesis2/internal/lib/logger/sl"
	"github.com/bcambel/kinesis2/internal/normalize"
	"github.com/bcambel/kinesis2/internal/pipeline"
	"github.com/bcambel/kinesis2/internal/publisher"
	"github.com/bcambel/kinesis2/internal/storage/postgres"
	redisClient "github.com/bcambel/kinesis2/internal/storage/redis"
	"github.com/bcambel/kinesis2/internal/stream"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("starting ingest",
		slog.String("env", cfg.Env),
		slog.String("source", cfg.Stream.Source),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage := postgres.NewStorage(ctx, cfg, log)
	defer func() {
		if err := storage.Close(); err != nil {
			log.Error("failed to close postgres", sl.Err(err))
		}
	}()

	rdb, err := redisClient.NewClient(cfg)
	if err != nil {
		log.Error("redis connection error", sl.Err(err))
		os.Exit(1)
	}
	defer func(rdb *redis.Client) {
		if err := rdb.Close(); err != nil {
			log.Error("failed to close redis", sl.Err(err))
		}
	}(rdb)

	coordinator := pipeline.NewCoordinator(
		log,
		normalize.New(cfg.PixelPath),
		pipeline.NewAccumulator(cfg.Flush.SizeThreshold, cfg.Flush.Interval),
		storage,
		publisher.New(rdb, cfg.Redis.Channel),
	)

	consumer, err := newConsumer(ctx, cfg, log, coordinator)
	if err != nil {
		log.Error("cannot build stream consumer", sl.Err(err))
		os.Exit(1)
	}

	metricsSrv := startMetricsServer(cfg.MetricsAddr, log)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil {
			log.Error("consumer stopped with error", sl.Err(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	sign := <-stop
	log.Info("stopping ingest", slog.String("signal", sign.String()))

	cancel()
	<-consumerDone

	// write out whatever the flush trigger had not picked up yet
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer flushCancel()

	if err := coordinator.FlushPending(flushCtx); err != nil {
		log.Error("final flush failed", sl.Err(err))
	}

	if err := metricsSrv.Shutdown(flushCtx); err != nil {
		log.Error("metrics server shutdown failed", sl.Err(err))
	}

	log.Info("ingest stopped")
}

type consumer interface {
	Run(ctx context.Context) error
}

func newConsumer(ctx context.Context, cfg *config.Config, log *slog.Logger, h stream.Handler) (consumer, error) {
	if cfg.Stream.Source == "kafka" {
		return stream.NewKafkaConsumer(cfg, log, h), nil
	}

	return stream.NewKinesisConsumer(ctx, cfg, log, h)
}

func startMetricsServer(addr string, log *slog.Logger) *http.Server {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server terminated", sl.Err(err))
		}
	}()

	return srv
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()

	case envDev:

		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	case envProd:

		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	default:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
