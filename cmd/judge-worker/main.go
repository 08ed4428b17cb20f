// Command judge-worker consumes judge messages, scores responses via
// the judge service, and archives terminal records.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/modelarena/llm-evaluator/internal/adapter/archive"
	"github.com/modelarena/llm-evaluator/internal/adapter/judge"
	"github.com/modelarena/llm-evaluator/internal/adapter/observability"
	"github.com/modelarena/llm-evaluator/internal/adapter/queue"
	redisstate "github.com/modelarena/llm-evaluator/internal/adapter/state/redis"
	"github.com/modelarena/llm-evaluator/internal/app"
	"github.com/modelarena/llm-evaluator/internal/config"
	"github.com/modelarena/llm-evaluator/internal/domain"
	"github.com/modelarena/llm-evaluator/internal/usecase"
)

type redisAdapter struct{ *goredis.Client }

func (a redisAdapter) Ping(ctx context.Context) app.RedisPingResult { return a.Client.Ping(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()
	go serveMetrics(cfg.MetricsPort)

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting judge worker", slog.String("env", cfg.AppEnv), slog.String("broker", cfg.Broker))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()
	if err := app.WaitFor(ctx, "redis", 30*time.Second, app.RedisCheck(redisAdapter{rdb})); err != nil {
		slog.Error("redis not reachable", slog.Any("error", err))
		os.Exit(1)
	}
	stateRepo := redisstate.NewRepo(rdb, cfg.RedisDefaultTTL)

	judgeClient := judge.NewClient(cfg.JudgeBaseURL)
	archiveClient := archive.NewClient(cfg.ArchiveBaseURL)

	// The archive is the record of truth; don't start consuming until
	// it answers.
	archiveProbe := func(ctx context.Context) error {
		if !archiveClient.IsHealthy(ctx) {
			return fmt.Errorf("archive service not healthy")
		}
		return nil
	}
	if err := app.WaitFor(ctx, "archive", 60*time.Second, archiveProbe); err != nil {
		slog.Error("archive not reachable", slog.Any("error", err))
		os.Exit(1)
	}

	handler := usecase.NewJudgeHandler(stateRepo, judgeClient, archiveClient)
	consumer, err := queue.NewConsumer(ctx, cfg, domain.TopicJudge, handler)
	if err != nil {
		slog.Error("consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Start(ctx) }()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("consumer stopped", slog.Any("error", err))
		}
	}

	if err := consumer.Close(); err != nil {
		slog.Error("consumer close failed", slog.Any("error", err))
	}
	slog.Info("judge worker stopped")
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		slog.Error("metrics server error", slog.Any("error", err))
	}
}
