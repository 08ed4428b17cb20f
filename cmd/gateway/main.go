// Command gateway starts the submission HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/modelarena/llm-evaluator/internal/adapter/httpserver"
	"github.com/modelarena/llm-evaluator/internal/adapter/observability"
	"github.com/modelarena/llm-evaluator/internal/adapter/queue"
	redisstate "github.com/modelarena/llm-evaluator/internal/adapter/state/redis"
	"github.com/modelarena/llm-evaluator/internal/app"
	"github.com/modelarena/llm-evaluator/internal/config"
	"github.com/modelarena/llm-evaluator/internal/usecase"
)

// redisAdapter narrows *goredis.Client to the readiness interface.
type redisAdapter struct{ *goredis.Client }

func (a redisAdapter) Ping(ctx context.Context) app.RedisPingResult { return a.Client.Ping(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	// State store
	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()
	redisCheck := app.RedisCheck(redisAdapter{rdb})
	if err := app.WaitFor(ctx, "redis", 30*time.Second, redisCheck); err != nil {
		slog.Error("redis not reachable", slog.Any("error", err))
		os.Exit(1)
	}
	stateRepo := redisstate.NewRepo(rdb, cfg.RedisDefaultTTL)

	// Broker publisher
	publisher, err := queue.NewPublisher(ctx, cfg)
	if err != nil {
		slog.Error("publisher init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Error("failed to close publisher", slog.Any("error", err))
		}
	}()

	// Kafka exposes a cheap reachability probe; SNS has none, so the
	// broker check is skipped on the SQS backend.
	var brokerCheck func(context.Context) error
	if p, ok := publisher.(interface{ Ping(context.Context) error }); ok {
		brokerCheck = p.Ping
	}

	submissions := usecase.NewSubmissionService(stateRepo, publisher)
	srv := httpserver.NewServer(cfg, submissions, redisCheck, brokerCheck)
	handler := app.BuildGatewayRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway starting", slog.Int("port", cfg.Port), slog.String("broker", cfg.Broker))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
