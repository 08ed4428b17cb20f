package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisPingResult is the minimal return type of a Redis client's Ping.
type RedisPingResult interface{ Err() error }

// RedisClient is the minimal interface for a Redis client needed for readiness.
type RedisClient interface {
	Ping(ctx context.Context) RedisPingResult
}

// DBCheck returns a readiness probe for a Postgres pool.
func DBCheck(pool Pinger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
}

// RedisCheck returns a readiness probe for the state store.
func RedisCheck(rdb RedisClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
}

// WaitFor blocks until probe succeeds, retrying with exponential
// backoff up to maxWait. Used at process start so workers don't crash
// while their dependencies are still coming up.
func WaitFor(ctx context.Context, name string, maxWait time.Duration, probe func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = maxWait

	attempt := 0
	op := func() error {
		attempt++
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := probe(probeCtx); err != nil {
			slog.Warn("dependency not ready",
				slog.String("dependency", name),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("op=app.WaitFor: %s: %w", name, err)
	}
	slog.Info("dependency ready", slog.String("dependency", name))
	return nil
}
