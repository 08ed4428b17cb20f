// Package shared holds the broker-agnostic pieces of the consumer
// runtime: the bounded handler dispatcher and its context plumbing.
package shared

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelarena/llm-evaluator/internal/adapter/observability"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

// Dispatcher runs handler invocations on their own goroutines with at
// most maxWorkers in flight. A slot is acquired before dispatch and
// released when the handler finishes, success or failure.
type Dispatcher struct {
	handler    domain.Handler
	topic      string
	slots      chan struct{}
	maxWorkers int

	wg     sync.WaitGroup
	closed atomic.Bool

	shutdownTimeout time.Duration
}

// NewDispatcher constructs a Dispatcher for a logical topic.
func NewDispatcher(handler domain.Handler, topic string, maxWorkers int, shutdownTimeout time.Duration) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Dispatcher{
		handler:         handler,
		topic:           topic,
		slots:           make(chan struct{}, maxWorkers),
		maxWorkers:      maxWorkers,
		shutdownTimeout: shutdownTimeout,
	}
}

// MaxWorkers returns the configured concurrency bound.
func (d *Dispatcher) MaxWorkers() int { return d.maxWorkers }

// Acquire blocks until a handler slot is free or ctx is cancelled. It
// must be called before Dispatch so the bound holds even while the
// poll loop is ahead of the workers.
func (d *Dispatcher) Acquire(ctx context.Context) error {
	if d.closed.Load() {
		return fmt.Errorf("op=dispatcher.Acquire: %w", domain.ErrUnavailable)
	}
	select {
	case d.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch runs the handler for msg on a new goroutine and reports the
// outcome through done. The caller must hold a slot from Acquire.
//
// The handler context is detached from the poll loop's cancellation
// (values and trace context are preserved): in-flight handlers run to
// completion during shutdown, bounded by the dispatcher's grace period.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.Message, done func(error)) {
	if d.closed.Load() {
		<-d.slots
		done(fmt.Errorf("op=dispatcher.Dispatch: %w", domain.ErrUnavailable))
		return
	}

	hctx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	observability.HandlersInFlight.Inc()

	go func() {
		start := time.Now()
		var err error
		defer func() {
			// Safety net: a panicking handler must not take the worker
			// down or leak its slot.
			if r := recover(); r != nil {
				err = fmt.Errorf("op=dispatcher.Dispatch: handler panic: %v", r)
				slog.Error("handler panicked",
					slog.String("topic", d.topic),
					slog.String("message_id", msg.ID),
					slog.Any("panic", r))
			}
			observability.HandlersInFlight.Dec()
			observability.RecordHandlerOutcome(d.topic, start, err)
			done(err)
			<-d.slots
			d.wg.Done()
		}()

		err = d.handler.Handle(hctx, msg)
	}()
}

// Close stops accepting new work and waits up to the shutdown grace
// period for in-flight handlers. Stragglers are abandoned; broker
// redelivery covers their messages.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(d.shutdownTimeout):
		slog.Warn("dispatcher shutdown grace period elapsed with handlers still in flight",
			slog.String("topic", d.topic),
			slog.Duration("timeout", d.shutdownTimeout))
		return fmt.Errorf("op=dispatcher.Close: %w: handlers still in flight", domain.ErrInternal)
	}
}
