package sqs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// receiver is the queue-facing surface the poller needs (the Client in
// production, a fake in tests).
type receiver interface {
	Receive(ctx context.Context) ([]ParsedMessage, error)
}

// clientReceiver adapts Client to the receiver interface by parsing
// each raw batch.
type clientReceiver struct {
	client *Client
	parser Parser
}

func (r clientReceiver) Receive(ctx context.Context) ([]ParsedMessage, error) {
	raw, err := r.client.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return r.parser.ParseMessages(raw), nil
}

// Poller long-polls the queue and delivers parsed batches. Between
// empty polls it sleeps the configured interval measured from the last
// receive attempt, with a 1 ms floor.
type Poller struct {
	recv                receiver
	receiveAttemptDelay time.Duration

	lastReceiveAttempt time.Time
	closed             atomic.Bool
}

// NewPoller constructs a Poller over the queue client.
func NewPoller(client *Client, receiveAttemptDelay time.Duration) *Poller {
	return newPoller(clientReceiver{client: client}, receiveAttemptDelay)
}

func newPoller(recv receiver, receiveAttemptDelay time.Duration) *Poller {
	return &Poller{
		recv:                recv,
		receiveAttemptDelay: receiveAttemptDelay,
		lastReceiveAttempt:  time.Now(),
	}
}

// Poll runs the receive loop until Close or context cancellation,
// sending each parsed batch on the returned channel. Receive errors are
// logged and polling continues; an error never kills the loop.
func (p *Poller) Poll(ctx context.Context) <-chan []ParsedMessage {
	batches := make(chan []ParsedMessage)

	go func() {
		defer close(batches)
		slog.Info("starting message polling loop")

		for !p.closed.Load() {
			if ctx.Err() != nil {
				return
			}

			msgs, err := p.recv.Receive(ctx)
			if err != nil {
				slog.Error("could not poll messages from queue", slog.Any("error", err))
				msgs = nil
			}

			if len(msgs) > 0 {
				select {
				case batches <- msgs:
				case <-ctx.Done():
					return
				}
				continue
			}

			if !p.sleepBetweenReceiveAttempts(ctx) {
				return
			}
		}
	}()

	return batches
}

// sleepBetweenReceiveAttempts waits out the remainder of the configured
// delay, measured from the previous attempt rather than from now.
// Returns false when the context ended during the sleep.
func (p *Poller) sleepBetweenReceiveAttempts(ctx context.Context) bool {
	remaining := p.receiveAttemptDelay - time.Since(p.lastReceiveAttempt)
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}

	select {
	case <-time.After(remaining):
	case <-ctx.Done():
		return false
	}

	p.lastReceiveAttempt = time.Now()
	return true
}

// Close stops the poll loop at its next iteration.
func (p *Poller) Close() { p.closed.Store(true) }

// Closed reports whether Close has been called.
func (p *Poller) Closed() bool { return p.closed.Load() }
