package sqs

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelarena/llm-evaluator/internal/adapter/observability"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

// visibilityAPI is the single queue call the extender issues.
type visibilityAPI interface {
	ChangeVisibility(ctx context.Context, receiptHandle string) error
}

// inFlightMessage is the registry entry for one message being handled.
type inFlightMessage struct {
	messageID     string
	receiptHandle string
	startedAt     time.Time
	lastExtension time.Time
}

// Extender keeps in-flight messages invisible to other consumers by
// resetting their visibility timeout on a fixed interval. The registry
// is ordered by last extension time, so a scan can stop at the first
// entry that is not yet due.
type Extender struct {
	client visibilityAPI

	extensionInterval time.Duration
	maxProcessingTime time.Duration
	shutdownTimeout   time.Duration

	mu      sync.Mutex
	order   *list.List               // *inFlightMessage, oldest extension first
	entries map[string]*list.Element // message_id -> element in order

	closed   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewExtender constructs an Extender; Start launches its loop.
func NewExtender(client visibilityAPI, extensionInterval, maxProcessingTime, shutdownTimeout time.Duration) *Extender {
	return &Extender{
		client:            client,
		extensionInterval: extensionInterval,
		maxProcessingTime: maxProcessingTime,
		shutdownTimeout:   shutdownTimeout,
		order:             list.New(),
		entries:           make(map[string]*list.Element),
		closed:            make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Start launches the background extension loop.
func (e *Extender) Start() {
	go e.extensionLoop()
}

func (e *Extender) extensionLoop() {
	defer close(e.done)
	ticker := time.NewTicker(e.extensionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.extendDueMessages(time.Now())
		}
	}
}

// extendDueMessages scans the registry in extension order, issues a
// visibility reset for every due message, and moves extended entries to
// the tail. Messages past the processing ceiling are left to expire and
// be redelivered.
func (e *Extender) extendDueMessages(now time.Time) {
	type target struct {
		messageID     string
		receiptHandle string
	}
	var due []target

	e.mu.Lock()
	for el := e.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*inFlightMessage)
		if now.Sub(entry.lastExtension) < e.extensionInterval {
			// Ordered by last extension, so nothing further is due.
			break
		}
		if now.Sub(entry.startedAt) > e.maxProcessingTime {
			slog.Error("message exceeded max processing time, will not extend visibility",
				slog.String("message_id", entry.messageID))
			continue
		}
		due = append(due, target{entry.messageID, entry.receiptHandle})
	}
	e.mu.Unlock()

	for _, t := range due {
		slog.Debug("extending visibility timeout", slog.String("message_id", t.messageID))
		if err := e.client.ChangeVisibility(context.Background(), t.receiptHandle); err != nil {
			slog.Warn("failed to extend visibility",
				slog.String("message_id", t.messageID),
				slog.Any("error", err))
			continue
		}
		observability.VisibilityExtensionsTotal.Inc()

		e.mu.Lock()
		if el, ok := e.entries[t.messageID]; ok {
			el.Value.(*inFlightMessage).lastExtension = now
			e.order.MoveToBack(el)
		}
		e.mu.Unlock()
	}
}

// Register adds a message to the registry. It must be called before the
// handler is dispatched so a slow first invocation is already covered.
func (e *Extender) Register(messageID, receiptHandle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.entries[messageID]; ok {
		return fmt.Errorf("op=extender.Register: %w: message %s already in flight", domain.ErrConflict, messageID)
	}
	now := time.Now()
	el := e.order.PushBack(&inFlightMessage{
		messageID:     messageID,
		receiptHandle: receiptHandle,
		startedAt:     now,
		lastExtension: now,
	})
	e.entries[messageID] = el
	return nil
}

// Unregister removes a message from the registry. It runs on both the
// success and failure paths so the registry cannot leak.
func (e *Extender) Unregister(messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if el, ok := e.entries[messageID]; ok {
		e.order.Remove(el)
		delete(e.entries, messageID)
	}
}

// Registered reports whether a message is currently tracked.
func (e *Extender) Registered(messageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.entries[messageID]
	return ok
}

// Close stops the loop and waits for it up to the shutdown timeout.
func (e *Extender) Close() {
	e.stopOnce.Do(func() { close(e.closed) })
	select {
	case <-e.done:
	case <-time.After(e.shutdownTimeout):
		slog.Warn("visibility extender did not stop within shutdown timeout")
	}
}
