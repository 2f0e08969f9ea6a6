package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"payjs-be/internal/logger"

	"go.uber.org/zap"
)

// Handler consumes one event. Handlers must tolerate redelivery: an event
// is retried as a whole when any of its handlers fails.
type Handler func(ctx context.Context, e Event) error

type Relay struct {
	store       Store
	interval    time.Duration
	batchSize   int
	maxAttempts int
	lease       time.Duration

	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewRelay(store Store, interval time.Duration, batchSize, maxAttempts int) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Relay{
		store:       store,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		lease:       30 * time.Second,
		handlers:    make(map[string][]Handler),
	}
}

func (r *Relay) Subscribe(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], h)
}

// Run polls the store until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	log := logger.L().With(zap.String("component", "outbox_relay"))
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("relay stopping")
			return nil
		case <-t.C:
			if _, err := r.Drain(ctx); err != nil {
				log.Error("relay batch failed", zap.Error(err))
			}
		}
	}
}

// Drain delivers one batch and returns how many events were sent.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.batchSize, r.maxAttempts, r.lease)
	if err != nil {
		return 0, fmt.Errorf("lock batch: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	sent := make([]int64, 0, len(events))
	for _, e := range events {
		if err := r.dispatch(ctx, e); err != nil {
			logger.L().Warn("outbox delivery failed",
				zap.Int64("event_id", e.ID),
				zap.String("type", e.Type),
				zap.String("aggregate_id", e.AggregateID),
				zap.Int("attempts", e.Attempts+1),
				zap.Error(err),
			)
			if mErr := r.store.MarkFailed(ctx, e.ID, err.Error()); mErr != nil {
				logger.L().Error("outbox mark failed", zap.Int64("event_id", e.ID), zap.Error(mErr))
			}
			continue
		}
		sent = append(sent, e.ID)
	}

	if len(sent) > 0 {
		if err := r.store.MarkSent(ctx, sent); err != nil {
			return 0, fmt.Errorf("mark sent: %w", err)
		}
	}
	return len(sent), nil
}

func (r *Relay) dispatch(ctx context.Context, e Event) error {
	r.mu.RLock()
	handlers := r.handlers[e.Type]
	r.mu.RUnlock()

	if len(handlers) == 0 {
		logger.L().Warn("outbox event has no subscribers", zap.String("type", e.Type), zap.Int64("event_id", e.ID))
		return nil
	}

	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
