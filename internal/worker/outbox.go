package worker

import (
	"context"
	"encoding/json"
	"time"

	"order-payment-service/internal/broker"
	"order-payment-service/internal/models"
	"order-payment-service/internal/util"

	"go.uber.org/zap"
)

// OutboxStore hands out committed events that were not yet published
type OutboxStore interface {
	RelayOutbox(ctx context.Context, limit int, publish func(ctx context.Context, msg models.OutboxMessage) error) (int, error)
}

// OutboxRelay publishes outbox rows onto the event stream and marks them
// sent. A row whose publish fails stays pending and is retried on the next
// pass, so delivery is at least once.
type OutboxRelay struct {
	store    OutboxStore
	writer   broker.MessageWriter
	interval time.Duration
	batch    int
	wake     chan struct{}
	logger   *zap.Logger
}

// NewOutboxRelay creates a relay polling every interval
func NewOutboxRelay(store OutboxStore, writer broker.MessageWriter, interval time.Duration, batch int) *OutboxRelay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &OutboxRelay{
		store:    store,
		writer:   writer,
		interval: interval,
		batch:    batch,
		wake:     make(chan struct{}, 1),
		logger:   util.GetLogger(),
	}
}

// Trigger asks for a relay pass without waiting for the next tick
func (r *OutboxRelay) Trigger() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// RelayPending publishes pending rows batch by batch and stops at the first
// failure, which keeps per-order ordering intact.
func (r *OutboxRelay) RelayPending(ctx context.Context) (int, error) {
	total := 0
	for {
		sent, err := r.store.RelayOutbox(ctx, r.batch, r.publish)
		total += sent
		if err != nil {
			util.OutboxRelayFailures.Inc()
			return total, err
		}
		if sent < r.batch {
			return total, nil
		}
	}
}

func (r *OutboxRelay) publish(ctx context.Context, msg models.OutboxMessage) error {
	if err := r.writer.PublishEvent(ctx, msg.Key, json.RawMessage(msg.Payload)); err != nil {
		return err
	}
	util.OutboxRelayedTotal.WithLabelValues(msg.EventType).Inc()
	return nil
}

// Start blocks relaying until ctx is cancelled
func (r *OutboxRelay) Start(ctx context.Context) error {
	r.logger.Info("Starting outbox relay", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if sent, err := r.RelayPending(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("Outbox relay pass failed", zap.Int("sent", sent), zap.Error(err))
		} else if sent > 0 {
			r.logger.Debug("Relayed outbox events", zap.Int("count", sent))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}
