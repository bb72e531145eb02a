package broker

import (
	"context"
	"errors"
	"sync"

	"order-payment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrBusClosed = errors.New("event bus closed")

// LocalBus is the in-process event stream used when no Kafka brokers are
// configured. One goroutine drains it, so delivery order is publish order.
type LocalBus struct {
	ch        chan kafka.Message
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func NewLocalBus(buffer int) *LocalBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &LocalBus{
		ch:     make(chan kafka.Message, buffer),
		done:   make(chan struct{}),
		logger: util.GetLogger(),
	}
}

// PublishEvent enqueues the event, blocking while the buffer is full
func (b *LocalBus) PublishEvent(ctx context.Context, key string, event interface{}) error {
	msg, err := encode(key, event)
	if err != nil {
		return err
	}

	select {
	case <-b.done:
		return ErrBusClosed
	default:
	}

	select {
	case b.ch <- msg:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartConsuming runs handler for every message until ctx is cancelled or the
// bus is closed. A failing message is retried before the next one is taken.
func (b *LocalBus) StartConsuming(ctx context.Context, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case msg := <-b.ch:
			if err := handleWithRetry(ctx, b.logger, handler, msg); err != nil {
				return err
			}
		}
	}
}

// Close stops the bus. Messages still buffered are dropped.
func (b *LocalBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		if n := len(b.ch); n > 0 {
			b.logger.Warn("Dropping undelivered events", zap.Int("count", n))
		}
	})
	return nil
}
