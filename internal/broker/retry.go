package broker

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedEvent marks a message no handler can ever accept
var ErrMalformedEvent = errors.New("malformed event")

var (
	retryInitialDelay = 200 * time.Millisecond
	retryMaxDelay     = 30 * time.Second
)

// handleWithRetry runs handler on msg until it succeeds or ctx ends. A
// malformed message is dropped since retrying cannot fix it.
func handleWithRetry(ctx context.Context, logger *zap.Logger, handler MessageHandler, msg kafka.Message) error {
	delay := retryInitialDelay
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrMalformedEvent) {
			logger.Error("Dropping malformed message",
				zap.String("key", string(msg.Key)),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return nil
		}

		logger.Warn("Error handling message, retrying",
			zap.String("key", string(msg.Key)),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}
